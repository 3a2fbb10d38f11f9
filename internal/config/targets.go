package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type targetsFile struct {
	Targets []Target `yaml:"targets"`
}

// LoadTargets загружает список целей из YAML файла
func LoadTargets(filePath string) ([]Target, error) {
	if filePath == "" {
		return nil, fmt.Errorf("targets file path is empty")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	// Неизвестные поля - ошибка, опечатка в селекторах не должна пройти молча
	var tf targetsFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&tf); err != nil {
		return nil, fmt.Errorf("failed to parse targets YAML: %w", err)
	}

	if err := validateTargets(tf.Targets); err != nil {
		return nil, fmt.Errorf("targets file %s: %w", filePath, err)
	}

	return tf.Targets, nil
}
