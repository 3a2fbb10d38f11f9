package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"structwatch/internal/normalize"
)

const (
	EnvConfig      = "STRUCTWATCH_CONFIG"
	EnvDataDir     = "DATA_DIR"
	EnvLogLevel    = "STRUCTWATCH_LOG_LEVEL"
	EnvWorkers     = "STRUCTWATCH_WORKERS"
	EnvTargetsFile = "STRUCTWATCH_TARGETS_FILE"
)

// LoadEnvFiles загружает .env из рабочего каталога. Отсутствие файла не ошибка,
// уже заданные переменные окружения не перезаписываются
func LoadEnvFiles() error {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// ResolvePath выбирает файл конфига: флаг, затем STRUCTWATCH_CONFIG.
// Пустая строка означает встроенные значения
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfig)
}

// LoadConfig накладывает YAML из filePath на значения по умолчанию, применяет
// переменные окружения и валидирует результат. Пустой путь пропускает файл
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()
	baseDir := "."

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		baseDir = filepath.Dir(filePath)
	}

	// Окружение сильнее файла
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.TargetsFile != "" {
		targetsPath := cfg.TargetsFile
		// Относительный путь считаем от файла конфига
		if !filepath.IsAbs(targetsPath) {
			targetsPath = filepath.Join(baseDir, targetsPath)
		}
		targets, err := LoadTargets(targetsPath)
		if err != nil {
			return nil, err
		}
		cfg.Targets = targets
	}

	// Нормализуем URL целей
	for i := range cfg.Targets {
		cfg.Targets[i].URL = normalize.NormalizeURL(cfg.Targets[i].URL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Observability.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWorkers, v, err)
		}
		cfg.Workers = workers
	}
	if v := os.Getenv(EnvTargetsFile); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTargetsFile, v, err)
		}
		cfg.TargetsFile = abs
	}
	return nil
}
