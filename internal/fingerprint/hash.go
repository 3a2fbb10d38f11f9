package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Fingerprint хеш фиксированной длины в hex, нижний регистр
type Fingerprint string

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmMD5    = "md5"
	AlgorithmXXH3   = "xxh3"
)

const hexDigits = "0123456789abcdef"

// Algorithms все поддерживаемые алгоритмы
var Algorithms = []string{AlgorithmSHA256, AlgorithmMD5, AlgorithmXXH3}

// Generator считает отпечатки выбранным алгоритмом
type Generator struct {
	algorithm string
	sum       func([]byte) []byte
}

// NewGenerator создаёт генератор для алгоритма algorithm.
// Пустое имя означает sha256
func NewGenerator(algorithm string) (*Generator, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	g := &Generator{algorithm: algorithm}

	switch algorithm {
	case "", AlgorithmSHA256:
		g.algorithm = AlgorithmSHA256
		g.sum = func(b []byte) []byte {
			h := sha256.Sum256(b)
			return h[:]
		}
	case AlgorithmMD5:
		g.sum = func(b []byte) []byte {
			h := md5.Sum(b)
			return h[:]
		}
	case AlgorithmXXH3:
		g.sum = func(b []byte) []byte {
			h := xxh3.Hash128(b).Bytes()
			return h[:]
		}
	default:
		return nil, fmt.Errorf("unknown fingerprint algorithm %q (supported: %s)", algorithm, strings.Join(Algorithms, ", "))
	}

	return g, nil
}

func (g *Generator) Algorithm() string {
	return g.algorithm
}

// HexLen длина любого отпечатка этого генератора
func (g *Generator) HexLen() int {
	return len(g.sum(nil)) * 2
}

// GenerateFingerprint хеширует UTF-8 байты text
func (g *Generator) GenerateFingerprint(text string) Fingerprint {
	return Fingerprint(hex.EncodeToString(g.sum([]byte(text))))
}

// Produced проверяет, мог ли отпечаток fp быть получен этим генератором:
// совпадают длина и шестнадцатеричный алфавит в нижнем регистре.
func (g *Generator) Produced(fp string) bool {
	if len(fp) != g.HexLen() {
		return false
	}
	for _, r := range fp {
		if !strings.ContainsRune(hexDigits, r) {
			return false
		}
	}
	return true
}
