package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"structwatch/internal/fingerprint"
	"structwatch/internal/storage/sqlstore"
)

// Config настройки детектора: каталог состояния, цели, загрузка, хранилище и логи
type Config struct {
	DataDir       string              `yaml:"data_dir"`
	StateSubdir   string              `yaml:"state_subdir"`
	Targets       []Target            `yaml:"targets"`
	TargetsFile   string              `yaml:"targets_file"`
	Workers       int                 `yaml:"workers"`
	HTTP          HTTPConfig          `yaml:"http"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Fingerprint   FingerprintConfig   `yaml:"fingerprint"`
	Rod           RodConfig           `yaml:"rod"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Target отслеживаемая страница и упорядоченные селекторы её структуры
type Target struct {
	ID        string   `yaml:"id"`
	URL       string   `yaml:"url"`
	Selectors []string `yaml:"selectors"`
	Render    bool     `yaml:"render"`
}

type HTTPConfig struct {
	UserAgent          string `yaml:"user_agent"`
	AcceptLanguage     string `yaml:"accept_language"`
	TimeoutMS          int    `yaml:"timeout_ms"`
	MaxBodyBytes       int64  `yaml:"max_body_bytes"`
	MaxIdleConnections int    `yaml:"max_idle_connections"`
}

type RateLimitConfig struct {
	MaxConcurrentPerHost int `yaml:"max_concurrent_per_host"`
	RPM                  int `yaml:"rpm"`
}

type FingerprintConfig struct {
	Algorithm      string `yaml:"algorithm"`
	MaxMatches     int    `yaml:"max_matches"`
	TrimNBSP       bool   `yaml:"trim_nbsp"`
	CollapseSpaces bool   `yaml:"collapse_spaces"`
}

type RodConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ChromePath   string `yaml:"chrome_path"`
	RemoteURL    string `yaml:"remote_url"`
	PageTimeoutS int    `yaml:"page_timeout_s"`
}

type StorageConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
}

type ObservabilityConfig struct {
	LogDir        string `yaml:"log_dir"`
	LogLevel      string `yaml:"log_level"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
	MetricsPath   string `yaml:"metrics_path"`
}

// Default возвращает конфиг без файла: две страницы Rakuten, которые
// детектор отслеживает с самого начала
func Default() *Config {
	return &Config{
		DataDir:     ".",
		StateSubdir: "api-monitoring",
		Targets: []Target{
			{
				ID:        "ranking",
				URL:       "https://ranking.rakuten.co.jp/daily/",
				Selectors: []string{"a.ranking-item", "span.price", "span.review-count", "span.rating"},
			},
			{
				ID:        "search",
				URL:       "https://search.rakuten.co.jp/search/mall/",
				Selectors: []string{"a.item-name", "span.item-price", "span.item-review"},
			},
		},
		Workers: 4,
		HTTP: HTTPConfig{
			TimeoutMS:          10000,
			MaxBodyBytes:       10 * 1024 * 1024,
			MaxIdleConnections: 10,
		},
		RateLimit: RateLimitConfig{
			MaxConcurrentPerHost: 1,
		},
		Fingerprint: FingerprintConfig{
			Algorithm:  fingerprint.AlgorithmSHA256,
			MaxMatches: fingerprint.DefaultMaxMatches,
		},
		Rod: RodConfig{
			PageTimeoutS: 30,
		},
		Storage: StorageConfig{
			CommandTimeoutMS: 5000,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogMaxSizeMB:  100,
			LogMaxBackups: 7,
			LogMaxAgeDays: 30,
		},
	}
}

// Validation
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.StateSubdir == "" {
		return fmt.Errorf("state_subdir is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if err := validateTargets(c.Targets); err != nil {
		return err
	}
	if c.HTTP.TimeoutMS <= 0 {
		return fmt.Errorf("http.timeout_ms must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	if c.RateLimit.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("rate_limit.max_concurrent_per_host must be > 0")
	}
	if c.RateLimit.RPM < 0 {
		return fmt.Errorf("rate_limit.rpm must be >= 0")
	}
	if _, err := fingerprint.NewGenerator(c.Fingerprint.Algorithm); err != nil {
		return fmt.Errorf("fingerprint.algorithm: %w", err)
	}
	if c.Fingerprint.MaxMatches <= 0 {
		return fmt.Errorf("fingerprint.max_matches must be > 0")
	}
	if c.Rod.Enabled && c.Rod.PageTimeoutS <= 0 {
		return fmt.Errorf("rod.page_timeout_s must be > 0")
	}
	if c.Storage.Driver != "" {
		if c.Storage.Driver != sqlstore.DriverSQLite && c.Storage.Driver != sqlstore.DriverSQLServer {
			return fmt.Errorf("storage.driver must be '%s' or '%s'", sqlstore.DriverSQLite, sqlstore.DriverSQLServer)
		}
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver is set")
		}
		if c.Storage.CommandTimeoutMS <= 0 {
			return fmt.Errorf("storage.command_timeout_ms must be > 0")
		}
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("observability.log_level is required")
	}
	return nil
}

func validateTargets(targets []Target) error {
	// Идентификатор цели - ключ в baseline.json, дубликаты недопустимы
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("targets[%d].id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true

		if t.URL == "" {
			return fmt.Errorf("target %q: url is required", t.ID)
		}
		if len(t.Selectors) == 0 {
			return fmt.Errorf("target %q: at least one selector is required", t.ID)
		}
		for _, sel := range t.Selectors {
			if _, err := fingerprint.CompileSelector(sel); err != nil {
				return fmt.Errorf("target %q: %w", t.ID, err)
			}
		}
	}
	return nil
}

// Getters
func (c *Config) GetStateDir() string {
	return filepath.Join(c.DataDir, c.StateSubdir)
}

func (c *Config) GetLogDir() string {
	if c.Observability.LogDir != "" {
		return c.Observability.LogDir
	}
	return filepath.Join(c.DataDir, "logs")
}

// GetLogPath возвращает дневной лог-файл structwatch_YYYYMMDD.log
func (c *Config) GetLogPath(now time.Time) string {
	return filepath.Join(c.GetLogDir(), fmt.Sprintf("structwatch_%s.log", now.Format("20060102")))
}

func (c *Config) GetHTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutMS) * time.Millisecond
}

func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Storage.CommandTimeoutMS) * time.Millisecond
}

func (c *Config) GetRodPageTimeout() time.Duration {
	return time.Duration(c.Rod.PageTimeoutS) * time.Second
}
