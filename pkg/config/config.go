package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pario-ai/predictgate/pkg/models"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the canonical prediction backend address.
const DefaultBaseURL = "http://localhost:8000"

// MaxRetriesLimit bounds backend.max_retries.
const MaxRetriesLimit = 10

// EnvPrefix is prepended to every environment override, e.g. PREDICTGATE_API_URL.
const EnvPrefix = "PREDICTGATE"

// Config holds all predictgate configuration.
type Config struct {
	Listen  string             `yaml:"listen"`
	DBPath  string             `yaml:"db_path"`
	Backend BackendConfig      `yaml:"backend"`
	Health  HealthConfig       `yaml:"health"`
	Cache   CacheConfig        `yaml:"cache"`
	PDF     PDFConfig          `yaml:"pdf"`
	Audit   models.AuditConfig `yaml:"audit"`
	Logging LoggingConfig      `yaml:"logging"`
}

// BackendConfig defines the upstream prediction service and the retry policy
// used to reach it.
type BackendConfig struct {
	BaseURL      string        `yaml:"base_url"`
	HealthURL    string        `yaml:"health_url"`
	PredictPath  string        `yaml:"predict_path"`
	HealthPath   string        `yaml:"health_path"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Timeout      time.Duration `yaml:"timeout"`
}

// HealthBase returns the base URL health probes are sent to. It falls back
// to BaseURL when no separate health URL is configured.
func (b BackendConfig) HealthBase() string {
	if b.HealthURL != "" {
		return strings.TrimSuffix(b.HealthURL, "/")
	}
	return strings.TrimSuffix(b.BaseURL, "/")
}

// HealthConfig controls the background health monitor.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig controls the result cache.
// Backend is "memory" (default) or "sqlite".
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// PDFConfig controls the PDF proxy route.
type PDFConfig struct {
	BackendPath string        `yaml:"backend_path"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAge      time.Duration `yaml:"max_age"`
}

// LoggingConfig selects the slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "predictgate.db",
		Backend: BackendConfig{
			BaseURL:      DefaultBaseURL,
			PredictPath:  "/api/predict",
			HealthPath:   "/api/health",
			MaxRetries:   3,
			InitialDelay: time.Second,
			Timeout:      30 * time.Second,
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: 5 * time.Second,
			Timeout:  3 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
			TTL:     5 * time.Minute,
		},
		PDF: PDFConfig{
			BackendPath: "/api/pdf-basic",
			Timeout:     10 * time.Second,
			MaxAge:      time.Hour,
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "predictgate-audit.db",
			RetentionDays: 30,
			MaxTextSize:   4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// LoadOptional behaves like Load but returns Default when the file does not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// NewEnv returns a viper instance that resolves PREDICTGATE_* variables.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// ApplyEnv overrides file settings with values present in v.
func (c *Config) ApplyEnv(v *viper.Viper) {
	if s := v.GetString("api_url"); s != "" {
		c.Backend.BaseURL = s
	}
	if s := v.GetString("health_url"); s != "" {
		c.Backend.HealthURL = s
	}
	if s := v.GetString("listen"); s != "" {
		c.Listen = s
	}
	if s := v.GetString("db_path"); s != "" {
		c.DBPath = s
	}
	if s := v.GetString("log_level"); s != "" {
		c.Logging.Level = s
	}
	if s := v.GetString("log_format"); s != "" {
		c.Logging.Format = s
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validateURL("backend.base_url", c.Backend.BaseURL); err != nil {
		return err
	}
	if c.Backend.HealthURL != "" {
		if err := validateURL("backend.health_url", c.Backend.HealthURL); err != nil {
			return err
		}
	}
	if c.Backend.MaxRetries < 0 || c.Backend.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("backend.max_retries must be between 0 and %d, got %d", MaxRetriesLimit, c.Backend.MaxRetries)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Health.Enabled && (c.Health.Interval <= 0 || c.Health.Timeout <= 0) {
		return fmt.Errorf("health.interval and health.timeout must be positive")
	}
	switch c.Cache.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.PDF.Timeout <= 0 {
		return fmt.Errorf("pdf.timeout must be positive")
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", field)
	}
	return nil
}
