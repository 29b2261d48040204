package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// Validation errors
var (
	ErrEmptyDSN        = errors.New("storage.dsn must not be empty")
	ErrInvalidBaseURL  = errors.New("fetch.base_url must be an absolute http or https URL")
	ErrInvalidTimeout  = errors.New("fetch.timeout must be positive")
	ErrInvalidInterval = errors.New("scan.request_interval must not be negative")
	ErrInvalidSchedule = errors.New("scan.schedule is not a valid cron expression")
)

// Config is the complete runtime configuration of asinscan.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Extract ExtractConfig `yaml:"extract"`
	Scan    ScanConfig    `yaml:"scan"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// FetchConfig controls how product pages are requested.
type FetchConfig struct {
	BaseURL        string        `yaml:"base_url"`
	UserAgent      string        `yaml:"user_agent"`
	AcceptLanguage string        `yaml:"accept_language"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// ExtractConfig names the page sections pulled into the joined text.
type ExtractConfig struct {
	TitleSelector           string    `yaml:"title_selector"`
	MetaDescriptionSelector string    `yaml:"meta_description_selector"`
	Sections                []Section `yaml:"sections"`
}

// Section is one structured part of a product page.
type Section struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
}

// ScanConfig controls batch runs.
type ScanConfig struct {
	// Pause after every target in a batch run
	RequestInterval time.Duration `yaml:"request_interval"`
	// Cron expression used by `serve` to trigger batch runs
	Schedule string `yaml:"schedule"`
	// Default cap on targets per batch run, 0 = all
	Limit int `yaml:"limit"`
}

// ServerConfig controls the HTTP trigger surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
	File     string `yaml:"file"`
	Debug    bool   `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DSN: "asinscan.db",
		},
		Fetch: FetchConfig{
			BaseURL:        "https://www.amazon.de",
			UserAgent:      "ASINScanner/1.0 (+https://yourdomain.example)",
			AcceptLanguage: "en-US,en;q=0.9,de;q=0.8",
			Timeout:        20 * time.Second,
			MaxBodyBytes:   10 << 20,
		},
		Extract: ExtractConfig{
			TitleSelector:           "title",
			MetaDescriptionSelector: `meta[name="description"]`,
			Sections: []Section{
				{Name: "description", Selector: "#productDescription"},
				{Name: "feature-bullets", Selector: "#feature-bullets"},
				{Name: "detail", Selector: "#detailBullets_feature_div"},
			},
		},
		Scan: ScanConfig{
			RequestInterval: 2 * time.Second,
			Schedule:        "0 */6 * * *",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// ~/.asinscan/config.yaml when path is empty) and ASINSCAN_* environment
// variables, in that order.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = ReadConfigFile(path)
	} else {
		cfg, err = LoadConfigFile()
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the scanner cannot run with.
func (c *Config) Validate() error {
	if c.Storage.DSN == "" {
		return ErrEmptyDSN
	}

	u, err := url.Parse(c.Fetch.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}

	if c.Fetch.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Scan.RequestInterval < 0 {
		return ErrInvalidInterval
	}

	if c.Scan.Schedule != "" {
		if _, err := cron.ParseStandard(c.Scan.Schedule); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}

	return nil
}

// applyEnv overrides values from ASINSCAN_* environment variables.
func (c *Config) applyEnv() {
	c.Storage.DSN = getEnv("ASINSCAN_DB_DSN", c.Storage.DSN)
	c.Fetch.BaseURL = getEnv("ASINSCAN_BASE_URL", c.Fetch.BaseURL)
	c.Fetch.UserAgent = getEnv("ASINSCAN_USER_AGENT", c.Fetch.UserAgent)
	c.Fetch.AcceptLanguage = getEnv("ASINSCAN_ACCEPT_LANGUAGE", c.Fetch.AcceptLanguage)
	c.Fetch.Timeout = getEnvDuration("ASINSCAN_HTTP_TIMEOUT", c.Fetch.Timeout)
	c.Scan.RequestInterval = getEnvDuration("ASINSCAN_REQUEST_INTERVAL", c.Scan.RequestInterval)
	c.Scan.Schedule = getEnv("ASINSCAN_SCHEDULE", c.Scan.Schedule)
	c.Scan.Limit = getEnvInt("ASINSCAN_LIMIT", c.Scan.Limit)
	c.Server.Addr = getEnv("ASINSCAN_ADDR", c.Server.Addr)
	c.Log.Level = getEnv("ASINSCAN_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("ASINSCAN_LOG_FILE", c.Log.File)
	if v := os.Getenv("ASINSCAN_DEBUG"); v != "" {
		c.Log.Debug = v == "1" || v == "true"
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration parses a duration from environment variable or returns default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvInt parses an int from environment variable or returns default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
