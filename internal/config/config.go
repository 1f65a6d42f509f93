// Package config loads the YAML configuration shared by the usfmdoc
// commands.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/internal/logging"
)

// Config is the top-level configuration file.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Parser ParserConfig `yaml:"parser"`
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Watch  WatchConfig  `yaml:"watch"`
}

// LogConfig selects the log level ("debug", "info", "warn", "error") and
// format ("json", "text").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ParserConfig tunes book parsing.
type ParserConfig struct {
	// Workers is the number of chapters parsed in parallel; 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`

	// RateLimit is the number of requests per minute allowed from one
	// client address; 0 disables limiting.
	RateLimit int `yaml:"rate_limit"`
	RateBurst int `yaml:"rate_burst"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Parser: ParserConfig{Workers: 0},
		Server: ServerConfig{
			Port:         8080,
			CacheTTL:     10 * time.Minute,
			MaxBodyBytes: 16 << 20,
			RateBurst:    10,
		},
		Store: StoreConfig{Path: "usfmdoc.db"},
		Watch: WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// Load reads a configuration file over the defaults and validates it. An
// empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. It returns a *errors.ValidationError naming
// the first bad field.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.NewValidation("log.level", c.Log.Level, err.Error())
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return errors.NewValidation("log.format", c.Log.Format, err.Error())
	}
	if c.Parser.Workers < 0 {
		return errors.NewValidation("parser.workers", fmt.Sprint(c.Parser.Workers), "must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.NewValidation("server.port", fmt.Sprint(c.Server.Port), "must be between 0 and 65535")
	}
	if c.Server.CacheTTL < 0 {
		return errors.NewValidation("server.cache_ttl", c.Server.CacheTTL.String(), "must not be negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.NewValidation("server.max_body_bytes", fmt.Sprint(c.Server.MaxBodyBytes), "must be positive")
	}
	if c.Server.RateLimit < 0 {
		return errors.NewValidation("server.rate_limit", fmt.Sprint(c.Server.RateLimit), "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		return errors.NewValidation("server.rate_burst", fmt.Sprint(c.Server.RateBurst), "must be positive when rate_limit is set")
	}
	if c.Store.Path == "" {
		return errors.NewValidation("store.path", "", "is required")
	}
	if c.Watch.Debounce < 0 {
		return errors.NewValidation("watch.debounce", c.Watch.Debounce.String(), "must not be negative")
	}
	return nil
}

// InitLogging points the default logger at stderr using c.Log. Command
// output on stdout stays clean.
func (c *Config) InitLogging() {
	level, _ := logging.ParseLevel(c.Log.Level)
	format, _ := logging.ParseFormat(c.Log.Format)
	logging.Configure(os.Stderr, level, format)
}
