// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/errs"
)

// Cache backends
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// Allowed CORS origins; empty allows all
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=none memory redis"`
	MaxEntries int64         `yaml:"max_entries" validate:"gte=0"`
	TTL        time.Duration `yaml:"ttl" validate:"gte=0"`
	RedisAddr  string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB    int           `yaml:"redis_db" validate:"gte=0"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the full service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   engine.Config  `yaml:"engine"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Engine: engine.Config{
			DefaultMonteCarloRuns: engine.DefaultMonteCarloRuns,
			MaxMonteCarloRuns:     engine.MaxMonteCarloRuns,
		},
		Cache: CacheConfig{
			Backend:    CacheMemory,
			MaxEntries: 1000,
			TTL:        time.Hour,
		},
		Log: LogConfig{Level: "info", Pretty: true},
	}
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the supported environment variables
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("VALUATION_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Backend = CacheRedis
	}
	if v := getenv("CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("VALUATION_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Configuration("VALUATION_WORKERS", "%q is not an integer", v)
		}
		c.Engine.Workers = n
	}
	return nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errs.Wrap(errs.ConfigurationInvalid, "config", err, "invalid configuration")
	}
	if c.Engine.Workers < 0 {
		return errs.Configuration("engine.workers", "%d must be >= 0", c.Engine.Workers)
	}
	if c.Engine.FailureThreshold < 0 || c.Engine.FailureThreshold > 1 {
		return errs.Configuration("engine.failure_threshold", "%g must be within [0, 1]", c.Engine.FailureThreshold)
	}
	if c.Engine.DefaultMonteCarloRuns > c.Engine.MaxMonteCarloRuns && c.Engine.MaxMonteCarloRuns > 0 {
		return errs.Configuration("engine.default_monte_carlo_runs", "%d exceeds max_monte_carlo_runs %d",
			c.Engine.DefaultMonteCarloRuns, c.Engine.MaxMonteCarloRuns)
	}
	return nil
}
