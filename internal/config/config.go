// Package config defines the service configuration for the forward
// engine and loads it from a TOML file with FORWARD_* environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by FORWARD_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Oracle   OracleConfig   `toml:"oracle"`
}

// ServerConfig holds HTTP listener parameters.
type ServerConfig struct {
	Port            string   `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds cache parameters. An empty URL disables the cache.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// OracleConfig bounds price snapshot staleness.
type OracleConfig struct {
	PriceMaxAge duration `toml:"price_max_age"`
}

// duration wraps time.Duration for TOML decoding of "30s"-style strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			PriceMaxAge: duration{5 * time.Minute},
		},
	}
}

// Load reads a TOML configuration file at path (skipped if path is
// empty or missing), merges it on top of the built-in defaults, applies
// FORWARD_* environment variable overrides, and returns the final
// Config.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FORWARD_* environment variables
// and overwrites the corresponding Config fields when a variable is
// set. This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Port, "FORWARD_PORT")
	setStr(&cfg.Server.Port, "PORT") // platform convention
	setDuration(&cfg.Server.ReadTimeout, "FORWARD_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "FORWARD_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "FORWARD_SHUTDOWN_TIMEOUT")

	setStr(&cfg.Database.URL, "FORWARD_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL")

	setStr(&cfg.Redis.URL, "FORWARD_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "FORWARD_CACHE_TTL")

	setDuration(&cfg.Oracle.PriceMaxAge, "FORWARD_PRICE_MAX_AGE")
}

// Validate checks the loaded configuration for operator mistakes.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port must not be empty")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port %q is not numeric", c.Server.Port)
	}
	if c.Oracle.PriceMaxAge.Duration <= 0 {
		return fmt.Errorf("oracle.price_max_age must be positive")
	}
	if c.Redis.URL != "" && c.Redis.CacheTTL.Duration <= 0 {
		return fmt.Errorf("redis.cache_ttl must be positive when redis is enabled")
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
