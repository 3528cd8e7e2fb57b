// Package config loads the engine's configuration from an optional YAML
// file plus environment variables (loaded from a .env file if present).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the root configuration for cmd/exchange-engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Archival ArchivalConfig `yaml:"archival"`
	Logging  LoggingConfig  `yaml:"logging"`
	Symbols  []string       `yaml:"symbols"`
}

// ServerConfig is the HTTP ingress listener configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DepthLevels     int           `yaml:"depth_levels"`
}

// RedisConfig is the store connection configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ArchivalConfig is the optional MySQL trade-archival sink configuration.
// Archival is disabled unless DSN is non-empty.
type ArchivalConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no YAML file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
			DepthLevels:     20,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 16,
		},
		Logging: LoggingConfig{Level: "info"},
		Symbols: []string{"BTCUSDT"},
	}
}

// Load reads configPath (if non-empty) as YAML over the default
// configuration, then loads envPath (if non-empty, else ".env" if it
// exists) into the process environment, then applies env var overrides.
// An empty configPath, or an empty envPath with no ./.env present, is not
// an error: the defaults (and bare environment) are used. A named file
// that cannot be read or parsed is an error.
func Load(configPath, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("config: load env file %s: %w", envPath, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}

	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("config: at least one symbol must be registered")
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the YAML/default
// values without editing the config file, matching the teacher's .env
// convention.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXCHANGE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("EXCHANGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("EXCHANGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("EXCHANGE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("EXCHANGE_ARCHIVAL_DSN"); v != "" {
		cfg.Archival.DSN = v
	}
	if v := os.Getenv("EXCHANGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EXCHANGE_SYMBOLS"); v != "" {
		cfg.Symbols = strings.Split(v, ",")
	}
}
