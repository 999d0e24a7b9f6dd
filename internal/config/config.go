// Package config handles loading and validating proxy configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the proxy.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Redis    RedisConfig    `koanf:"redis"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// DatabaseConfig holds the repository's sqlite file location.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// MetricsConfig holds the Prometheus exposition listener settings.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// RedisConfig holds the optional distributed fence-mirror settings. Addr
// empty means the mirror is disabled and the repository runs SQLite-only.
type RedisConfig struct {
	Addr string `koanf:"addr"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Env vars starting with "LLMPROXY_" override config values, with every
	// "_" after the prefix mapped to ".":
	//   LLMPROXY_SERVER_PORT -> server.port
	// Keys that themselves contain "_" (server.read_timeout,
	// server.write_timeout) cannot be reached this way.
	if err := k.Load(env.Provider("LLMPROXY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMPROXY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "llmproxy.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	// Redis address may itself carry a ${VAR} placeholder, resolved here
	// against the process environment. Channel credentials are not
	// expanded anywhere; their auth_ref is used verbatim.
	cfg.Redis.Addr = expandEnvPlaceholder(cfg.Redis.Addr)

	return &cfg, nil
}

// expandEnvPlaceholder resolves a single "${VAR_NAME}" value against the
// process environment, leaving any other string untouched.
func expandEnvPlaceholder(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}
