// Package httpapi exposes the orchestrator over HTTP. Every core operation
// maps 1:1 to an endpoint under /internal; the adapter adds the shared-secret
// and owner-header gates plus optional per-owner rate limiting.
package httpapi

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig controls the per-owner request limiter. Disabled by
// default.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// ServerConfig is the YAML-loadable adapter configuration.
//
// Example:
//
//	addr: ":8080"
//	sharedSecret: "s3cret"
//	databaseDsn: "./optimizations.db"
//	rateLimit:
//	  enabled: true
//	  requests: 60
//	  window: 1m
type ServerConfig struct {
	Addr         string          `yaml:"addr"`
	SharedSecret string          `yaml:"sharedSecret"`
	DatabaseDSN  string          `yaml:"databaseDsn"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
}

// DefaultServerConfig returns the configuration used when no file is given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr: ":8080",
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
	}
}

// LoadServerConfig reads a YAML config file and applies environment
// overrides. path may be empty to start from defaults.
//
// Overrides: OPTIMIZATION_ORCHESTRATOR_SECRET replaces sharedSecret,
// OPTIMIZATION_DB_DSN replaces databaseDsn.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if secret := os.Getenv("OPTIMIZATION_ORCHESTRATOR_SECRET"); secret != "" {
		cfg.SharedSecret = secret
	}
	if dsn := os.Getenv("OPTIMIZATION_DB_DSN"); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	return cfg.sanitize(), nil
}

func (c ServerConfig) sanitize() ServerConfig {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 60
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	return c
}
