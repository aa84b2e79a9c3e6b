// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/artifactkit/modelcache/cache"
)

// Config holds all application configuration
type Config struct {
	// Dir is the cache root; defaults to ~/.modelcache when unset.
	Dir string `env:"MODELCACHE_DIR"`

	MaxSize       int64         `env:"MODELCACHE_MAX_SIZE_BYTES" envDefault:"524288000"`
	MaxAge        time.Duration `env:"MODELCACHE_MAX_AGE" envDefault:"168h"`
	Storage       string        `env:"MODELCACHE_STORAGE" envDefault:"bolt"`
	Compression   bool          `env:"MODELCACHE_COMPRESSION" envDefault:"false"`
	Verify        bool          `env:"MODELCACHE_VERIFY_ON_RETRIEVE" envDefault:"false"`
	SweepInterval time.Duration `env:"MODELCACHE_SWEEP_INTERVAL" envDefault:"1h"`

	// ListenAddr is where cached serves its local HTTP surface.
	ListenAddr string `env:"MODELCACHE_LISTEN_ADDR" envDefault:"127.0.0.1:8787"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.Dir = filepath.Join(home, ".modelcache")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("MODELCACHE_MAX_SIZE_BYTES must be positive, got %d", c.MaxSize)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("MODELCACHE_MAX_AGE must not be negative, got %s", c.MaxAge)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("MODELCACHE_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if !cache.StorageKind(c.Storage).Valid() {
		return fmt.Errorf("MODELCACHE_STORAGE must be one of memory, bolt, blob; got %q", c.Storage)
	}
	return nil
}

// CacheConfig converts the environment settings into a cache.Config.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Dir:                c.Dir,
		MaxSize:            c.MaxSize,
		MaxAge:             c.MaxAge,
		Storage:            cache.StorageKind(c.Storage),
		CompressionEnabled: c.Compression,
		VerifyOnRetrieve:   c.Verify,
		SweepInterval:      c.SweepInterval,
	}
}
