// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable via WARDEN_STORE.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config holds every tunable of the service. The allowed origins drive both
// the relying-party-id hash check and the exact origin string check, so the
// registration and authentication flows always see the same set.
type Config struct {
	ListenAddr     string        `env:"WARDEN_LISTEN_ADDR"     envDefault:":9000"`
	AllowedOrigins []string      `env:"WARDEN_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:9000"`
	AccessTTL      time.Duration `env:"WARDEN_ACCESS_TTL"      envDefault:"10m"`
	RefreshTTL     time.Duration `env:"WARDEN_REFRESH_TTL"     envDefault:"8h"`
	ChallengeTTL   time.Duration `env:"WARDEN_CHALLENGE_TTL"   envDefault:"5m"`
	RateCapacity   int           `env:"WARDEN_RATE_CAPACITY"   envDefault:"60"`
	RateRefill     time.Duration `env:"WARDEN_RATE_REFILL"     envDefault:"1m"`
	Store          string        `env:"WARDEN_STORE"           envDefault:"memory"`
	RedisURL       string        `env:"WARDEN_REDIS_URL"       envDefault:"redis://localhost:6379/0"`
	SQLitePath     string        `env:"WARDEN_SQLITE_PATH"     envDefault:"warden.db"`
	SweepInterval  time.Duration `env:"WARDEN_SWEEP_INTERVAL"  envDefault:"1m"`
	SecureCookies  bool          `env:"WARDEN_SECURE_COOKIES"  envDefault:"false"`
}

// Load parses configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin is required")
	}
	for _, origin := range c.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Hostname() == "" {
			return fmt.Errorf("invalid allowed origin %q", origin)
		}
	}
	switch c.Store {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	return nil
}
