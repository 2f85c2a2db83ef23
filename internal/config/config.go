// Package config defines the engine configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file laid over
// Defaults and are then overridden by CAZINO_* environment variables.
type Config struct {
	Server   ServerConfig  `toml:"server"`
	Store    StoreConfig   `toml:"store"`
	Redis    RedisConfig   `toml:"redis"`
	Archive  ArchiveConfig `toml:"archive"`
	Game     GameConfig    `toml:"game"`
	LogLevel string        `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	AllowedOrigin   string   `toml:"allowed_origin"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "postgres" or "mysql".
	Backend       string `toml:"backend"`
	PostgresDSN   string `toml:"postgres_dsn"`
	MySQLDSN      string `toml:"mysql_dsn"`
	RunMigrations bool   `toml:"run_migrations"`
	MaxConns      int    `toml:"max_conns"`
}

// RedisConfig enables the Redis-backed cache, locks and event bus. All of
// them are off when URL is empty.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
	Locks    bool     `toml:"locks"`
	LockTTL  duration `toml:"lock_ttl"`
	PubSub   bool     `toml:"pubsub"`
	Channel  string   `toml:"channel"`
}

// ArchiveConfig holds S3-compatible storage for market snapshots. Archiving
// is off when Bucket is empty.
type ArchiveConfig struct {
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// GameConfig holds defaults for new markets.
type GameConfig struct {
	DefaultStartingBalance int64 `toml:"default_starting_balance"`
	MaxDurationHours       int   `toml:"max_duration_hours"`
}

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs a single in-memory instance.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			IdleTimeout:     duration{60 * time.Second},
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			AllowedOrigin:   "*",
		},
		Store: StoreConfig{
			Backend:       "memory",
			RunMigrations: true,
			MaxConns:      10,
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
			Locks:    true,
			LockTTL:  duration{10 * time.Second},
			PubSub:   true,
			Channel:  "cazino:events",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
		},
		Game: GameConfig{
			DefaultStartingBalance: 1000,
			MaxDurationHours:       24 * 7,
		},
		LogLevel: "info",
	}
}

var validBackends = map[string]bool{"memory": true, "postgres": true, "mysql": true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every invalid or missing value at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.ReadTimeout.Duration <= 0 || c.Server.WriteTimeout.Duration <= 0 {
		errs = append(errs, "server: read_timeout and write_timeout must be positive")
	}

	backend := strings.ToLower(c.Store.Backend)
	switch {
	case !validBackends[backend]:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres, mysql)", c.Store.Backend))
	case backend == "postgres" && c.Store.PostgresDSN == "":
		errs = append(errs, "store: postgres_dsn is required for the postgres backend")
	case backend == "mysql" && c.Store.MySQLDSN == "":
		errs = append(errs, "store: mysql_dsn is required for the mysql backend")
	}

	if c.Redis.URL != "" {
		if c.Redis.Locks && c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be positive")
		}
		if c.Redis.CacheTTL.Duration < 0 {
			errs = append(errs, "redis: cache_ttl must not be negative")
		}
	}

	if c.Archive.Bucket != "" && c.Archive.Region == "" {
		errs = append(errs, "archive: region is required when bucket is set")
	}

	if c.Game.DefaultStartingBalance <= 0 {
		errs = append(errs, "game: default_starting_balance must be positive")
	}
	if c.Game.MaxDurationHours < 0 {
		errs = append(errs, "game: max_duration_hours must not be negative")
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
