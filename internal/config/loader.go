package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads a .env file when
// present and applies CAZINO_* overrides. A missing file is not an error.
// The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)

	return &cfg, nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "CAZINO_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform convention
	setDuration(&cfg.Server.RequestTimeout, "CAZINO_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "CAZINO_SERVER_SHUTDOWN_TIMEOUT")
	setStr(&cfg.Server.AllowedOrigin, "CAZINO_SERVER_ALLOWED_ORIGIN")

	// ── Store ──
	setStr(&cfg.Store.Backend, "CAZINO_STORE_BACKEND")
	setStr(&cfg.Store.PostgresDSN, "CAZINO_STORE_POSTGRES_DSN")
	setStr(&cfg.Store.MySQLDSN, "CAZINO_STORE_MYSQL_DSN")
	setBool(&cfg.Store.RunMigrations, "CAZINO_STORE_RUN_MIGRATIONS")
	setInt(&cfg.Store.MaxConns, "CAZINO_STORE_MAX_CONNS")
	if os.Getenv("CAZINO_STORE_BACKEND") == "" && os.Getenv("DATABASE_URL") != "" {
		cfg.Store.Backend = "postgres"
		cfg.Store.PostgresDSN = os.Getenv("DATABASE_URL")
	}

	// ── Redis ──
	setStr(&cfg.Redis.URL, "CAZINO_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "CAZINO_REDIS_CACHE_TTL")
	setBool(&cfg.Redis.Locks, "CAZINO_REDIS_LOCKS")
	setDuration(&cfg.Redis.LockTTL, "CAZINO_REDIS_LOCK_TTL")
	setBool(&cfg.Redis.PubSub, "CAZINO_REDIS_PUBSUB")
	setStr(&cfg.Redis.Channel, "CAZINO_REDIS_CHANNEL")

	// ── Archive ──
	setStr(&cfg.Archive.Bucket, "CAZINO_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.Region, "CAZINO_ARCHIVE_REGION")
	setStr(&cfg.Archive.Endpoint, "CAZINO_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.AccessKey, "CAZINO_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "CAZINO_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "CAZINO_ARCHIVE_FORCE_PATH_STYLE")

	// ── Game ──
	setInt64(&cfg.Game.DefaultStartingBalance, "CAZINO_GAME_DEFAULT_STARTING_BALANCE")
	setInt(&cfg.Game.MaxDurationHours, "CAZINO_GAME_MAX_DURATION_HOURS")

	setStr(&cfg.LogLevel, "CAZINO_LOG_LEVEL")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
