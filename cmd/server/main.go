package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cazino/engine/internal/api"
	"github.com/cazino/engine/internal/archive"
	"github.com/cazino/engine/internal/config"
	"github.com/cazino/engine/internal/lock"
	"github.com/cazino/engine/internal/notify"
	"github.com/cazino/engine/internal/service"
	"github.com/cazino/engine/internal/store"
)

func main() {
	configPath := flag.String("config", "cazino.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cazino stopped with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("cazino stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Store ---
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)

	// --- Redis: cache, locks, event bus ---
	var locker lock.Locker = lock.NewLocal()
	var bus *notify.RedisBus
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		if cfg.Redis.CacheTTL.Duration > 0 {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
			logger.Info("redis market cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
		}
		if cfg.Redis.Locks {
			locker = lock.NewRedis(rdb, cfg.Redis.LockTTL.Duration, 0)
			logger.Info("redis locks enabled", "ttl", cfg.Redis.LockTTL.Duration)
		}
		if cfg.Redis.PubSub {
			bus = notify.NewRedisBus(rdb, cfg.Redis.Channel, logger)
			logger.Info("redis event bus enabled", "channel", cfg.Redis.Channel)
		}
	} else {
		logger.Warn("redis not configured, running as a single instance")
	}

	// --- Archive ---
	var archiver archive.Archiver = archive.Nop{}
	if cfg.Archive.Bucket != "" {
		s3a, err := archive.NewS3(ctx, archive.S3Config{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			return err
		}
		archiver = s3a
		logger.Info("market archive enabled", "bucket", cfg.Archive.Bucket)
	}

	// --- Service and HTTP ---
	svc := service.New(st, locker,
		service.WithArchiver(archiver),
		service.WithLogger(logger),
		service.WithMaxDurationHours(cfg.Game.MaxDurationHours),
	)

	hub := api.NewHub(cfg.Server.AllowedOrigin, logger)
	var pub notify.Publisher = hub
	if bus != nil {
		pub = bus
	}
	server := api.NewServer(svc, hub, pub, api.Options{
		DefaultStartingBalance: cfg.Game.DefaultStartingBalance,
		AllowedOrigin:          cfg.Server.AllowedOrigin,
		RequestTimeout:         cfg.Server.RequestTimeout.Duration,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if bus != nil {
		g.Go(func() error {
			return bus.Relay(gctx, hub)
		})
	}

	g.Go(func() error {
		logger.Info("cazino listening", "port", cfg.Server.Port, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down cazino...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openStore connects the configured backend and returns it with its
// close function.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
		if cfg.Store.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.Store.MaxConns)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database ping: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if cfg.Store.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		logger.Info("connected to PostgreSQL")
		return pg, pool.Close, nil

	case "mysql":
		gs, err := store.NewGormStore(ctx, store.GormConfig{
			DSN:         cfg.Store.MySQLDSN,
			MaxConns:    cfg.Store.MaxConns,
			MaxIdleTime: 5 * time.Minute,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.RunMigrations {
			if err := gs.AutoMigrate(); err != nil {
				gs.Close()
				return nil, nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		logger.Info("connected to MySQL")
		return gs, func() { gs.Close() }, nil

	default:
		logger.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}
}
