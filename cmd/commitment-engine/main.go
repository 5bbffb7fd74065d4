package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/terra-clan/commitment-engine/internal/allocation"
	"github.com/terra-clan/commitment-engine/internal/api"
	"github.com/terra-clan/commitment-engine/internal/catalog"
	"github.com/terra-clan/commitment-engine/internal/config"
	"github.com/terra-clan/commitment-engine/internal/health"
	"github.com/terra-clan/commitment-engine/internal/lock"
	"github.com/terra-clan/commitment-engine/internal/logging"
	"github.com/terra-clan/commitment-engine/internal/metrics"
	"github.com/terra-clan/commitment-engine/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger, logCloser, err := logging.New(logging.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("starting commitment-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"lock", cfg.Lock.Backend,
	)

	metrics.Register(prometheus.DefaultRegisterer)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	checks := health.NewRegistry()

	repo, closeRepo, err := openRepository(initCtx, cfg, checks)
	if err != nil {
		slog.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeRepo()
	checks.Register("storage", health.CheckFunc(repo.Ping))

	// Load image catalog
	images := catalog.NewLoader()
	if err := images.LoadFromDir(cfg.Catalog.Dir); err != nil {
		slog.Warn("failed to load catalog from dir", "dir", cfg.Catalog.Dir, "error", err)
	}
	slog.Info("catalog loaded", "images", len(images.List()))

	locker, closeLocker, err := openLocker(cfg, checks)
	if err != nil {
		slog.Error("failed to create lock backend", "backend", cfg.Lock.Backend, "error", err)
		os.Exit(1)
	}
	defer closeLocker()

	// Initialize allocation service
	service := allocation.NewService(repo, images,
		allocation.WithLocker(locker),
		allocation.WithRetry(cfg.Allocation.MaxAttempts, cfg.Allocation.RetryBackoff),
	)

	// Setup HTTP server
	server := api.NewServer(cfg.Server, service, images, checks)
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("commitment-engine stopped")
}

// openRepository opens the configured storage engine. The returned func
// closes the repository and any health check connections it registered.
func openRepository(ctx context.Context, cfg *config.Config, checks *health.Registry) (storage.Repository, func(), error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		if cfg.Database.AutoMigrate {
			slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
			if err := storage.MigrateFromDSN(ctx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.Database.DSN,
			MaxOpenConns: int32(cfg.Database.MaxOpenConns),
			MaxIdleConns: int32(cfg.Database.MaxIdleConns),
		})
		if err != nil {
			return nil, nil, err
		}

		pgCheck, err := health.NewPostgresCheck(cfg.Database.DSN)
		if err != nil {
			repo.Close()
			return nil, nil, err
		}
		checks.Register("postgres", pgCheck)

		slog.Info("database connected successfully")
		return repo, func() {
			checks.Unregister("postgres")
			if err := pgCheck.Close(); err != nil {
				slog.Error("postgres check close error", "error", err)
			}
			closeRepository(repo)
		}, nil

	case config.StorageSQLite:
		repo, err := storage.NewSQLiteRepository(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("sqlite ledger opened", "path", cfg.SQLite.Path)
		return repo, func() { closeRepository(repo) }, nil

	case config.StorageMemory:
		slog.Warn("using in-memory storage, progress is lost on restart")
		repo := storage.NewMemoryRepository()
		return repo, func() { closeRepository(repo) }, nil
	}

	return nil, nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
}

func closeRepository(repo storage.Repository) {
	if err := repo.Close(); err != nil {
		slog.Error("storage close error", "error", err)
	}
}

func openLocker(cfg *config.Config, checks *health.Registry) (lock.Locker, func(), error) {
	if cfg.Lock.Backend != config.LockRedis {
		return lock.NewLocal(), func() {}, nil
	}

	r, err := lock.NewRedis(lock.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Lock.TTL,
	})
	if err != nil {
		return nil, nil, err
	}
	checks.Register("redis", r)

	return r, func() {
		if err := r.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}, nil
}
