package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kioskpos/backend/internal/cache"
	"kioskpos/backend/internal/config"
	"kioskpos/backend/internal/httpapi"
	"kioskpos/backend/internal/obs"
	"kioskpos/backend/internal/service"
	"kioskpos/backend/internal/store"
	"kioskpos/backend/internal/store/memory"
	"kioskpos/backend/internal/store/mongodb"
	pgstore "kioskpos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		cancel()
		logger.Error("repository unavailable", "error", err)
		os.Exit(1)
	}

	inventoryCache := cache.InventoryCache(cache.NoopInventoryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInventoryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", "error", err)
		} else {
			inventoryCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", "addr", cfg.RedisAddr)
		}
	} else {
		logger.Info("cache: noop")
	}
	cancel()

	svc := service.New(repo, inventoryCache, cfg.InventoryCacheTTL, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("kiosk POS backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

// openRepository picks postgres, then mongo, then the seeded in-memory store.
// A configured database that cannot be reached is fatal.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, []func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.CommitMaxAttempts)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case cfg.MongoURI != "":
		mg, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.CommitMaxAttempts)
		if err != nil {
			return nil, nil, fmt.Errorf("mongodb: %w", err)
		}
		if err := mg.EnsureIndexes(ctx); err != nil {
			_ = mg.Close()
			return nil, nil, fmt.Errorf("mongodb indexes: %w", err)
		}
		logger.Info("repository: mongodb", "database", cfg.MongoDatabase)
		return mg, []func() error{mg.Close}, nil
	default:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(memory.WithMaxAttempts(cfg.CommitMaxAttempts)), nil, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name a single origin")
	}
	return nil
}
