// Package app wires configuration into the repository, cache and service
// shared by the server and the admin CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"quickmart/backend/internal/cache"
	"quickmart/backend/internal/config"
	"quickmart/backend/internal/logger"
	"quickmart/backend/internal/metrics"
	"quickmart/backend/internal/migrate"
	"quickmart/backend/internal/service"
	"quickmart/backend/internal/store"
	"quickmart/backend/internal/store/memory"
	pgstore "quickmart/backend/internal/store/postgres"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config   config.Config
	Log      *logger.Logger
	Repo     store.Repository
	Postgres *pgstore.Store
	Service  *service.Service

	closers []func() error
}

type Options struct {
	Metrics *metrics.POSMetrics
	// SkipCache keeps one-shot commands off Redis.
	SkipCache bool
}

// Open connects the repository and report cache described by cfg. With no
// DATABASE_URL the seeded in-memory store is used.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(openCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := migrate.MaybeAutoRun(openCtx, cfg.AutoMigrate, log, pg.DB()); err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Repo = pg
		a.Postgres = pg
		log.Info(log.WithField(ctx, "repository", "postgres"), "repository ready")
	} else {
		a.Repo = memory.NewSeeded()
		log.Info(log.WithField(ctx, "repository", "memory"), "repository ready")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" && !opts.SkipCache {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(openCtx); err != nil {
			_ = redisCache.Close()
			log.Warn(log.WithField(ctx, "redis_addr", cfg.RedisAddr), "redis unavailable, using noop report cache: "+err.Error())
		} else {
			reportCache = redisCache
			a.closers = append(a.closers, redisCache.Close)
			log.Info(log.WithField(ctx, "cache", "redis"), "report cache ready")
		}
	}

	lowStock := cfg.LowStockThreshold
	a.Service = service.New(a.Repo, service.Options{
		Location:          loc,
		Currency:          cfg.BusinessCurrency,
		LowStockThreshold: &lowStock,
		Cache:             reportCache,
		CacheTTL:          cfg.ReportCacheTTL(),
		Metrics:           opts.Metrics,
		Logger:            log,
	})
	return a, nil
}

// Close releases every connection opened by Open, newest first.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
