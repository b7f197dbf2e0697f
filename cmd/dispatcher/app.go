package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/followups/internal/backoff"
	"github.com/ashureev/followups/internal/config"
	"github.com/ashureev/followups/internal/delivery"
	"github.com/ashureev/followups/internal/dispatch"
	"github.com/ashureev/followups/internal/lease"
	"github.com/ashureev/followups/internal/store"
	"github.com/ashureev/followups/internal/telemetry"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	repo    store.Repository
	redis   *redis.Client
	metrics *telemetry.Metrics
}

// openApp loads configuration and connects to the store.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	repo, err := store.Open(ctx, cfg.StoreDriver, cfg.DBPath, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "driver", cfg.StoreDriver)

	a := &app{cfg: cfg, repo: repo, metrics: telemetry.New()}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis health check: %w", err)
		}
		slog.Info("Redis connected", "addr", cfg.RedisAddr)
	}
	return a, nil
}

// Close releases the store and redis connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("Failed to close redis client", "error", err)
		}
	}
	if err := a.repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}

// sender builds the retrying delivery client. Without a provider URL
// messages are only logged.
func (a *app) sender() *delivery.Client {
	var provider delivery.Provider
	if a.cfg.DeliveryEnabled() {
		provider = delivery.NewHTTPProvider(a.cfg.Delivery.URL, a.cfg.Delivery.APIKey, a.cfg.Delivery.From, a.cfg.Delivery.Timeout)
	} else {
		slog.Warn("DELIVERY_URL not set, messages will be logged and not sent")
		provider = delivery.NewLogProvider(slog.Default())
	}
	base := a.cfg.Delivery.BackoffBase
	return delivery.NewClient(provider,
		delivery.WithMaxAttempts(a.cfg.Delivery.MaxAttempts),
		delivery.WithBackoff(backoff.NewExponential(base, 4*base)),
		delivery.WithLogger(slog.Default()),
		delivery.WithAttemptHook(a.metrics.DeliveryAttempt),
	)
}

// locker serializes passes across replicas through redis when available.
func (a *app) locker() lease.Locker {
	if a.redis != nil {
		return lease.NewRedisLocker(a.redis)
	}
	return lease.NewLocalLocker()
}

// dispatcher wires the engine with the given extra observers.
func (a *app) dispatcher(observers ...dispatch.Observer) *dispatch.Dispatcher {
	d := a.cfg.Dispatch
	opts := []dispatch.Option{
		dispatch.WithLogger(slog.Default()),
		dispatch.WithPacing(d.Pacing),
		dispatch.WithWorkers(d.Workers),
		dispatch.WithLocker(a.locker(), d.PassTimeout),
		dispatch.WithExcludeStatuses(d.ExcludeStatuses),
		dispatch.WithDefaultMonthlyLimit(d.DefaultMonthlyLimit),
		dispatch.WithObserver(a.metrics),
	}
	for _, o := range observers {
		opts = append(opts, dispatch.WithObserver(o))
	}
	return dispatch.New(a.repo, a.sender(), opts...)
}
