package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/compat"
	"github.com/sells-group/sensor-harvest/internal/events"
	"github.com/sells-group/sensor-harvest/internal/fetcher"
	"github.com/sells-group/sensor-harvest/internal/harvest"
	"github.com/sells-group/sensor-harvest/internal/monitoring"
	"github.com/sells-group/sensor-harvest/internal/provider"
	"github.com/sells-group/sensor-harvest/internal/repository"
	"github.com/sells-group/sensor-harvest/internal/resilience"
	"github.com/sells-group/sensor-harvest/internal/sensorsvc"
)

// harvestEnv holds the store, services and orchestrator needed by the
// harvest commands.
type harvestEnv struct {
	Store        *repository.SQLiteStore
	Providers    *provider.Registry
	Services     *sensorsvc.Directory
	Orchestrator *harvest.Orchestrator
	Metrics      *monitoring.Metrics
	Registry     *prometheus.Registry
	Events       events.Publisher

	closeServices func()
}

// Close releases resources held by the harvest environment.
func (he *harvestEnv) Close() {
	if he.Events != nil {
		if err := he.Events.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if he.closeServices != nil {
		he.closeServices()
	}
	if he.Store != nil {
		_ = he.Store.Close()
	}
}

// writeMetrics exports the metrics to the configured textfile, if any.
func (he *harvestEnv) writeMetrics() {
	if cfg.Metrics.Textfile == "" || he.Registry == nil {
		return
	}
	if err := monitoring.WriteTextfile(cfg.Metrics.Textfile, he.Registry); err != nil {
		zap.L().Warn("write metrics textfile", zap.Error(err))
	}
}

// initStore opens the bookkeeping store named by the config.
func initStore(_ context.Context) (*repository.SQLiteStore, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "harvest.db"
		}
		st, err := repository.NewSQLite(dsn)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func serviceConfigs() []sensorsvc.Config {
	out := make([]sensorsvc.Config, len(cfg.Services))
	for i, s := range cfg.Services {
		out[i] = sensorsvc.Config{ID: s.ID, Label: s.Label, DatabaseURL: s.DatabaseURL, Schema: s.Schema}
	}
	return out
}

// initHarvest opens the store and the services and builds the
// orchestrator. Callers should defer env.Close().
func initHarvest(ctx context.Context) (*harvestEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &harvestEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	dir, closeServices, err := sensorsvc.Connect(ctx, serviceConfigs())
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Services = dir
	env.closeServices = closeServices

	if len(cfg.Events.Brokers) > 0 {
		env.Events = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		zap.L().Info("harvest events enabled", zap.Strings("brokers", cfg.Events.Brokers), zap.String("topic", cfg.Events.Topic))
	} else {
		env.Events = events.NopPublisher{}
	}

	if err := os.MkdirAll(cfg.Harvest.TempDir, 0o755); err != nil {
		env.Close()
		return nil, eris.Wrapf(err, "create temp dir %s", cfg.Harvest.TempDir)
	}

	env.Registry = prometheus.NewRegistry()
	env.Metrics = monitoring.NewMetrics(env.Registry)
	env.Providers = provider.NewRegistry(st, provider.NewFactory())
	env.Orchestrator = harvest.NewOrchestrator(harvest.Deps{
		Store:           st,
		Providers:       env.Providers,
		Services:        dir,
		Checker:         compat.NewChecker(env.Providers),
		DefaultServices: cfg.Harvest.DefaultServices,
		TempDir:         cfg.Harvest.TempDir,
		Fetch: fetcher.Options{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		},
		Metrics:         env.Metrics,
		Events:          env.Events,
		BreakerFailures: cfg.Harvest.BreakerFailures,
		BreakerTimeout:  time.Duration(cfg.Harvest.BreakerTimeoutSecs) * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    cfg.Harvest.ImportAttempts,
			InitialBackoff: time.Duration(cfg.Harvest.ImportBackoffMs) * time.Millisecond,
			JitterFraction: 0.25,
		},
	})
	return env, nil
}

// servicePool opens a pool to one service database.
func servicePool(ctx context.Context, svc string, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "service %s: create connection pool", svc)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrapf(err, "service %s: ping database", svc)
	}
	return pool, nil
}
