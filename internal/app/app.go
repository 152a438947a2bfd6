// Package app assembles the stats service from configuration for the binaries in cmd/.
package app

import (
	"context"
	"fmt"

	config "github.com/glup3/ghstats/internal"
	"github.com/glup3/ghstats/internal/cache"
	database "github.com/glup3/ghstats/internal/db"
	"github.com/glup3/ghstats/internal/github"
	"github.com/glup3/ghstats/internal/loader"
	"github.com/glup3/ghstats/internal/metrics"
	"github.com/glup3/ghstats/internal/repository"
	"github.com/glup3/ghstats/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config  *config.Config
	GitHub  *github.Client
	Service *stats.Service
	Metrics *metrics.Metrics

	closers []func()
}

// NewGitHubClient builds the upstream client alone, without touching the cache backend.
func NewGitHubClient(configs *config.Config) (*github.Client, error) {
	return github.NewClient(configs.GitHubToken, github.Options{
		APIURL:  configs.GitHubAPIURL,
		Timeout: configs.UpstreamTimeout,
	})
}

// New connects the configured cache backend and builds the service on top of a
// retrying GitHub source. Metrics are registered with reg.
func New(ctx context.Context, configs *config.Config, reg prometheus.Registerer) (*App, error) {
	client, err := NewGitHubClient(configs)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := OpenStore(ctx, configs)
	if err != nil {
		return nil, err
	}

	source := loader.NewLoader(client, loader.Options{
		Timeout: configs.UpstreamTimeout,
		Retries: configs.UpstreamRetries,
	})

	m := metrics.New(reg)

	service := stats.NewService(source, store,
		stats.WithConcurrency(configs.UpstreamConcurrency),
		stats.WithRefreshTimeout(configs.RefreshTimeout),
		stats.WithObserver(m),
	)

	return &App{
		Config:  configs,
		GitHub:  client,
		Service: service,
		Metrics: m,
		closers: []func(){closeStore},
	}, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// OpenStore returns the stats.Store selected by CACHE_BACKEND and a function releasing it.
func OpenStore(ctx context.Context, configs *config.Config) (stats.Store, func(), error) {
	switch configs.CacheBackend {
	case config.BackendRedis:
		store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			URL: configs.RedisURL,
			TTL: configs.CacheTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.BackendPostgres:
		db, err := database.NewDatabase(ctx, configs.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("unable to ping database: %w", err)
		}

		log.Info().Msg("postgres cache connected")
		return repository.NewCacheRepository(db), db.Close, nil

	default:
		log.Info().Msg("using in-memory cache")
		store := cache.NewMemoryStore()
		return store, func() { _ = store.Close() }, nil
	}
}
