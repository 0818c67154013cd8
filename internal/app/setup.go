// Package app wires the cache store, level backend and tree services from
// configuration. Both the API server and the terminal browser start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"osmlevels/internal/config"
	repo "osmlevels/internal/domain/repositories/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/repository/memory"
	"osmlevels/internal/repository/postgres"
	"osmlevels/internal/repository/rest"
	"osmlevels/internal/repository/sqlite"
	"osmlevels/internal/service/cache"
	"osmlevels/internal/service/hierarchy"
	"osmlevels/internal/service/notify"
)

// Backend holds the storage side: the TTL cache store and the level source
type Backend struct {
	Store  repo.CacheStore
	Source repo.LevelSource
	pool   *pgxpool.Pool
}

// OpenBackend connects the configured cache driver and level source. The
// Postgres pool is shared when both use it.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}

	needPool := cfg.CacheDriver == config.CacheDriverPostgres || cfg.LevelSource == config.LevelSourcePostgres
	var repoConfig *postgres.RepositoryConfig
	if needPool {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		b.pool = pool
		repoConfig = &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		}
		logger.Info("database connected", "table_prefix", cfg.TablePrefix)
	}

	switch cfg.CacheDriver {
	case config.CacheDriverPostgres:
		store := postgres.NewCacheStore(repoConfig)
		if err := store.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("cache schema: %w", err)
		}
		b.Store = store
	case config.CacheDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.CacheDBPath, cfg.TablePrefix, sqlite.WithLogger(logger))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Store = store
	case config.CacheDriverMemory:
		b.Store = memory.NewCacheStore()
	default:
		b.Close()
		return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
	logger.Info("cache store ready", "driver", cfg.CacheDriver)

	switch cfg.LevelSource {
	case config.LevelSourcePostgres:
		source := postgres.NewLevelSource(repoConfig)
		if err := source.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("levels schema: %w", err)
		}
		b.Source = source
	case config.LevelSourceREST:
		b.Source = rest.NewLevelClient(rest.Config{
			BaseURL: cfg.LevelAPIURL,
			Timeout: cfg.LevelAPITimeout,
			Logger:  logger,
		})
	default:
		b.Close()
		return nil, fmt.Errorf("unknown level source %q", cfg.LevelSource)
	}
	logger.Info("level source ready", "source", cfg.LevelSource)

	return b, nil
}

// Pool returns the shared Postgres pool, or nil when neither side uses it
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}

// Close releases the store and the pool
func (b *Backend) Close() error {
	var errs []error
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return errors.Join(errs...)
}

// Services holds the tree services built on a backend
type Services struct {
	Policy   *config.PolicyStore
	Watcher  *config.PolicyWatcher // nil without CACHE_POLICY_FILE
	Cache    *cache.NodeCache
	Sweeper  *cache.Sweeper
	Notifier svc.Notifier
	Loader   *hierarchy.Loader
	Order    hierarchy.NameOrder
	Resolver *hierarchy.Resolver
}

// SetupServices builds the cache policy and every tree service. The policy
// watcher is created but not started. Reports go to the log and to every
// extra notifier.
func SetupServices(cfg *config.Config, backend *Backend, logger *slog.Logger, extra ...svc.Notifier) (*Services, error) {
	policy, err := config.LoadPolicy(cfg.CachePolicyFile)
	if err != nil {
		return nil, fmt.Errorf("cache policy: %w", err)
	}
	policyStore := config.NewPolicyStore(policy)
	logger.Info("cache policy loaded",
		"node_ttl", policy.NodeTTL,
		"chunk_ttl", policy.ChunkTTL,
		"stats_ttl", policy.StatsTTL,
		"sweep_interval", policy.SweepInterval,
	)

	var watcher *config.PolicyWatcher
	if cfg.CachePolicyFile != "" {
		watcher, err = config.NewPolicyWatcher(cfg.CachePolicyFile, policyStore, logger)
		if err != nil {
			return nil, fmt.Errorf("policy watcher: %w", err)
		}
	}

	nodeCache := cache.NewNodeCache(backend.Store, policyStore, logger)
	var notifier svc.Notifier = notify.NewLogNotifier(logger)
	if len(extra) > 0 {
		notifier = append(notify.Fanout{notifier}, extra...)
	}
	loader := hierarchy.NewLoader(backend.Source, nodeCache, notifier, logger, hierarchy.LoaderConfig{
		EagerLoadThreshold: cfg.EagerLoadThreshold,
		ExpandConcurrency:  cfg.ExpandConcurrency,
	})
	order := hierarchy.NewNameOrder(cfg.Locale())
	resolver := hierarchy.NewResolver(backend.Source, nodeCache, loader, order, logger, hierarchy.ResolverConfig{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	})

	return &Services{
		Policy:   policyStore,
		Watcher:  watcher,
		Cache:    nodeCache,
		Sweeper:  cache.NewSweeper(backend.Store, policyStore, logger),
		Notifier: notifier,
		Loader:   loader,
		Order:    order,
		Resolver: resolver,
	}, nil
}
