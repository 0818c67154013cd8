package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"osmlevels/internal/domain/repositories"
	repo "osmlevels/internal/domain/repositories/hierarchy"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Levels string
	cache  map[repo.Table]string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	t := &TableNames{
		Levels: fmt.Sprintf("%slevels", prefix),
		cache:  make(map[repo.Table]string, len(repo.Tables)),
	}
	for _, table := range repo.Tables {
		t.cache[table] = fmt.Sprintf("%scache_%s", prefix, table)
	}
	return t
}

// Cache returns the prefixed name of a cache table
func (t *TableNames) Cache(table repo.Table) string {
	if name, ok := t.cache[table]; ok {
		return name
	}
	// unknown tables never reach SQL unquoted
	return pgx.Identifier{string(table)}.Sanitize()
}

// CreateConnectionPool creates a pgx pool. Port 6543 (a transaction-mode
// PgBouncer) cannot hold prepared statements, so the pool falls back to
// describe caching there unless the URL sets default_query_exec_mode itself.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the transaction stored in ctx, or pool when there is none
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
