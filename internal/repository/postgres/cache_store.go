package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"osmlevels/internal/domain/repositories"
	repo "osmlevels/internal/domain/repositories/hierarchy"
)

// PostgresCacheStore keeps the TTL cache in three prefixed tables
type PostgresCacheStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
	txm    repositories.TransactionManager
	now    func() time.Time
}

// NewCacheStore creates a cache store on the shared pool
func NewCacheStore(config *RepositoryConfig) *PostgresCacheStore {
	return &PostgresCacheStore{
		pool:   config.Pool,
		tables: config.Tables,
		txm:    NewTransactionManager(config.Pool),
		now:    time.Now,
	}
}

// EnsureSchema creates missing cache tables
func (s *PostgresCacheStore) EnsureSchema(ctx context.Context) error {
	for _, t := range repo.Tables {
		name := s.tables.Cache(t)
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				key        TEXT PRIMARY KEY,
				value      BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)`, name),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at)`, name, name),
		}
		for _, stmt := range stmts {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *PostgresCacheStore) Put(ctx context.Context, table repo.Table, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`, s.tables.Cache(table))

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, key, value, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("put %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *PostgresCacheStore) Get(ctx context.Context, table repo.Table, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND expires_at > $2`, s.tables.Cache(table))

	var value []byte
	err := GetExecutor(ctx, s.pool).QueryRow(ctx, query, key, s.now()).Scan(&value)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	return value, true, nil
}

func (s *PostgresCacheStore) DeleteWhere(ctx context.Context, table repo.Table, match repo.KeyMatcher) (int, error) {
	name := s.tables.Cache(table)
	removed := 0

	err := s.txm.ExecTx(ctx, func(txCtx context.Context) error {
		executor := GetExecutor(txCtx, s.pool)

		rows, err := executor.Query(txCtx, fmt.Sprintf(`SELECT key FROM %s FOR UPDATE`, name))
		if err != nil {
			return fmt.Errorf("scan %s: %w", name, err)
		}
		var keys []string
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return fmt.Errorf("scan key: %w", err)
			}
			if match(key) {
				keys = append(keys, key)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		tag, err := executor.Exec(txCtx, fmt.Sprintf(`DELETE FROM %s WHERE key = ANY($1)`, name), keys)
		if err != nil {
			return fmt.Errorf("delete from %s: %w", name, err)
		}
		removed = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *PostgresCacheStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	executor := GetExecutor(ctx, s.pool)
	total := 0
	for _, t := range repo.Tables {
		tag, err := executor.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.tables.Cache(t)), now)
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", t, err)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

// Close is a no-op; the pool is owned by the caller
func (s *PostgresCacheStore) Close() error {
	return nil
}

var _ repo.CacheStore = (*PostgresCacheStore)(nil)
