package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	repo "osmlevels/internal/domain/repositories/hierarchy"
)

// CacheStore persists cache tables in a single SQLite file
type CacheStore struct {
	db     *sql.DB
	tables map[repo.Table]string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a CacheStore
type Option func(*CacheStore)

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(s *CacheStore) {
		s.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *CacheStore) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the cache database at path and ensures
// the schema. Table names carry prefix.
func Open(ctx context.Context, path, prefix string, opts ...Option) (*CacheStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent upserts
	db.SetMaxOpenConns(1)

	s := &CacheStore{
		db:     db,
		tables: make(map[repo.Table]string, len(repo.Tables)),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, t := range repo.Tables {
		s.tables[t] = fmt.Sprintf("%scache_%s", prefix, t)
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates missing cache tables and their expiry indexes
func (s *CacheStore) EnsureSchema(ctx context.Context) error {
	for _, t := range repo.Tables {
		name := s.tables[t]
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				key        TEXT PRIMARY KEY,
				value      BLOB NOT NULL,
				updated_at INTEGER NOT NULL,
				expires_at INTEGER NOT NULL
			)`, name),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_at ON %s (expires_at)`, name, name),
		}
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *CacheStore) table(t repo.Table) (string, error) {
	name, ok := s.tables[t]
	if !ok {
		return "", fmt.Errorf("unknown cache table %q", t)
	}
	return name, nil
}

func (s *CacheStore) Put(ctx context.Context, table repo.Table, key string, value []byte, ttl time.Duration) error {
	name, err := s.table(table)
	if err != nil {
		return err
	}
	now := s.now()
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, name)
	if _, err := s.db.ExecContext(ctx, query, key, value, now.UnixNano(), now.Add(ttl).UnixNano()); err != nil {
		return fmt.Errorf("put %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *CacheStore) Get(ctx context.Context, table repo.Table, key string) ([]byte, bool, error) {
	name, err := s.table(table)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ? AND expires_at > ?`, name)

	var value []byte
	err = s.db.QueryRowContext(ctx, query, key, s.now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	return value, true, nil
}

func (s *CacheStore) DeleteWhere(ctx context.Context, table repo.Table, match repo.KeyMatcher) (int, error) {
	name, err := s.table(table)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT key FROM %s`, name))
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", name, err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan key: %w", err)
		}
		if match(key) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	del := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, name)
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, del, key); err != nil {
			return 0, fmt.Errorf("delete %s/%s: %w", table, key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return len(keys), nil
}

func (s *CacheStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.now().UnixNano()
	total := 0
	for _, t := range repo.Tables {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, s.tables[t]), now)
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", t, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	if total > 0 {
		s.logger.Debug("swept expired cache entries", "removed", total)
	}
	return total, nil
}

func (s *CacheStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ repo.CacheStore = (*CacheStore)(nil)
