package memory

import (
	"context"
	"sync"
	"time"

	repo "osmlevels/internal/domain/repositories/hierarchy"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// CacheStore is an in-process CacheStore. It survives nothing and is meant for
// tests and single-process deployments without a disk.
type CacheStore struct {
	mu     sync.RWMutex
	tables map[repo.Table]map[string]entry
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

// NewCacheStore creates an empty store
func NewCacheStore(opts ...Option) *CacheStore {
	s := &CacheStore{
		tables: make(map[repo.Table]map[string]entry, len(repo.Tables)),
		now:    time.Now,
	}
	for _, t := range repo.Tables {
		s.tables[t] = make(map[string]entry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CacheStore) Put(ctx context.Context, table repo.Table, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]entry)
		s.tables[table] = t
	}
	t[key] = entry{value: buf, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *CacheStore) Get(ctx context.Context, table repo.Table, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	e, ok := s.tables[table][key]
	s.mu.RUnlock()

	if !ok || !e.expiresAt.After(s.now()) {
		return nil, false, nil
	}
	buf := make([]byte, len(e.value))
	copy(buf, e.value)
	return buf, true, nil
}

func (s *CacheStore) DeleteWhere(ctx context.Context, table repo.Table, match repo.KeyMatcher) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.tables[table] {
		if match(key) {
			delete(s.tables[table], key)
			removed++
		}
	}
	return removed, nil
}

func (s *CacheStore) SweepExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, t := range s.tables {
		for key, e := range t {
			if !e.expiresAt.After(now) {
				delete(t, key)
				removed++
			}
		}
	}
	return removed, nil
}

// Len returns the number of stored entries of table, expired or not
func (s *CacheStore) Len(table repo.Table) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

func (s *CacheStore) Close() error {
	return nil
}

var _ repo.CacheStore = (*CacheStore)(nil)
