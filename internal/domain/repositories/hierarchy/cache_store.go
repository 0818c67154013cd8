package hierarchy

import (
	"context"
	"time"
)

// Table names one logical record kind of the TTL cache
type Table string

const (
	TableNodes  Table = "nodes"
	TableChunks Table = "chunks"
	TableStats  Table = "stats"
)

// Tables lists every cache table, in sweep order
var Tables = []Table{TableNodes, TableChunks, TableStats}

// KeyMatcher selects keys for DeleteWhere
type KeyMatcher func(key string) bool

// CacheStore is a persistent key/value store with per-entry expiration.
// Writes are whole-record upserts; there are no partial updates.
type CacheStore interface {
	// Put upserts value under (table, key), expiring ttl from now
	Put(ctx context.Context, table Table, key string, value []byte, ttl time.Duration) error

	// Get returns the value, or ok=false when absent or expired.
	// An expired entry is never an error.
	Get(ctx context.Context, table Table, key string) (value []byte, ok bool, err error)

	// DeleteWhere removes every entry of table whose key matches
	DeleteWhere(ctx context.Context, table Table, match KeyMatcher) (int, error)

	// SweepExpired removes expired entries from every table
	SweepExpired(ctx context.Context) (int, error)

	// Close releases the underlying resources
	Close() error
}
