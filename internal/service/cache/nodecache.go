// Package cache maps tree nodes, child lists and tree statistics onto a TTL store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"osmlevels/internal/config"
	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	repo "osmlevels/internal/domain/repositories/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/metrics"
)

// NodeCache implements the node cache adapter over a repo.CacheStore.
//
// Keys:
//
//	nodes  {tree}:{node}
//	chunks {tree}:{parent|root}:{depth}
//	stats  {tree}
//
// Every component is query-escaped so ':' never appears inside one.
type NodeCache struct {
	store  repo.CacheStore
	policy *config.PolicyStore
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a NodeCache
type Option func(*NodeCache)

// WithClock overrides the time source used to stamp records
func WithClock(now func() time.Time) Option {
	return func(c *NodeCache) {
		c.now = now
	}
}

// NewNodeCache creates the adapter
func NewNodeCache(store repo.CacheStore, policy *config.PolicyStore, logger *slog.Logger, opts ...Option) *NodeCache {
	c := &NodeCache{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func escape(s string) string {
	return url.QueryEscape(s)
}

func nodeKey(treeID, nodeID string) string {
	return escape(treeID) + ":" + escape(nodeID)
}

func chunkKey(treeID, parentID string, depth int) string {
	if parentID == "" {
		parentID = models.RootID
	}
	return escape(treeID) + ":" + escape(parentID) + ":" + strconv.Itoa(depth)
}

func statsKey(treeID string) string {
	return escape(treeID)
}

func (c *NodeCache) CacheNode(ctx context.Context, treeID string, node models.Node) error {
	ttl := c.policy.Current().NodeTTL
	entry := models.NewCacheEntry(treeID, node, c.now(), ttl)
	return c.put(ctx, repo.TableNodes, nodeKey(treeID, node.ID), entry, ttl)
}

func (c *NodeCache) GetNode(ctx context.Context, treeID, nodeID string) (models.Node, bool) {
	var entry models.CacheEntry
	if !c.get(ctx, repo.TableNodes, nodeKey(treeID, nodeID), &entry) || entry.Expired(c.now()) {
		return models.Node{}, false
	}
	return entry.Node(), true
}

// CacheChildren writes every child record before the chunk so a readable
// chunk never points at records that were not written. Only direct children
// chunks are read back, so any other depth is rejected.
func (c *NodeCache) CacheChildren(ctx context.Context, treeID, parentID string, depth int, children []models.Node) error {
	if depth != config.DirectChildrenDepth {
		return &domain.ValidationError{
			Message: fmt.Sprintf("chunk depth %d is not supported, want %d", depth, config.DirectChildrenDepth),
		}
	}
	for _, child := range children {
		if err := c.CacheNode(ctx, treeID, child); err != nil {
			return err
		}
	}

	ttl := c.policy.Current().ChunkTTL
	chunk := models.ChildListChunk{
		TreeID:    treeID,
		ParentID:  parentKey(parentID),
		Depth:     depth,
		ChildIDs:  make([]string, len(children)),
		ExpiresAt: c.now().Add(ttl),
	}
	for i, child := range children {
		chunk.ChildIDs[i] = child.ID
	}
	return c.put(ctx, repo.TableChunks, chunkKey(treeID, chunk.ParentID, depth), chunk, ttl)
}

func (c *NodeCache) GetCachedChildren(ctx context.Context, treeID, parentID string) ([]models.Node, bool) {
	children, err := c.cachedChildren(ctx, treeID, parentKey(parentID))
	if err != nil {
		if errors.Is(err, domain.ErrInconsistentChunk) {
			c.logger.Debug("discarding inconsistent chunk",
				"tree_id", treeID,
				"parent_id", parentID,
				"error", err,
			)
		}
		metrics.RecordCacheLookup("chunks", false)
		return nil, false
	}
	metrics.RecordCacheLookup("chunks", true)
	return children, true
}

func (c *NodeCache) cachedChildren(ctx context.Context, treeID, parentID string) ([]models.Node, error) {
	var chunk models.ChildListChunk
	if !c.get(ctx, repo.TableChunks, chunkKey(treeID, parentID, config.DirectChildrenDepth), &chunk) {
		return nil, domain.ErrCacheMiss
	}
	now := c.now()
	if chunk.Expired(now) {
		return nil, domain.ErrCacheMiss
	}

	children := make([]models.Node, 0, len(chunk.ChildIDs))
	for _, id := range chunk.ChildIDs {
		var entry models.CacheEntry
		if !c.get(ctx, repo.TableNodes, nodeKey(treeID, id), &entry) || entry.Expired(now) {
			return nil, fmt.Errorf("child %s: %w", id, domain.ErrInconsistentChunk)
		}
		children = append(children, entry.Node())
	}
	return children, nil
}

func (c *NodeCache) CacheStats(ctx context.Context, treeID string, stats models.Stats) error {
	ttl := c.policy.Current().StatsTTL
	now := c.now()
	record := models.TreeStats{
		TreeID:     treeID,
		Stats:      stats,
		ComputedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return c.put(ctx, repo.TableStats, statsKey(treeID), record, ttl)
}

func (c *NodeCache) GetStats(ctx context.Context, treeID string) (models.Stats, bool) {
	var record models.TreeStats
	hit := c.get(ctx, repo.TableStats, statsKey(treeID), &record) && !record.Expired(c.now())
	metrics.RecordCacheLookup("stats", hit)
	if !hit {
		return models.Stats{}, false
	}
	return record.Stats, true
}

func (c *NodeCache) ClearTree(ctx context.Context, treeID string) error {
	prefix := escape(treeID) + ":"
	byPrefix := func(key string) bool { return strings.HasPrefix(key, prefix) }

	removed := 0
	for _, table := range []repo.Table{repo.TableNodes, repo.TableChunks} {
		n, err := c.store.DeleteWhere(ctx, table, byPrefix)
		if err != nil {
			return fmt.Errorf("clear %s of tree %s: %w", table, treeID, err)
		}
		removed += n
	}
	key := statsKey(treeID)
	n, err := c.store.DeleteWhere(ctx, repo.TableStats, func(k string) bool { return k == key })
	if err != nil {
		return fmt.Errorf("clear stats of tree %s: %w", treeID, err)
	}
	removed += n

	c.logger.Info("cleared tree cache", "tree_id", treeID, "removed", removed)
	return nil
}

func (c *NodeCache) put(ctx context.Context, table repo.Table, key string, record any, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", table, err)
	}
	if err := c.store.Put(ctx, table, key, data, ttl); err != nil {
		return fmt.Errorf("cache %s/%s: %w", table, key, err)
	}
	return nil
}

// get decodes a record into out. Store and decode failures read as misses.
func (c *NodeCache) get(ctx context.Context, table repo.Table, key string, out any) bool {
	data, ok, err := c.store.Get(ctx, table, key)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss",
			"table", string(table),
			"key", key,
			"error", err,
		)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("undecodable cache record, treating as miss",
			"table", string(table),
			"key", key,
			"error", err,
		)
		return false
	}
	return true
}

func parentKey(parentID string) string {
	if parentID == "" {
		return models.RootID
	}
	return parentID
}

var _ svc.NodeCache = (*NodeCache)(nil)
