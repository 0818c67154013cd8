package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"osmlevels/internal/config"
	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	repo "osmlevels/internal/domain/repositories/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/metrics"
)

// LoaderConfig tunes strategy selection and prefetching
type LoaderConfig struct {
	EagerLoadThreshold int // trees with at most this many nodes load eagerly
	ExpandConcurrency  int // parallel fetches during LoadTree
}

// Loader is the lazy tree loader. It is the only owner of the in-flight set:
// concurrent loads of one (tree, parent) pair share a single fetch.
type Loader struct {
	source   repo.LevelSource
	cache    svc.NodeCache
	notifier svc.Notifier
	logger   *slog.Logger
	cfg      LoaderConfig

	inflight singleflight.Group
}

// NewLoader creates a loader
func NewLoader(
	source repo.LevelSource,
	cache svc.NodeCache,
	notifier svc.Notifier,
	logger *slog.Logger,
	cfg LoaderConfig,
) *Loader {
	if cfg.ExpandConcurrency < 1 {
		cfg.ExpandConcurrency = 1
	}
	return &Loader{
		source:   source,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// loadResult is shared by every caller that joined one fetch
type loadResult struct {
	children []models.Node
	err      error
	reported sync.Once
}

// LoadChildren returns the children of nodeID. On failure the error is
// reported once per fetch, however many callers shared it, and an empty list
// is returned with the error.
func (l *Loader) LoadChildren(ctx context.Context, treeID, nodeID string) ([]models.Node, error) {
	res, err := l.load(ctx, treeID, nodeID, false)
	if err != nil {
		return []models.Node{}, err
	}
	if res.err != nil {
		res.reported.Do(func() {
			l.notifier.ReportError(ctx, fmt.Sprintf("Could not load children of %q: %v", nodeID, res.err))
		})
		return []models.Node{}, res.err
	}
	return cloneNodes(res.children), nil
}

// Children is LoadChildren without reporting
func (l *Loader) Children(ctx context.Context, treeID, parentID string) ([]models.Node, error) {
	res, err := l.load(ctx, treeID, parentID, false)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	return cloneNodes(res.children), nil
}

// Refresh fetches from the backend even when the chunk is cached
func (l *Loader) Refresh(ctx context.Context, treeID, parentID string) ([]models.Node, error) {
	res, err := l.load(ctx, treeID, parentID, true)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	return cloneNodes(res.children), nil
}

// load joins or starts the fetch for (treeID, parentID). The fetch itself is
// detached from ctx: a caller that gives up returns early while the fetch
// completes and populates the cache for the next caller.
func (l *Loader) load(ctx context.Context, treeID, parentID string, refresh bool) (*loadResult, error) {
	if parentID == "" {
		parentID = models.RootID
	}
	key := inflightKey(treeID, parentID)
	if refresh {
		key = "refresh:" + key
	}

	detached := context.WithoutCancel(ctx)
	ch := l.inflight.DoChan(key, func() (interface{}, error) {
		res := &loadResult{}
		res.children, res.err = l.fetchChildren(detached, treeID, parentID, refresh)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			metrics.RecordDedupJoin()
		}
		return r.Val.(*loadResult), nil
	}
}

// inflightKey escapes both parts so ids containing the separator cannot
// collide across trees
func inflightKey(treeID, parentID string) string {
	return url.QueryEscape(treeID) + "/" + url.QueryEscape(parentID)
}

func (l *Loader) fetchChildren(ctx context.Context, treeID, parentID string, refresh bool) ([]models.Node, error) {
	if !refresh {
		if children, ok := l.cache.GetCachedChildren(ctx, treeID, parentID); ok {
			l.logger.Debug("children served from cache",
				"tree_id", treeID,
				"parent_id", parentID,
				"count", len(children),
			)
			return children, nil
		}
	}

	start := time.Now()
	children, err := l.source.FetchChildren(ctx, treeID, parentID)
	metrics.RecordBackendFetch("children", time.Since(start), err)
	if err != nil {
		l.logger.Warn("children fetch failed",
			"tree_id", treeID,
			"parent_id", parentID,
			"error", err,
		)
		return nil, domain.NewFetchError("children", err)
	}

	children = normalizeChildren(parentID, children)
	if err := l.cache.CacheChildren(ctx, treeID, parentID, config.DirectChildrenDepth, children); err != nil {
		l.logger.Warn("failed to cache children", "tree_id", treeID, "parent_id", parentID, "error", err)
	}
	l.learnParentState(ctx, treeID, parentID, len(children))

	l.logger.Debug("children fetched",
		"tree_id", treeID,
		"parent_id", parentID,
		"count", len(children),
		"refresh", refresh,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return children, nil
}

// learnParentState rewrites the parent's cached record with what the fetch
// just proved about it, so an empty parent is cached as a leaf.
func (l *Loader) learnParentState(ctx context.Context, treeID, parentID string, count int) {
	if parentID == models.RootID {
		return
	}
	parent, ok := l.cache.GetNode(ctx, treeID, parentID)
	if !ok {
		return
	}
	if parent.HasChildren == (count > 0) && parent.ChildrenCount == count {
		return
	}
	parent.HasChildren = count > 0
	parent.ChildrenCount = count
	if err := l.cache.CacheNode(ctx, treeID, parent); err != nil {
		l.logger.Warn("failed to update parent record", "tree_id", treeID, "node_id", parentID, "error", err)
	}
}

// Stats returns the tree's aggregate counters, cache first
func (l *Loader) Stats(ctx context.Context, treeID string) (models.Stats, error) {
	if stats, ok := l.cache.GetStats(ctx, treeID); ok {
		return stats, nil
	}

	start := time.Now()
	stats, err := l.source.FetchStats(ctx, treeID)
	metrics.RecordBackendFetch("stats", time.Since(start), err)
	if err != nil {
		return models.Stats{}, domain.NewFetchError("stats", err)
	}
	if err := l.cache.CacheStats(ctx, treeID, stats); err != nil {
		l.logger.Warn("failed to cache stats", "tree_id", treeID, "error", err)
	}
	return stats, nil
}

// Strategy picks eager loading for small trees
func (l *Loader) Strategy(ctx context.Context, treeID string) (svc.LoadStrategy, error) {
	stats, err := l.Stats(ctx, treeID)
	if err != nil {
		return svc.StrategyLazy, err
	}
	if stats.TotalNodes <= l.cfg.EagerLoadThreshold {
		return svc.StrategyEager, nil
	}
	return svc.StrategyLazy, nil
}

// LoadTree prefetches maxDepth levels breadth first and returns
// parent id -> children, with roots under models.RootID.
func (l *Loader) LoadTree(ctx context.Context, treeID string, maxDepth int) (map[string][]models.Node, error) {
	loaded := make(map[string][]models.Node)
	frontier := []string{models.RootID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var mu sync.Mutex
		var next []string

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.cfg.ExpandConcurrency)
		for _, parentID := range frontier {
			g.Go(func() error {
				children, err := l.Children(gctx, treeID, parentID)
				if err != nil {
					return fmt.Errorf("load children of %s: %w", parentID, err)
				}
				mu.Lock()
				defer mu.Unlock()
				loaded[parentID] = children
				for _, c := range children {
					if c.HasChildren {
						next = append(next, c.ID)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		frontier = next
	}

	l.logger.Debug("tree prefetched", "tree_id", treeID, "parents", len(loaded), "max_depth", maxDepth)
	return loaded, nil
}

// normalizeChildren fills fields some backends omit
func normalizeChildren(parentID string, children []models.Node) []models.Node {
	out := make([]models.Node, 0, len(children))
	for _, c := range children {
		c = c.Clone()
		if c.ParentID == nil {
			c.ParentID = models.ParentRef(parentID)
		}
		if len(c.Children) > 0 {
			c.HasChildren = true
			if c.ChildrenCount == 0 {
				c.ChildrenCount = len(c.Children)
			}
		}
		if c.ChildrenCount > 0 {
			c.HasChildren = true
		}
		out = append(out, c)
	}
	return out
}

func cloneNodes(nodes []models.Node) []models.Node {
	out := make([]models.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

var _ svc.TreeLoader = (*Loader)(nil)
