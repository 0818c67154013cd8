package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
)

var errClosed = errors.New("session closed")

// ErrClosed is returned by operations on a closed view or selection
var ErrClosed = errClosed

// TreeView owns one on-screen display tree. Fetches run without the lock
// held; a result that arrives after Reset or Close is dropped.
type TreeView struct {
	treeID     string
	loader     svc.TreeLoader
	logger     *slog.Logger
	eagerDepth int

	mu         sync.Mutex
	roots      []*models.DisplayNode
	strategy   svc.LoadStrategy
	generation uint64
	closed     bool
}

// NewTreeView creates an unopened view of treeID. eagerDepth bounds the
// prefetch used when the loader picks the eager strategy.
func NewTreeView(treeID string, loader svc.TreeLoader, logger *slog.Logger, eagerDepth int) *TreeView {
	if eagerDepth < 1 {
		eagerDepth = 1
	}
	return &TreeView{
		treeID:     treeID,
		loader:     loader,
		logger:     logger,
		eagerDepth: eagerDepth,
		roots:      []*models.DisplayNode{},
		strategy:   svc.StrategyLazy,
	}
}

// TreeID returns the tree the view shows
func (v *TreeView) TreeID() string { return v.treeID }

// Strategy returns how the view was opened
func (v *TreeView) Strategy() svc.LoadStrategy {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.strategy
}

// Open loads the roots. Small trees are prefetched whole; a failed prefetch
// falls back to loading roots only.
func (v *TreeView) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errClosed
	}
	gen := v.generation
	v.mu.Unlock()

	strategy, err := v.loader.Strategy(ctx, v.treeID)
	if err != nil {
		v.logger.Warn("stats unavailable, opening lazily", "tree_id", v.treeID, "error", err)
		strategy = svc.StrategyLazy
	}

	var tree []*models.DisplayNode
	if strategy == svc.StrategyEager {
		loaded, err := v.loader.LoadTree(ctx, v.treeID, v.eagerDepth)
		if err != nil {
			v.logger.Warn("prefetch failed, opening lazily", "tree_id", v.treeID, "error", err)
			strategy = svc.StrategyLazy
		} else {
			tree = BuildLazyHierarchy(loaded[models.RootID], loaded)
		}
	}
	if strategy == svc.StrategyLazy {
		roots, err := v.loader.LoadChildren(ctx, v.treeID, models.RootID)
		if err != nil {
			return err
		}
		tree = BuildLazyHierarchy(roots, nil)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.generation {
		return nil
	}
	v.roots = tree
	v.strategy = strategy
	v.logger.Debug("view opened", "tree_id", v.treeID, "strategy", strategy, "nodes", CountNodes(tree))
	return nil
}

// Expand opens nodeID. A placeholder id routes to its parent. A pending node
// is loaded, as is a loaded node left without children by a refresh; on
// failure it stays collapsed so the user can retry.
func (v *TreeView) Expand(ctx context.Context, nodeID string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errClosed
	}
	node := FindExpandTarget(v.roots, nodeID)
	if node == nil {
		v.mu.Unlock()
		return &domain.NotFoundError{Message: fmt.Sprintf("node %q is not in the view", nodeID)}
	}
	targetID := node.ID

	switch {
	case node.State == models.ChildStateLeaf:
		v.mu.Unlock()
		return nil
	case node.State == models.ChildStateLoaded && len(node.Children) > 0:
		node.Expanded = true
		v.mu.Unlock()
		return nil
	}
	gen := v.generation
	v.mu.Unlock()

	children, err := v.loader.LoadChildren(ctx, v.treeID, targetID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.generation {
		v.logger.Debug("dropping stale expand", "tree_id", v.treeID, "node_id", targetID)
		return nil
	}
	if err != nil {
		return err
	}
	if !MergeChildren(v.roots, targetID, children) {
		// removed by a refresh while loading
		return nil
	}
	if node = FindNode(v.roots, targetID); node != nil {
		if len(children) == 0 {
			node.SetLeaf()
		} else {
			node.Expanded = true
		}
	}
	return nil
}

// Collapse hides nodeID's children without discarding them
func (v *TreeView) Collapse(nodeID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errClosed
	}
	node := FindExpandTarget(v.roots, nodeID)
	if node == nil {
		return &domain.NotFoundError{Message: fmt.Sprintf("node %q is not in the view", nodeID)}
	}
	node.Expanded = false
	return nil
}

// Refresh refetches the roots and every loaded branch from the backend,
// keeping the expansion state of nodes that are still present.
func (v *TreeView) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errClosed
	}
	gen := v.generation
	loadedIDs := loadedBranches(v.roots)
	v.mu.Unlock()

	roots, err := v.loader.Refresh(ctx, v.treeID, models.RootID)
	if err != nil {
		return err
	}
	fresh := make(map[string][]models.Node, len(loadedIDs))
	for _, id := range loadedIDs {
		children, err := v.loader.Refresh(ctx, v.treeID, id)
		if err != nil {
			v.logger.Warn("branch refresh failed", "tree_id", v.treeID, "node_id", id, "error", err)
			continue
		}
		fresh[id] = children
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.generation {
		return nil
	}
	v.roots = MergeRoots(v.roots, roots)
	// parents before children, so a branch is merged after its parent is rebuilt
	for _, id := range loadedIDs {
		if children, ok := fresh[id]; ok {
			MergeChildren(v.roots, id, children)
		}
	}
	return nil
}

// Reset drops the tree and reopens it. Fetches started before the reset are
// ignored when they complete.
func (v *TreeView) Reset(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errClosed
	}
	v.generation++
	v.roots = []*models.DisplayNode{}
	v.mu.Unlock()
	return v.Open(ctx)
}

// Snapshot returns a deep copy of the tree for rendering
func (v *TreeView) Snapshot() []*models.DisplayNode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return CloneTree(v.roots)
}

// Close releases the tree; later fetch results are dropped
func (v *TreeView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.generation++
	v.roots = nil
}

// loadedBranches lists the ids of loaded nodes breadth first
func loadedBranches(tree []*models.DisplayNode) []string {
	var ids []string
	queue := append([]*models.DisplayNode(nil), tree...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.IsPlaceholder() || !n.IsLoaded() {
			continue
		}
		ids = append(ids, n.ID)
		queue = append(queue, n.Children...)
	}
	return ids
}
