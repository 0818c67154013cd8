package hierarchy

import (
	"context"

	models "osmlevels/internal/domain/models/hierarchy"
)

// LoadStrategy tells a view how to open a tree
type LoadStrategy string

const (
	StrategyLazy  LoadStrategy = "lazy"
	StrategyEager LoadStrategy = "eager"
)

// TreeLoader fetches children cache-first with per-node request de-duplication
type TreeLoader interface {
	// LoadChildren never fails hard: on error it reports through the notifier
	// and returns an empty list together with the error.
	LoadChildren(ctx context.Context, treeID, nodeID string) ([]models.Node, error)

	// Children is LoadChildren without reporting; the caller owns the error
	Children(ctx context.Context, treeID, parentID string) ([]models.Node, error)

	// Refresh bypasses the cache and overwrites the chunk
	Refresh(ctx context.Context, treeID, parentID string) ([]models.Node, error)

	Stats(ctx context.Context, treeID string) (models.Stats, error)
	Strategy(ctx context.Context, treeID string) (LoadStrategy, error)

	// LoadTree prefetches maxDepth levels and returns parent id -> children
	LoadTree(ctx context.Context, treeID string, maxDepth int) (map[string][]models.Node, error)
}

// Notifier is the user-facing error reporting collaborator
type Notifier interface {
	ReportError(ctx context.Context, message string)
}
