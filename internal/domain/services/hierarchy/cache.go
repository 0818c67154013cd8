package hierarchy

import (
	"context"

	models "osmlevels/internal/domain/models/hierarchy"
)

// NodeCache maps tree/node keys onto the TTL cache store
type NodeCache interface {
	CacheNode(ctx context.Context, treeID string, node models.Node) error
	GetNode(ctx context.Context, treeID, nodeID string) (models.Node, bool)

	// CacheChildren stores the chunk for parentID and every child record.
	// depth must be config.DirectChildrenDepth.
	CacheChildren(ctx context.Context, treeID, parentID string, depth int, children []models.Node) error

	// GetCachedChildren returns ok=false unless the chunk and every child record are unexpired
	GetCachedChildren(ctx context.Context, treeID, parentID string) ([]models.Node, bool)

	CacheStats(ctx context.Context, treeID string, stats models.Stats) error
	GetStats(ctx context.Context, treeID string) (models.Stats, bool)

	// ClearTree removes every node, chunk and stats record of the tree
	ClearTree(ctx context.Context, treeID string) error
}
