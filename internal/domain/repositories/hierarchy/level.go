package hierarchy

import (
	"context"

	models "osmlevels/internal/domain/models/hierarchy"
)

// LevelSource is the backend that owns the organizational trees
type LevelSource interface {
	// FetchChildren returns the direct children of parentID (models.RootID for roots)
	FetchChildren(ctx context.Context, treeID, parentID string) ([]models.Node, error)

	// FetchPathByExternalID returns the root -> leaf chain ending at the node
	// carrying externalID. An empty chain means no such node.
	FetchPathByExternalID(ctx context.Context, treeID, externalID string) ([]models.Node, error)

	// FetchStats returns aggregate counters for the tree
	FetchStats(ctx context.Context, treeID string) (models.Stats, error)
}
