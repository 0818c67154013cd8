package hierarchy

import (
	"context"

	models "osmlevels/internal/domain/models/hierarchy"
)

// ResolvePathRequest asks for the path to the node carrying an external id
type ResolvePathRequest struct {
	TreeID     string `json:"tree_id"`
	ExternalID string `json:"external_id"`
	PageSize   int    `json:"page_size"`
}

// PathResolver maps an external identifier to its ancestor chain and per-depth pages
type PathResolver interface {
	ResolvePath(ctx context.Context, req *ResolvePathRequest) (*models.PathResolution, error)
}
