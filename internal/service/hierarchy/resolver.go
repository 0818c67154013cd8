package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"osmlevels/internal/config"
	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	repo "osmlevels/internal/domain/repositories/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/metrics"
)

// Resolver maps a machine id to its ancestor chain and, for every depth, the
// page of the sorted sibling list that holds the ancestor.
type Resolver struct {
	source          repo.LevelSource
	cache           svc.NodeCache
	loader          svc.TreeLoader
	order           NameOrder
	logger          *slog.Logger
	defaultPageSize int
	maxPageSize     int
}

// ResolverConfig holds page size bounds
type ResolverConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// NewResolver creates a path resolver
func NewResolver(
	source repo.LevelSource,
	cache svc.NodeCache,
	loader svc.TreeLoader,
	order NameOrder,
	logger *slog.Logger,
	cfg ResolverConfig,
) *Resolver {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = config.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = config.MaxPageSize
	}
	return &Resolver{
		source:          source,
		cache:           cache,
		loader:          loader,
		order:           order,
		logger:          logger,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
}

func (r *Resolver) validateRequest(req *svc.ResolvePathRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.TreeID, validation.Required, validation.Length(1, config.MaxTreeIDLength)),
		validation.Field(&req.ExternalID, validation.Required, validation.Length(1, config.MaxExternalIDLength)),
		validation.Field(&req.PageSize, validation.Min(0), validation.Max(r.maxPageSize)),
	)
}

// ResolvePath implements PathResolver. It fails with a NotFoundError when the
// backend knows no node carrying req.ExternalID.
func (r *Resolver) ResolvePath(ctx context.Context, req *svc.ResolvePathRequest) (*models.PathResolution, error) {
	if err := r.validateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = r.defaultPageSize
	}

	res, err := r.resolve(ctx, req.TreeID, req.ExternalID, pageSize)
	switch {
	case err == nil:
		metrics.RecordPathResolution("ok")
	case errors.Is(err, domain.ErrNotFound):
		metrics.RecordPathResolution("not_found")
	default:
		metrics.RecordPathResolution("error")
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, treeID, externalID string, pageSize int) (*models.PathResolution, error) {
	start := time.Now()
	ancestors, err := r.source.FetchPathByExternalID(ctx, treeID, externalID)
	metrics.RecordBackendFetch("path", time.Since(start), err)
	if err != nil {
		return nil, domain.NewFetchError("path", err)
	}
	if len(ancestors) == 0 {
		return nil, &domain.NotFoundError{
			Message: fmt.Sprintf("no level with machine id %q in tree %q", externalID, treeID),
		}
	}

	if err := checkChain(ancestors); err != nil {
		r.logger.Warn("backend returned a broken path",
			"tree_id", treeID,
			"external_id", externalID,
			"error", err,
		)
		return nil, domain.NewFetchError("path", err)
	}

	for _, a := range ancestors {
		if err := r.cache.CacheNode(ctx, treeID, a); err != nil {
			r.logger.Warn("failed to cache ancestor", "tree_id", treeID, "node_id", a.ID, "error", err)
		}
	}

	resolution := &models.PathResolution{
		TreeID:    treeID,
		Ancestors: cloneNodes(ancestors),
		Levels:    make([]models.SelectionLevel, 0, len(ancestors)+1),
	}

	parentID := models.RootID
	for depth, ancestor := range ancestors {
		siblings, index, err := r.locate(ctx, treeID, parentID, ancestor)
		if err != nil {
			return nil, err
		}
		resolution.Levels = append(resolution.Levels, models.SelectionLevel{
			Depth:      depth,
			SelectedID: ancestor.ID,
			Candidates: siblings,
			Pagination: models.PaginationState{
				CurrentPage: models.PageForIndex(index, pageSize),
				PageSize:    pageSize,
				TotalCount:  len(siblings),
			},
		})
		parentID = ancestor.ID
	}

	leafID := ancestors[len(ancestors)-1].ID
	children, err := r.loader.Children(ctx, treeID, leafID)
	if err != nil {
		return nil, err
	}

	leaf := &resolution.Ancestors[len(resolution.Ancestors)-1]
	leaf.HasChildren = len(children) > 0
	leaf.ChildrenCount = len(children)

	if len(children) == 0 {
		resolution.IsLeafNode = true
	} else {
		sorted := r.order.Sort(children)
		resolution.Levels = append(resolution.Levels, models.SelectionLevel{
			Depth:      len(ancestors),
			Candidates: sorted,
			Pagination: models.PaginationState{
				CurrentPage: 1,
				PageSize:    pageSize,
				TotalCount:  len(sorted),
			},
		})
	}

	r.logger.Debug("path resolved",
		"tree_id", treeID,
		"external_id", externalID,
		"depth", len(ancestors),
		"is_leaf", resolution.IsLeafNode,
	)
	return resolution, nil
}

// checkChain verifies ancestors run root first with each node the parent of
// the next
func checkChain(ancestors []models.Node) error {
	parentID := models.RootID
	for _, a := range ancestors {
		if a.ParentKey() != parentID {
			return fmt.Errorf("level %q has parent %q, want %q", a.ID, a.ParentKey(), parentID)
		}
		parentID = a.ID
	}
	return nil
}

// locate returns the full sorted sibling list under parentID and the index
// of ancestor within it. A cached list that lacks the ancestor is refetched
// once; if the backend still omits it, the ancestor is placed into the list
// at its sorted position so the page stays consistent with the candidates.
func (r *Resolver) locate(ctx context.Context, treeID, parentID string, ancestor models.Node) ([]models.Node, int, error) {
	siblings, err := r.loader.Children(ctx, treeID, parentID)
	if err != nil {
		return nil, 0, err
	}
	sorted := r.order.Sort(siblings)
	if i := IndexOf(sorted, ancestor.ID); i >= 0 {
		return sorted, i, nil
	}

	siblings, err = r.loader.Refresh(ctx, treeID, parentID)
	if err != nil {
		return nil, 0, err
	}
	sorted = r.order.Sort(siblings)
	if i := IndexOf(sorted, ancestor.ID); i >= 0 {
		return sorted, i, nil
	}

	r.logger.Warn("ancestor missing from its sibling list",
		"tree_id", treeID,
		"parent_id", parentID,
		"node_id", ancestor.ID,
	)
	sorted = r.order.Sort(append(sorted, ancestor))
	return sorted, IndexOf(sorted, ancestor.ID), nil
}

var _ svc.PathResolver = (*Resolver)(nil)
