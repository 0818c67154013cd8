package handler

import (
	"log/slog"
	"net/http"

	models "osmlevels/internal/domain/models/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/httputil"
	"osmlevels/internal/service/hierarchy"
)

// LevelsHandler serves the read side of the level trees
type LevelsHandler struct {
	loader   svc.TreeLoader
	resolver svc.PathResolver
	cache    svc.NodeCache
	views    *hierarchy.Registry[*hierarchy.TreeView]
	logger   *slog.Logger
}

// NewLevelsHandler creates a levels handler. views may be nil; when set,
// open views of a tree are reset after its cache is cleared.
func NewLevelsHandler(
	loader svc.TreeLoader,
	resolver svc.PathResolver,
	cache svc.NodeCache,
	views *hierarchy.Registry[*hierarchy.TreeView],
	logger *slog.Logger,
) *LevelsHandler {
	return &LevelsHandler{
		loader:   loader,
		resolver: resolver,
		cache:    cache,
		views:    views,
		logger:   logger,
	}
}

// HealthCheck reports liveness
// GET /health
func (h *LevelsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetChildren returns the direct children of a level, cache first
// GET /api/trees/{treeId}/children?parent_id=
func (h *LevelsHandler) GetChildren(w http.ResponseWriter, r *http.Request) {
	treeID, err := treeIDParam(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	parentID := r.URL.Query().Get("parent_id")
	if parentID == "" {
		parentID = models.RootID
	}

	children, err := h.loader.Children(r.Context(), treeID, parentID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, childrenResponse{
		TreeID:   treeID,
		ParentID: parentID,
		Children: children,
	})
}

// ResolvePath maps a machine id to its ancestors and per-depth pages
// GET /api/trees/{treeId}/resolve?external_id=&page_size=
func (h *LevelsHandler) ResolvePath(w http.ResponseWriter, r *http.Request) {
	treeID, err := treeIDParam(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	pageSize, err := httputil.QueryInt(r, "page_size", 0)
	if err != nil {
		handleError(w, h.logger, validationError(err))
		return
	}

	res, err := h.resolver.ResolvePath(r.Context(), &svc.ResolvePathRequest{
		TreeID:     treeID,
		ExternalID: r.URL.Query().Get("external_id"),
		PageSize:   pageSize,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, toResolutionResponse(res))
}

// GetStats returns the tree's counters and the strategy views will use
// GET /api/trees/{treeId}/stats
func (h *LevelsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	treeID, err := treeIDParam(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	stats, err := h.loader.Stats(r.Context(), treeID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	strategy, err := h.loader.Strategy(r.Context(), treeID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, statsResponse{
		TreeID:   treeID,
		Stats:    stats,
		Strategy: strategy,
	})
}

// ClearCache drops every cached record of the tree and resets its open views
// DELETE /api/trees/{treeId}/cache
func (h *LevelsHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	treeID, err := treeIDParam(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := h.cache.ClearTree(r.Context(), treeID); err != nil {
		handleError(w, h.logger, err)
		return
	}

	if h.views != nil {
		for _, v := range h.views.ForTree(treeID) {
			if err := v.Reset(r.Context()); err != nil {
				h.logger.Warn("view reset failed after cache clear", "tree_id", treeID, "error", err)
			}
		}
	}

	h.logger.Info("tree cache cleared", "tree_id", treeID)
	httputil.RespondNoContent(w)
}
