package handler

import (
	"log/slog"
	"net/http"

	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/httputil"
	"osmlevels/internal/service/hierarchy"
)

// ViewsHandler manages display-tree sessions
type ViewsHandler struct {
	loader     svc.TreeLoader
	views      *hierarchy.Registry[*hierarchy.TreeView]
	eagerDepth int
	logger     *slog.Logger
}

// NewViewsHandler creates a views handler
func NewViewsHandler(
	loader svc.TreeLoader,
	views *hierarchy.Registry[*hierarchy.TreeView],
	eagerDepth int,
	logger *slog.Logger,
) *ViewsHandler {
	return &ViewsHandler{
		loader:     loader,
		views:      views,
		eagerDepth: eagerDepth,
		logger:     logger,
	}
}

// CreateView opens a tree and registers the view
// POST /api/views
func (h *ViewsHandler) CreateView(w http.ResponseWriter, r *http.Request) {
	var req createViewRequest
	if err := decode(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	view := hierarchy.NewTreeView(req.TreeID, h.loader, h.logger, h.eagerDepth)
	if err := view.Open(r.Context()); err != nil {
		view.Close()
		handleError(w, h.logger, err)
		return
	}
	id := h.views.Add(req.TreeID, view)

	h.logger.Debug("view created", "view_id", id, "tree_id", req.TreeID, "strategy", view.Strategy())
	httputil.RespondJSON(w, http.StatusCreated, h.response(id, view))
}

// GetView returns the current display tree
// GET /api/views/{id}
func (h *ViewsHandler) GetView(w http.ResponseWriter, r *http.Request) {
	id, view, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httputil.RespondJSON(w, http.StatusOK, h.response(id, view))
}

// Expand opens a node; placeholder ids route to their parent
// POST /api/views/{id}/expand
func (h *ViewsHandler) Expand(w http.ResponseWriter, r *http.Request) {
	id, view, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req nodeRequest
	if err := decode(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := view.Expand(r.Context(), req.NodeID); err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, h.response(id, view))
}

// Collapse hides a node's children
// POST /api/views/{id}/collapse
func (h *ViewsHandler) Collapse(w http.ResponseWriter, r *http.Request) {
	id, view, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req nodeRequest
	if err := decode(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := view.Collapse(req.NodeID); err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, h.response(id, view))
}

// Refresh refetches the view's loaded branches from the backend
// POST /api/views/{id}/refresh
func (h *ViewsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, view, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := view.Refresh(r.Context()); err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, h.response(id, view))
}

// DeleteView closes the view
// DELETE /api/views/{id}
func (h *ViewsHandler) DeleteView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.views.Remove(id) {
		handleError(w, h.logger, sessionNotFound("view", id))
		return
	}
	httputil.RespondNoContent(w)
}

func (h *ViewsHandler) lookup(w http.ResponseWriter, r *http.Request) (string, *hierarchy.TreeView, bool) {
	id := r.PathValue("id")
	view, ok := h.views.Get(id)
	if !ok {
		handleError(w, h.logger, sessionNotFound("view", id))
		return "", nil, false
	}
	return id, view, true
}

func (h *ViewsHandler) response(id string, view *hierarchy.TreeView) viewResponse {
	return viewResponse{
		ID:       id,
		TreeID:   view.TreeID(),
		Strategy: view.Strategy(),
		Nodes:    view.Snapshot(),
	}
}
