package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	models "osmlevels/internal/domain/models/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/handler/sse"
	"osmlevels/internal/httputil"
	"osmlevels/internal/service/hierarchy"
)

// SelectionsConfig holds picker defaults
type SelectionsConfig struct {
	DefaultPageSize int
	MaxDepth        int
	Stream          sse.Config
}

// SelectionsHandler manages cascading picker sessions
type SelectionsHandler struct {
	loader     svc.TreeLoader
	resolver   svc.PathResolver
	notifier   svc.Notifier
	order      hierarchy.NameOrder
	selections *hierarchy.Registry[*hierarchy.Selection]
	cfg        SelectionsConfig
	logger     *slog.Logger
}

// NewSelectionsHandler creates a selections handler
func NewSelectionsHandler(
	loader svc.TreeLoader,
	resolver svc.PathResolver,
	notifier svc.Notifier,
	order hierarchy.NameOrder,
	selections *hierarchy.Registry[*hierarchy.Selection],
	cfg SelectionsConfig,
	logger *slog.Logger,
) *SelectionsHandler {
	if cfg.Stream.KeepAliveInterval <= 0 {
		cfg.Stream = sse.DefaultConfig()
	}
	return &SelectionsHandler{
		loader:     loader,
		resolver:   resolver,
		notifier:   notifier,
		order:      order,
		selections: selections,
		cfg:        cfg,
		logger:     logger,
	}
}

// CreateSelection opens a picker at depth 0
// POST /api/selections
func (h *SelectionsHandler) CreateSelection(w http.ResponseWriter, r *http.Request) {
	var req createSelectionRequest
	if err := decode(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = h.cfg.DefaultPageSize
	}

	sel := hierarchy.NewSelection(req.TreeID, h.loader, h.resolver, h.notifier, h.order, h.logger,
		hierarchy.SelectionConfig{PageSize: pageSize, MaxDepth: h.cfg.MaxDepth})
	if err := sel.Open(r.Context()); err != nil {
		sel.Close()
		handleError(w, h.logger, err)
		return
	}
	id := h.selections.Add(req.TreeID, sel)

	httputil.RespondJSON(w, http.StatusCreated, toSelectionResponse(id, sel.State()))
}

// GetSelection returns the picker state
// GET /api/selections/{id}
func (h *SelectionsHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	id, sel, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httputil.RespondJSON(w, http.StatusOK, toSelectionResponse(id, sel.State()))
}

// Select chooses a node at a depth, clearing every deeper depth
// POST /api/selections/{id}/select
func (h *SelectionsHandler) Select(w http.ResponseWriter, r *http.Request) {
	id, sel, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := decode(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := sel.Select(r.Context(), req.Depth, req.NodeID); err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, toSelectionResponse(id, sel.State()))
}

// SetPage moves a depth to another page of its candidates
// POST /api/selections/{id}/page
func (h *SelectionsHandler) SetPage(w http.ResponseWriter, r *http.Request) {
	id, sel, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req pageRequest
	if err := decode(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := sel.SetPage(req.Depth, req.Page); err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, toSelectionResponse(id, sel.State()))
}

// Resolve jumps the picker to a machine id
// POST /api/selections/{id}/resolve
func (h *SelectionsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, sel, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decode(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := sel.Resolve(r.Context(), req.ExternalID); err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, toSelectionResponse(id, sel.State()))
}

// StreamSelection sends the current state, then one event per transition.
// Bursts coalesce to the newest state. The stream ends with a "closed" event
// once the picker is deleted.
// GET /api/selections/{id}/events
func (h *SelectionsHandler) StreamSelection(w http.ResponseWriter, r *http.Request) {
	id, sel, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var (
		mu     sync.Mutex
		latest models.SelectionState
	)
	wake := make(chan struct{}, 1)
	cancel := sel.Subscribe(func(st models.SelectionState) {
		mu.Lock()
		latest = st
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer cancel()

	stream, err := sse.Open(w)
	if err != nil {
		h.logger.Warn("selection stream not opened", "selection_id", id, "error", err)
		return
	}
	h.logger.Debug("selection stream opened", "selection_id", id)

	current := sel.State()
	sent := current.Version
	if err := stream.WriteEvent("state", sent, toSelectionResponse(id, current)); err != nil {
		return
	}

	ticker := time.NewTicker(h.cfg.Stream.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("selection stream client gone", "selection_id", id)
			return

		case <-wake:
			mu.Lock()
			st := latest
			mu.Unlock()
			if st.Version <= sent {
				continue
			}
			sent = st.Version
			if err := stream.WriteEvent("state", sent, toSelectionResponse(id, st)); err != nil {
				h.logger.Debug("selection stream write failed", "selection_id", id, "error", err)
				return
			}

		case <-ticker.C:
			// an open stream counts as activity
			if _, ok := h.selections.Get(id); !ok {
				_ = stream.WriteEvent("closed", sent, map[string]string{"id": id})
				return
			}
			if err := stream.WriteKeepAlive(); err != nil {
				return
			}
		}
	}
}

// DeleteSelection closes the picker
// DELETE /api/selections/{id}
func (h *SelectionsHandler) DeleteSelection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.selections.Remove(id) {
		handleError(w, h.logger, sessionNotFound("selection", id))
		return
	}
	httputil.RespondNoContent(w)
}

func (h *SelectionsHandler) lookup(w http.ResponseWriter, r *http.Request) (string, *hierarchy.Selection, bool) {
	id := r.PathValue("id")
	sel, ok := h.selections.Get(id)
	if !ok {
		handleError(w, h.logger, sessionNotFound("selection", id))
		return "", nil, false
	}
	return id, sel, true
}
