package handler

import (
	"net/http"

	"osmlevels/internal/metrics"
)

// RegisterRoutes mounts the API on mux (Go 1.22+ method patterns)
func RegisterRoutes(mux *http.ServeMux, levels *LevelsHandler, views *ViewsHandler, selections *SelectionsHandler) {
	mux.HandleFunc("GET /health", levels.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	// Tree routes
	mux.HandleFunc("GET /api/trees/{treeId}/children", levels.GetChildren)
	mux.HandleFunc("GET /api/trees/{treeId}/resolve", levels.ResolvePath)
	mux.HandleFunc("GET /api/trees/{treeId}/stats", levels.GetStats)
	mux.HandleFunc("DELETE /api/trees/{treeId}/cache", levels.ClearCache)

	// View routes
	mux.HandleFunc("POST /api/views", views.CreateView)
	mux.HandleFunc("GET /api/views/{id}", views.GetView)
	mux.HandleFunc("POST /api/views/{id}/expand", views.Expand)
	mux.HandleFunc("POST /api/views/{id}/collapse", views.Collapse)
	mux.HandleFunc("POST /api/views/{id}/refresh", views.Refresh)
	mux.HandleFunc("DELETE /api/views/{id}", views.DeleteView)

	// Selection routes
	mux.HandleFunc("POST /api/selections", selections.CreateSelection)
	mux.HandleFunc("GET /api/selections/{id}", selections.GetSelection)
	mux.HandleFunc("POST /api/selections/{id}/select", selections.Select)
	mux.HandleFunc("POST /api/selections/{id}/page", selections.SetPage)
	mux.HandleFunc("POST /api/selections/{id}/resolve", selections.Resolve)
	mux.HandleFunc("GET /api/selections/{id}/events", selections.StreamSelection)
	mux.HandleFunc("DELETE /api/selections/{id}", selections.DeleteSelection)
}
