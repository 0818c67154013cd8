package handler

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"osmlevels/internal/config"
	models "osmlevels/internal/domain/models/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
)

// Requests

type createViewRequest struct {
	TreeID string `json:"tree_id"`
}

func (r *createViewRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TreeID, validation.Required, validation.Length(1, config.MaxTreeIDLength)),
	)
}

type nodeRequest struct {
	NodeID string `json:"node_id"`
}

func (r *nodeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.NodeID, validation.Required),
	)
}

type createSelectionRequest struct {
	TreeID   string `json:"tree_id"`
	PageSize int    `json:"page_size"`
}

func (r *createSelectionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TreeID, validation.Required, validation.Length(1, config.MaxTreeIDLength)),
		validation.Field(&r.PageSize, validation.Min(0), validation.Max(config.MaxPageSize)),
	)
}

type selectRequest struct {
	Depth  int    `json:"depth"`
	NodeID string `json:"node_id"`
}

func (r *selectRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Depth, validation.Min(0)),
		validation.Field(&r.NodeID, validation.Required),
	)
}

type pageRequest struct {
	Depth int `json:"depth"`
	Page  int `json:"page"`
}

func (r *pageRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Depth, validation.Min(0)),
		validation.Field(&r.Page, validation.Required, validation.Min(1)),
	)
}

type resolveRequest struct {
	ExternalID string `json:"external_id"`
}

func (r *resolveRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ExternalID, validation.Required, validation.Length(1, config.MaxExternalIDLength)),
	)
}

// Responses

type childrenResponse struct {
	TreeID   string        `json:"tree_id"`
	ParentID string        `json:"parent_id"`
	Children []models.Node `json:"children"`
}

type statsResponse struct {
	TreeID   string           `json:"tree_id"`
	Stats    models.Stats     `json:"stats"`
	Strategy svc.LoadStrategy `json:"strategy"`
}

// levelResponse is one picker depth with only its current page of candidates
type levelResponse struct {
	Depth      int                    `json:"depth"`
	SelectedID string                 `json:"selected_id,omitempty"`
	Pagination models.PaginationState `json:"pagination"`
	TotalPages int                    `json:"total_pages"`
	Candidates []models.Node          `json:"candidates"`
}

func toLevelResponses(levels []models.SelectionLevel) []levelResponse {
	out := make([]levelResponse, len(levels))
	for i, l := range levels {
		out[i] = levelResponse{
			Depth:      l.Depth,
			SelectedID: l.SelectedID,
			Pagination: l.Pagination,
			TotalPages: l.Pagination.TotalPages(),
			Candidates: l.PageCandidates(),
		}
	}
	return out
}

type resolutionResponse struct {
	TreeID     string          `json:"tree_id"`
	Ancestors  []models.Node   `json:"ancestors"`
	Levels     []levelResponse `json:"levels"`
	IsLeafNode bool            `json:"is_leaf_node"`
}

func toResolutionResponse(res *models.PathResolution) resolutionResponse {
	return resolutionResponse{
		TreeID:     res.TreeID,
		Ancestors:  res.Ancestors,
		Levels:     toLevelResponses(res.Levels),
		IsLeafNode: res.IsLeafNode,
	}
}

type selectionResponse struct {
	ID         string          `json:"id"`
	TreeID     string          `json:"tree_id"`
	Levels     []levelResponse `json:"levels"`
	IsComplete bool            `json:"is_complete"`
	Version    uint64          `json:"version"`
}

func toSelectionResponse(id string, st models.SelectionState) selectionResponse {
	return selectionResponse{
		ID:         id,
		TreeID:     st.TreeID,
		Levels:     toLevelResponses(st.Levels),
		IsComplete: st.Complete,
		Version:    st.Version,
	}
}

type viewResponse struct {
	ID       string                `json:"id"`
	TreeID   string                `json:"tree_id"`
	Strategy svc.LoadStrategy      `json:"strategy"`
	Nodes    []*models.DisplayNode `json:"nodes"`
}
