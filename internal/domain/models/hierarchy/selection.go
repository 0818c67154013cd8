package hierarchy

// PaginationState describes which page of a depth's candidate list is shown
type PaginationState struct {
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
	TotalCount  int `json:"total_count"`
}

// PageForIndex returns the 1-based page holding the item at a 0-based index
func PageForIndex(index, pageSize int) int {
	if index < 0 || pageSize <= 0 {
		return 1
	}
	return index/pageSize + 1
}

// TotalPages returns the number of pages, at least 1
func (p PaginationState) TotalPages() int {
	if p.PageSize <= 0 || p.TotalCount <= 0 {
		return 1
	}
	return (p.TotalCount + p.PageSize - 1) / p.PageSize
}

// Bounds returns the [start, end) slice bounds of the current page
func (p PaginationState) Bounds() (int, int) {
	if p.PageSize <= 0 {
		return 0, p.TotalCount
	}
	page := p.CurrentPage
	if page < 1 {
		page = 1
	}
	start := (page - 1) * p.PageSize
	if start > p.TotalCount {
		start = p.TotalCount
	}
	end := start + p.PageSize
	if end > p.TotalCount {
		end = p.TotalCount
	}
	return start, end
}

// SelectionLevel is one depth of a cascading picker
type SelectionLevel struct {
	Depth      int             `json:"depth"`
	SelectedID string          `json:"selected_id,omitempty"` // "" = unset
	Candidates []Node          `json:"-"`                     // full sorted list, kept for page changes
	Pagination PaginationState `json:"pagination"`
}

// IsSet reports whether a value is chosen at this depth
func (l SelectionLevel) IsSet() bool {
	return l.SelectedID != ""
}

// PageCandidates returns the current page's slice of the candidate list
func (l SelectionLevel) PageCandidates() []Node {
	start, end := l.Pagination.Bounds()
	if start >= len(l.Candidates) {
		return []Node{}
	}
	if end > len(l.Candidates) {
		end = len(l.Candidates)
	}
	return l.Candidates[start:end]
}

// Selected returns the chosen candidate, if any
func (l SelectionLevel) Selected() (Node, bool) {
	if !l.IsSet() {
		return Node{}, false
	}
	for _, c := range l.Candidates {
		if c.ID == l.SelectedID {
			return c, true
		}
	}
	return Node{}, false
}

// Clone deep-copies the level
func (l SelectionLevel) Clone() SelectionLevel {
	out := l
	out.Candidates = make([]Node, len(l.Candidates))
	for i, c := range l.Candidates {
		out.Candidates[i] = c.Clone()
	}
	return out
}

// SelectionState is the whole state of one cascading picker.
// Levels are indexed by depth; once a depth is unset every deeper depth is unset too.
type SelectionState struct {
	TreeID   string           `json:"tree_id"`
	Levels   []SelectionLevel `json:"levels"`
	Complete bool             `json:"is_complete"`
	Version  uint64           `json:"version"`
}

// SelectedIDs returns the chosen ids from depth 0 downward
func (s SelectionState) SelectedIDs() []string {
	ids := make([]string, 0, len(s.Levels))
	for _, l := range s.Levels {
		if !l.IsSet() {
			break
		}
		ids = append(ids, l.SelectedID)
	}
	return ids
}

// Clone deep-copies the state
func (s SelectionState) Clone() SelectionState {
	out := s
	out.Levels = make([]SelectionLevel, len(s.Levels))
	for i, l := range s.Levels {
		out.Levels[i] = l.Clone()
	}
	return out
}

// PathResolution is the output of resolving an external identifier to a tree path
type PathResolution struct {
	TreeID    string `json:"tree_id"`
	Ancestors []Node `json:"ancestors"` // root -> leaf
	// Levels has one entry per ancestor (selected) plus, when the leaf has
	// children, one trailing unselected level holding them at page 1.
	Levels     []SelectionLevel `json:"levels"`
	IsLeafNode bool             `json:"is_leaf_node"`
}

// Complete reports whether the resolved path ends at a node without children
func (r PathResolution) Complete() bool {
	return r.IsLeafNode
}

// PerLevelPage returns the pagination of every resolved depth
func (r PathResolution) PerLevelPage() map[int]PaginationState {
	out := make(map[int]PaginationState, len(r.Levels))
	for _, l := range r.Levels {
		out[l.Depth] = l.Pagination
	}
	return out
}
