package hierarchy

import (
	"encoding/json"
	"time"
)

// RootID is the sentinel parent id used for root-level children requests and chunk keys
const RootID = "root"

// Node is one level of a site's organizational tree as returned by the backend
type Node struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ParentID      *string         `json:"parent_id"` // nil = root level
	ExternalID    string          `json:"external_id,omitempty"`
	HasChildren   bool            `json:"has_children"`
	ChildrenCount int             `json:"children_count"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Children      []Node          `json:"children,omitempty"` // inline children, when the backend embeds them
}

// IsRoot reports whether the node sits directly under the tree root
func (n Node) IsRoot() bool {
	return n.ParentID == nil || *n.ParentID == "" || *n.ParentID == RootID
}

// ParentKey returns the parent id, or RootID for root-level nodes
func (n Node) ParentKey() string {
	if n.IsRoot() {
		return RootID
	}
	return *n.ParentID
}

// Clone returns a deep copy so callers never share payload buffers
func (n Node) Clone() Node {
	out := n
	if n.ParentID != nil {
		p := *n.ParentID
		out.ParentID = &p
	}
	if n.Payload != nil {
		out.Payload = append(json.RawMessage(nil), n.Payload...)
	}
	if n.Children != nil {
		out.Children = make([]Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// ParentRef converts a parent key back to the nullable form used on Node
func ParentRef(parentID string) *string {
	if parentID == "" || parentID == RootID {
		return nil
	}
	return &parentID
}

// CacheEntry is one node's raw attributes as persisted in the nodes table.
// Inline children are never persisted; membership lives in ChildListChunk.
type CacheEntry struct {
	TreeID        string          `json:"tree_id"`
	NodeID        string          `json:"node_id"`
	Name          string          `json:"name"`
	ParentID      *string         `json:"parent_id"`
	ExternalID    string          `json:"external_id,omitempty"`
	HasChildren   bool            `json:"has_children"`
	ChildrenCount int             `json:"children_count"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	LastUpdated   time.Time       `json:"last_updated"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// NewCacheEntry builds the full record for a node. ttl must be positive so
// that ExpiresAt > LastUpdated holds.
func NewCacheEntry(treeID string, n Node, now time.Time, ttl time.Duration) CacheEntry {
	c := n.Clone()
	return CacheEntry{
		TreeID:        treeID,
		NodeID:        c.ID,
		Name:          c.Name,
		ParentID:      c.ParentID,
		ExternalID:    c.ExternalID,
		HasChildren:   c.HasChildren,
		ChildrenCount: c.ChildrenCount,
		Payload:       c.Payload,
		LastUpdated:   now,
		ExpiresAt:     now.Add(ttl),
	}
}

// Node converts the cached record back into a detached Node
func (e CacheEntry) Node() Node {
	n := Node{
		ID:            e.NodeID,
		Name:          e.Name,
		ParentID:      e.ParentID,
		ExternalID:    e.ExternalID,
		HasChildren:   e.HasChildren,
		ChildrenCount: e.ChildrenCount,
		Payload:       e.Payload,
	}
	return n.Clone()
}

// Expired reports whether the entry must be treated as absent at now
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// ChildListChunk is the cached result of one children fetch for one parent
type ChildListChunk struct {
	TreeID    string    `json:"tree_id"`
	ParentID  string    `json:"parent_id"` // RootID for root level
	Depth     int       `json:"depth"`     // depth budget the chunk was fetched with
	ChildIDs  []string  `json:"child_ids"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the chunk must be treated as absent at now
func (c ChildListChunk) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Stats are the aggregate counters the backend reports for a tree
type Stats struct {
	TotalNodes int `json:"total_nodes"`
	RootCount  int `json:"root_count"`
	MaxDepth   int `json:"max_depth"`
}

// TreeStats is the cached form of Stats
type TreeStats struct {
	TreeID     string    `json:"tree_id"`
	Stats      Stats     `json:"stats"`
	ComputedAt time.Time `json:"computed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the stats must be treated as absent at now
func (s TreeStats) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
