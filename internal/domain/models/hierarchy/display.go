package hierarchy

import "encoding/json"

// ChildState is the tagged variant of a display node's child slot
type ChildState int

const (
	// ChildStateLeaf: known to have no children
	ChildStateLeaf ChildState = iota
	// ChildStatePending: exactly one placeholder child, not yet expanded
	ChildStatePending
	// ChildStateLoaded: zero or more real children
	ChildStateLoaded
)

// String returns the wire name of the state
func (s ChildState) String() string {
	switch s {
	case ChildStatePending:
		return "pending"
	case ChildStateLoaded:
		return "loaded"
	default:
		return "leaf"
	}
}

// MarshalJSON encodes the state by name
func (s ChildState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name; unknown names decode as leaf
func (s *ChildState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "pending":
		*s = ChildStatePending
	case "loaded":
		*s = ChildStateLoaded
	default:
		*s = ChildStateLeaf
	}
	return nil
}

// PlaceholderPrefix prefixes the synthetic id of placeholder children
const PlaceholderPrefix = "placeholder:"

// DisplayAttributes are the UI-facing flags of a display node
type DisplayAttributes struct {
	IsPlaceholder bool            `json:"is_placeholder"`
	IsLoaded      bool            `json:"is_loaded"`
	HasChildren   bool            `json:"has_children"`
	ChildrenCount int             `json:"children_count"`
	ParentID      string          `json:"parent_id,omitempty"`
	ExternalID    string          `json:"external_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// DisplayNode is a mutable node of an on-screen tree.
// Children must only be changed through SetPending, SetChildren and SetLeaf
// so the child slot never mixes a placeholder with real children.
type DisplayNode struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Children   []*DisplayNode    `json:"children"`
	Attributes DisplayAttributes `json:"attributes"`
	State      ChildState        `json:"state"`
	Expanded   bool              `json:"expanded"`
}

// NewDisplayNode creates a childless display node for n
func NewDisplayNode(n Node) *DisplayNode {
	d := &DisplayNode{
		ID:   n.ID,
		Name: n.Name,
		Attributes: DisplayAttributes{
			HasChildren:   n.HasChildren,
			ChildrenCount: n.ChildrenCount,
			ExternalID:    n.ExternalID,
		},
		Children: []*DisplayNode{},
	}
	if !n.IsRoot() {
		d.Attributes.ParentID = *n.ParentID
	}
	if n.Payload != nil {
		d.Attributes.Payload = append(json.RawMessage(nil), n.Payload...)
	}
	return d
}

// NewPlaceholder creates the synthetic stand-in child for parentID
func NewPlaceholder(parentID string) *DisplayNode {
	return &DisplayNode{
		ID:       PlaceholderPrefix + parentID,
		Children: []*DisplayNode{},
		Attributes: DisplayAttributes{
			IsPlaceholder: true,
			ParentID:      parentID,
		},
	}
}

// IsPlaceholder reports whether d is a synthetic placeholder
func (d *DisplayNode) IsPlaceholder() bool {
	return d.Attributes.IsPlaceholder
}

// IsLoaded reports whether the child slot holds real children
func (d *DisplayNode) IsLoaded() bool {
	return d.State == ChildStateLoaded
}

// Expandable reports whether a click on d should open a branch
func (d *DisplayNode) Expandable() bool {
	if d.IsPlaceholder() {
		return false
	}
	return d.State == ChildStatePending || len(d.Children) > 0
}

// ExpandTarget returns the node id a load must be issued for when d is clicked.
// Placeholders route to their parent, never to their own synthetic id.
func (d *DisplayNode) ExpandTarget() string {
	if d.IsPlaceholder() {
		return d.Attributes.ParentID
	}
	return d.ID
}

// SetPending replaces the child slot with a single placeholder
func (d *DisplayNode) SetPending() {
	d.State = ChildStatePending
	d.Children = []*DisplayNode{NewPlaceholder(d.ID)}
	d.Attributes.IsLoaded = false
	d.Attributes.HasChildren = true
	d.Expanded = false
}

// SetChildren replaces the child slot with real children
func (d *DisplayNode) SetChildren(children []*DisplayNode) {
	if children == nil {
		children = []*DisplayNode{}
	}
	d.State = ChildStateLoaded
	d.Children = children
	d.Attributes.IsLoaded = true
	d.Attributes.HasChildren = len(children) > 0
	d.Attributes.ChildrenCount = len(children)
	if len(children) == 0 {
		d.Expanded = false
	}
}

// SetLeaf marks d as known to have no children
func (d *DisplayNode) SetLeaf() {
	d.State = ChildStateLeaf
	d.Children = []*DisplayNode{}
	d.Attributes.IsLoaded = false
	d.Attributes.HasChildren = false
	d.Attributes.ChildrenCount = 0
	d.Expanded = false
}

// Clone returns a deep copy of the subtree rooted at d
func (d *DisplayNode) Clone() *DisplayNode {
	if d == nil {
		return nil
	}
	out := *d
	if d.Attributes.Payload != nil {
		out.Attributes.Payload = append(json.RawMessage(nil), d.Attributes.Payload...)
	}
	out.Children = make([]*DisplayNode, len(d.Children))
	for i, c := range d.Children {
		out.Children[i] = c.Clone()
	}
	return &out
}
