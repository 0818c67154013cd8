package hierarchy

import (
	models "osmlevels/internal/domain/models/hierarchy"
)

// BuildLazyHierarchy turns raw nodes into display nodes. For each node, in
// order of precedence:
//   - children in loaded[node.ID] become its real children
//   - inline children carried by the node become its real children
//   - HasChildren yields a single placeholder child
//   - otherwise the node is a leaf
func BuildLazyHierarchy(raw []models.Node, loaded map[string][]models.Node) []*models.DisplayNode {
	return buildNodes(raw, loaded, map[string]bool{})
}

func buildNodes(raw []models.Node, loaded map[string][]models.Node, visiting map[string]bool) []*models.DisplayNode {
	out := make([]*models.DisplayNode, 0, len(raw))
	for _, n := range raw {
		out = append(out, buildNode(n, loaded, visiting))
	}
	return out
}

func buildNode(n models.Node, loaded map[string][]models.Node, visiting map[string]bool) *models.DisplayNode {
	d := models.NewDisplayNode(n)

	// a cycle in loaded data ends in a placeholder instead of recursing forever
	if visiting[n.ID] {
		d.SetPending()
		return d
	}
	visiting[n.ID] = true
	defer delete(visiting, n.ID)

	if children, ok := loaded[n.ID]; ok {
		d.SetChildren(buildNodes(children, loaded, visiting))
		return d
	}
	if len(n.Children) > 0 {
		d.SetChildren(buildNodes(n.Children, loaded, visiting))
		return d
	}
	if n.HasChildren || n.ChildrenCount > 0 {
		d.SetPending()
		return d
	}
	d.SetLeaf()
	return d
}

// MergeChildren locates parentID anywhere in tree and replaces only its
// children. Children that were already present keep their loaded subtrees
// and expansion state, so merging the same list twice changes nothing.
// It returns false when parentID is not in the tree.
func MergeChildren(tree []*models.DisplayNode, parentID string, children []models.Node) bool {
	target := FindNode(tree, parentID)
	if target == nil {
		return false
	}
	target.SetChildren(carryOver(target.Children, children))
	return true
}

// MergeRoots rebuilds the top level the same way MergeChildren rebuilds a
// branch, keeping every root that is still present as it was.
func MergeRoots(tree []*models.DisplayNode, roots []models.Node) []*models.DisplayNode {
	return carryOver(tree, roots)
}

func carryOver(previous []*models.DisplayNode, fresh []models.Node) []*models.DisplayNode {
	byID := make(map[string]*models.DisplayNode, len(previous))
	for _, p := range previous {
		if !p.IsPlaceholder() {
			byID[p.ID] = p
		}
	}

	out := make([]*models.DisplayNode, 0, len(fresh))
	for _, n := range fresh {
		d := BuildLazyHierarchy([]models.Node{n}, nil)[0]
		if old, ok := byID[n.ID]; ok {
			switch {
			case old.IsLoaded():
				d.SetChildren(old.Children)
				d.Expanded = old.Expanded
			case d.State == models.ChildStatePending:
				d.Expanded = old.Expanded
			}
		}
		out = append(out, d)
	}
	return out
}

// FindNode returns the real node with id, searching depth first
func FindNode(tree []*models.DisplayNode, id string) *models.DisplayNode {
	for _, n := range tree {
		if n.IsPlaceholder() {
			continue
		}
		if n.ID == id {
			return n
		}
		if found := FindNode(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// FindExpandTarget returns the real node a click on id opens. A real node
// with id wins; otherwise a placeholder with id routes to its parent.
func FindExpandTarget(tree []*models.DisplayNode, id string) *models.DisplayNode {
	if n := FindNode(tree, id); n != nil {
		return n
	}
	if p := findPlaceholder(tree, id); p != nil {
		return FindNode(tree, p.ExpandTarget())
	}
	return nil
}

func findPlaceholder(tree []*models.DisplayNode, id string) *models.DisplayNode {
	for _, n := range tree {
		if n.IsPlaceholder() {
			if n.ID == id {
				return n
			}
			continue
		}
		if found := findPlaceholder(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// CountNodes counts real nodes in the tree
func CountNodes(tree []*models.DisplayNode) int {
	count := 0
	for _, n := range tree {
		if n.IsPlaceholder() {
			continue
		}
		count += 1 + CountNodes(n.Children)
	}
	return count
}

// Row is one visible line of a rendered tree
type Row struct {
	Node  *models.DisplayNode
	Depth int
}

// VisibleRows flattens the tree the way it is drawn: children only under
// expanded nodes, placeholders included so a pending branch shows a stub.
func VisibleRows(tree []*models.DisplayNode) []Row {
	var rows []Row
	var walk func(nodes []*models.DisplayNode, depth int)
	walk = func(nodes []*models.DisplayNode, depth int) {
		for _, n := range nodes {
			rows = append(rows, Row{Node: n, Depth: depth})
			if n.Expanded {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(tree, 0)
	return rows
}

// CloneTree deep-copies a display tree
func CloneTree(tree []*models.DisplayNode) []*models.DisplayNode {
	out := make([]*models.DisplayNode, len(tree))
	for i, n := range tree {
		out[i] = n.Clone()
	}
	return out
}
