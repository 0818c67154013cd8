package main

import (
	"testing"
)

func TestParseDemoTrees(t *testing.T) {
	trees, err := parseTrees(demoTrees)
	if err != nil {
		t.Fatalf("parseTrees: %v", err)
	}
	if len(trees) != 2 {
		t.Fatalf("expected 2 trees, got %d", len(trees))
	}

	nodes := trees[0].flatten()
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	for i, n := range nodes {
		if n.IsRoot() {
			continue
		}
		p, ok := index[*n.ParentID]
		if !ok {
			t.Fatalf("%s: parent %s not seeded", n.ID, *n.ParentID)
		}
		if p >= i {
			t.Errorf("%s listed before its parent %s", n.ID, *n.ParentID)
		}
	}
}

func TestParseTreesRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"tree without id", "trees:\n  - levels: []\n"},
		{"level without name", "trees:\n  - id: a\n    levels:\n      - id: x\n"},
		{"duplicate level", "trees:\n  - id: a\n    levels:\n      - {id: x, name: X}\n      - {id: x, name: Y}\n"},
		{"duplicate tree", "trees:\n  - id: a\n  - id: a\n"},
		{"bad yaml", "trees: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseTrees([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGenerateTree(t *testing.T) {
	tree := generateTree("gen", 3, 2)
	nodes := tree.flatten()
	if len(nodes) != 3+9 {
		t.Fatalf("expected 12 nodes, got %d", len(nodes))
	}
	machines := 0
	for _, n := range nodes {
		if n.ExternalID != "" {
			machines++
		}
	}
	if machines != 9 {
		t.Errorf("expected 9 machine leaves, got %d", machines)
	}
}

func TestFilterTrees(t *testing.T) {
	trees := []seedTree{{ID: "a"}, {ID: "b"}}
	if got := filterTrees(trees, ""); len(got) != 2 {
		t.Errorf("empty filter: got %d trees", len(got))
	}
	if got := filterTrees(trees, "b"); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("filter b: got %+v", got)
	}
	if got := filterTrees(trees, "c"); got != nil {
		t.Errorf("filter c: got %+v", got)
	}
}
