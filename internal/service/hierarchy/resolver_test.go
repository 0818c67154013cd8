package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"pgregory.net/rapid"

	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
)

func siteWithSiblings(n int) *fakeSource {
	nodes := append([]models.Node{level("site", "Plant", "")}, numberedSiblings("site", n)...)
	return newFakeSource(nodes...)
}

func TestResolvePathNumericPage(t *testing.T) {
	h := newHarness(siteWithSiblings(25), 0)

	res, err := h.resolver.ResolvePath(context.Background(), &svc.ResolvePathRequest{
		TreeID:     testTree,
		ExternalID: "M-17",
		PageSize:   10,
	})
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}

	if got := nodeIDs(res.Ancestors); !slices.Equal(got, []string{"site", "site-17"}) {
		t.Fatalf("ancestors = %v", got)
	}
	if len(res.Levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(res.Levels))
	}
	depth1 := res.Levels[1]
	if depth1.Pagination.CurrentPage != 2 {
		t.Errorf("page = %d, want 2", depth1.Pagination.CurrentPage)
	}
	if depth1.Pagination.TotalCount != 25 {
		t.Errorf("total = %d, want 25", depth1.Pagination.TotalCount)
	}
	if got := depth1.Candidates[9].Name; got != "Level 10" {
		t.Errorf("tenth candidate = %q, want Level 10", got)
	}
	if !slices.Contains(nodeIDs(depth1.PageCandidates()), "site-17") {
		t.Errorf("page 2 does not hold the ancestor: %v", nodeIDs(depth1.PageCandidates()))
	}
	if !res.IsLeafNode || !res.Complete() {
		t.Error("leaf without children not marked complete")
	}
	if res.Ancestors[1].HasChildren {
		t.Error("leaf ancestor still claims children")
	}
}

func TestResolvePathSingleRootLeaf(t *testing.T) {
	b := level("B", "Building B", "")
	b.ExternalID = "M-B"
	h := newHarness(newFakeSource(b, level("C", "Building C", "")), 0)

	res, err := h.resolver.ResolvePath(context.Background(), &svc.ResolvePathRequest{
		TreeID:     testTree,
		ExternalID: "M-B",
	})
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got := nodeIDs(res.Ancestors); !slices.Equal(got, []string{"B"}) {
		t.Errorf("ancestors = %v, want [B]", got)
	}
	if !res.IsLeafNode {
		t.Error("IsLeafNode = false")
	}
	if len(res.Levels) != 1 {
		t.Fatalf("levels = %d, want 1", len(res.Levels))
	}
	l := res.Levels[0]
	if l.SelectedID != "B" || l.Pagination.CurrentPage != 1 || l.Pagination.PageSize != 10 {
		t.Errorf("level = %+v", l)
	}
	if got := nodeIDs(l.Candidates); !slices.Equal(got, []string{"B", "C"}) {
		t.Errorf("candidates = %v", got)
	}
}

func TestResolvePathTrailingChildren(t *testing.T) {
	src := smallTree()
	src.nodes[2].ExternalID = "M-a1"
	h := newHarness(src, 0)
	ctx := context.Background()

	res, err := h.resolver.ResolvePath(ctx, &svc.ResolvePathRequest{TreeID: testTree, ExternalID: "M-a1", PageSize: 5})
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if res.IsLeafNode {
		t.Error("node with children marked as leaf")
	}
	if len(res.Levels) != 3 {
		t.Fatalf("levels = %d, want 3", len(res.Levels))
	}
	last := res.Levels[2]
	if last.IsSet() || last.Depth != 2 || last.Pagination.CurrentPage != 1 {
		t.Errorf("trailing level = %+v", last)
	}
	if got := nodeIDs(last.Candidates); !slices.Equal(got, []string{"a1x"}) {
		t.Errorf("trailing candidates = %v", got)
	}
	if _, ok := h.cache.GetNode(ctx, testTree, "a1"); !ok {
		t.Error("ancestor was not cached")
	}
}

func TestResolvePathRefetchesStaleSiblings(t *testing.T) {
	src := newFakeSource(level("a", "A", ""))
	h := newHarness(src, 0)
	ctx := context.Background()

	if _, err := h.loader.Children(ctx, testTree, models.RootID); err != nil {
		t.Fatal(err)
	}
	b := level("b", "B", "")
	b.ExternalID = "M-b"
	src.add(b)

	res, err := h.resolver.ResolvePath(ctx, &svc.ResolvePathRequest{TreeID: testTree, ExternalID: "M-b", PageSize: 1})
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got := res.Levels[0].Pagination.CurrentPage; got != 2 {
		t.Errorf("page = %d, want 2", got)
	}
	if got := src.childCalls(models.RootID); got != 2 {
		t.Errorf("root fetched %d times, want 2", got)
	}
}

func TestResolvePathAncestorMissingFromBackendList(t *testing.T) {
	src := newFakeSource(level("a", "A", ""))
	src.pathOverride = []models.Node{level("ghost", "Ghost", "")}
	h := newHarness(src, 0)

	res, err := h.resolver.ResolvePath(context.Background(), &svc.ResolvePathRequest{TreeID: testTree, ExternalID: "M-ghost"})
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	l := res.Levels[0]
	if got := nodeIDs(l.Candidates); !slices.Equal(got, []string{"a", "ghost"}) {
		t.Errorf("candidates = %v", got)
	}
	if l.Pagination.TotalCount != 2 {
		t.Errorf("total = %d, want 2", l.Pagination.TotalCount)
	}
}

func TestResolvePathRejectsBrokenChain(t *testing.T) {
	tests := []struct {
		name string
		path []models.Node
	}{
		{"interleaved matches", []models.Node{
			level("r1", "Site 1", ""),
			level("r2", "Site 2", ""),
			level("m1", "Hall 1", "r1"),
			level("m2", "Hall 2", "r2"),
		}},
		{"starts below the root", []models.Node{level("a1", "Line 1", "a")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := smallTree()
			src.pathOverride = tt.path
			h := newHarness(src, 0)

			_, err := h.resolver.ResolvePath(context.Background(), &svc.ResolvePathRequest{TreeID: testTree, ExternalID: "M-dup"})
			if !errors.Is(err, domain.ErrFetchFailure) {
				t.Errorf("err = %v, want ErrFetchFailure", err)
			}
			if src.childCalls(models.RootID) != 0 {
				t.Error("sibling lists should not be loaded for a broken path")
			}
		})
	}
}

func TestResolvePathErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     svc.ResolvePathRequest
		fail    bool
		wantErr error
	}{
		{"unknown machine", svc.ResolvePathRequest{TreeID: testTree, ExternalID: "nope"}, false, domain.ErrNotFound},
		{"missing external id", svc.ResolvePathRequest{TreeID: testTree}, false, domain.ErrValidation},
		{"missing tree", svc.ResolvePathRequest{ExternalID: "M-1"}, false, domain.ErrValidation},
		{"negative page size", svc.ResolvePathRequest{TreeID: testTree, ExternalID: "M-1", PageSize: -1}, false, domain.ErrValidation},
		{"page size too large", svc.ResolvePathRequest{TreeID: testTree, ExternalID: "M-1", PageSize: 10_000}, false, domain.ErrValidation},
		{"backend down", svc.ResolvePathRequest{TreeID: testTree, ExternalID: "M-1"}, true, domain.ErrFetchFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := siteWithSiblings(3)
			if tt.fail {
				src.setFailure("path", errors.New("connection refused"))
			}
			h := newHarness(src, 0)
			req := tt.req
			_, err := h.resolver.ResolvePath(context.Background(), &req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePathPageProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 60).Draw(t, "siblings")
		k := rapid.IntRange(1, n).Draw(t, "target")
		pageSize := rapid.IntRange(1, 20).Draw(t, "pageSize")

		h := newHarness(siteWithSiblings(n), 0)
		res, err := h.resolver.ResolvePath(context.Background(), &svc.ResolvePathRequest{
			TreeID:     testTree,
			ExternalID: fmt.Sprintf("M-%d", k),
			PageSize:   pageSize,
		})
		if err != nil {
			t.Fatalf("ResolvePath: %v", err)
		}

		l := res.Levels[1]
		if want := (k-1)/pageSize + 1; l.Pagination.CurrentPage != want {
			t.Fatalf("page = %d, want %d", l.Pagination.CurrentPage, want)
		}
		if !slices.Contains(nodeIDs(l.PageCandidates()), fmt.Sprintf("site-%d", k)) {
			t.Fatalf("ancestor not on its page")
		}
		if l.Pagination.TotalCount != n {
			t.Fatalf("total = %d, want %d", l.Pagination.TotalCount, n)
		}
	})
}
