package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
)

func regionTree() *fakeSource {
	l1 := level("l1", "Line 1", "s1")
	l1.ExternalID = "M-L1"
	return newFakeSource(
		level("r1", "Region 1", ""),
		level("r2", "Region 2", ""),
		level("s1", "Site 1", "r1"),
		level("s2", "Site 2", "r1"),
		l1,
	)
}

func newTestSelection(h *harness, cfg SelectionConfig) *Selection {
	return NewSelection(testTree, h.loader, h.resolver, h.notifier, h.order, testLogger(), cfg)
}

// snapshots collects emitted states
type snapshots struct {
	mu     sync.Mutex
	states []models.SelectionState
}

func (s *snapshots) record(st models.SelectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *snapshots) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func mustOpen(t *testing.T, s *Selection) {
	t.Helper()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestSelectionOpen(t *testing.T) {
	h := newHarness(regionTree(), 0)
	s := newTestSelection(h, SelectionConfig{})
	mustOpen(t, s)

	st := s.State()
	if len(st.Levels) != 1 {
		t.Fatalf("levels = %d, want 1", len(st.Levels))
	}
	if got := nodeIDs(st.Levels[0].Candidates); !slices.Equal(got, []string{"r1", "r2"}) {
		t.Errorf("candidates = %v", got)
	}
	if st.Complete || st.Levels[0].IsSet() {
		t.Errorf("fresh picker state = %+v", st)
	}
	if st.Levels[0].Pagination.PageSize != 10 {
		t.Errorf("default page size = %d", st.Levels[0].Pagination.PageSize)
	}
}

func TestSelectionCascade(t *testing.T) {
	h := newHarness(regionTree(), 0)
	s := newTestSelection(h, SelectionConfig{PageSize: 10})
	ctx := context.Background()
	mustOpen(t, s)

	steps := []struct {
		depth    int
		nodeID   string
		levels   int
		complete bool
		selected []string
	}{
		{0, "r1", 2, false, []string{"r1"}},
		{1, "s1", 3, false, []string{"r1", "s1"}},
		{2, "l1", 3, true, []string{"r1", "s1", "l1"}},
		{0, "r2", 1, true, []string{"r2"}},
		{0, "r1", 2, false, []string{"r1"}},
		{1, "s2", 2, true, []string{"r1", "s2"}},
	}
	for _, step := range steps {
		if err := s.Select(ctx, step.depth, step.nodeID); err != nil {
			t.Fatalf("Select(%d, %s): %v", step.depth, step.nodeID, err)
		}
		st := s.State()
		if len(st.Levels) != step.levels {
			t.Errorf("after %s: levels = %d, want %d", step.nodeID, len(st.Levels), step.levels)
		}
		if st.Complete != step.complete {
			t.Errorf("after %s: complete = %v, want %v", step.nodeID, st.Complete, step.complete)
		}
		if got := st.SelectedIDs(); !slices.Equal(got, step.selected) {
			t.Errorf("after %s: selected = %v, want %v", step.nodeID, got, step.selected)
		}
	}

	// r2 and s2 are known leaves: no fetch was needed to complete them
	if got := h.source.childCalls("r2"); got != 0 {
		t.Errorf("r2 fetched %d times", got)
	}
}

func TestSelectionRejectsInvalidSelections(t *testing.T) {
	h := newHarness(regionTree(), 0)
	s := newTestSelection(h, SelectionConfig{})
	ctx := context.Background()
	mustOpen(t, s)

	tests := []struct {
		name    string
		depth   int
		nodeID  string
		wantErr error
	}{
		{"depth not open", 1, "s1", domain.ErrValidation},
		{"negative depth", -1, "r1", domain.ErrValidation},
		{"not a candidate", 0, "s1", domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Select(ctx, tt.depth, tt.nodeID); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSelectionLoadFailureKeepsSelection(t *testing.T) {
	src := regionTree()
	h := newHarness(src, 0)
	s := newTestSelection(h, SelectionConfig{})
	mustOpen(t, s)
	src.setFailure("r1", errors.New("bad gateway"))

	if err := s.Select(context.Background(), 0, "r1"); !errors.Is(err, domain.ErrFetchFailure) {
		t.Fatalf("err = %v, want ErrFetchFailure", err)
	}
	st := s.State()
	if st.Complete {
		t.Error("failed load completed the path")
	}
	if len(st.Levels) != 1 || st.Levels[0].SelectedID != "r1" {
		t.Errorf("state = %+v", st)
	}
	if h.notifier.Count() != 1 {
		t.Errorf("reports = %d, want 1", h.notifier.Count())
	}

	// retry by selecting again
	src.setFailure("r1", nil)
	if err := s.Select(context.Background(), 0, "r1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(s.State().Levels) != 2 {
		t.Error("retry did not load depth 1")
	}
}

func TestSelectionDropsSupersededLoad(t *testing.T) {
	src := regionTree()
	h := newHarness(src, 0)
	s := newTestSelection(h, SelectionConfig{})
	ctx := context.Background()
	mustOpen(t, s)

	release := src.block("r1")
	defer release()
	errc := make(chan error, 1)
	go func() { errc <- s.Select(ctx, 0, "r1") }()
	waitStarted(t, src, "r1")

	if err := s.Select(ctx, 0, "r2"); err != nil {
		t.Fatalf("Select r2: %v", err)
	}
	release()
	if err := <-errc; err != nil {
		t.Fatalf("superseded Select: %v", err)
	}

	st := s.State()
	if got := st.SelectedIDs(); !slices.Equal(got, []string{"r2"}) {
		t.Errorf("selected = %v, want [r2]", got)
	}
	if len(st.Levels) != 1 || !st.Complete {
		t.Errorf("late load leaked into state: %+v", st)
	}
}

func TestSelectionMaxDepth(t *testing.T) {
	src := regionTree()
	h := newHarness(src, 0)
	s := newTestSelection(h, SelectionConfig{MaxDepth: 2})
	ctx := context.Background()
	mustOpen(t, s)

	if err := s.Select(ctx, 0, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Select(ctx, 1, "s1"); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if !st.Complete || len(st.Levels) != 2 {
		t.Errorf("state = %+v, want complete with 2 levels", st)
	}
	if got := src.childCalls("s1"); got != 0 {
		t.Errorf("s1 fetched %d times past the last picker", got)
	}
}

func TestSelectionSetPage(t *testing.T) {
	h := newHarness(siteWithSiblings(25), 0)
	s := newTestSelection(h, SelectionConfig{PageSize: 10})
	ctx := context.Background()
	mustOpen(t, s)
	if err := s.Select(ctx, 0, "site"); err != nil {
		t.Fatal(err)
	}
	fetches := h.source.childCalls("site")

	if err := s.SetPage(1, 3); err != nil {
		t.Fatalf("SetPage: %v", err)
	}
	page := s.State().Levels[1].PageCandidates()
	if got := names(page); !slices.Equal(got, []string{"Level 21", "Level 22", "Level 23", "Level 24", "Level 25"}) {
		t.Errorf("page 3 = %v", got)
	}
	if h.source.childCalls("site") != fetches {
		t.Error("SetPage refetched candidates")
	}

	for _, tt := range []struct{ depth, page int }{{1, 4}, {1, 0}, {2, 1}} {
		if err := s.SetPage(tt.depth, tt.page); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("SetPage(%d, %d) = %v, want ErrValidation", tt.depth, tt.page, err)
		}
	}
}

func TestSelectionResolveAppliesInOneTransition(t *testing.T) {
	h := newHarness(regionTree(), 0)
	s := newTestSelection(h, SelectionConfig{})
	mustOpen(t, s)

	var got snapshots
	cancel := s.Subscribe(got.record)
	defer cancel()

	if err := s.Resolve(context.Background(), "M-L1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.count() != 1 {
		t.Fatalf("emitted %d snapshots, want 1", got.count())
	}
	st := got.states[0]
	if !st.Complete {
		t.Error("resolved leaf not complete")
	}
	if ids := st.SelectedIDs(); !slices.Equal(ids, []string{"r1", "s1", "l1"}) {
		t.Errorf("selected = %v", ids)
	}
}

func TestSelectionResolveUnknown(t *testing.T) {
	h := newHarness(regionTree(), 0)
	s := newTestSelection(h, SelectionConfig{})
	mustOpen(t, s)
	before := s.State()

	if err := s.Resolve(context.Background(), "M-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if h.notifier.Count() != 1 {
		t.Errorf("reports = %d, want 1", h.notifier.Count())
	}
	if s.State().Version != before.Version {
		t.Error("failed resolve changed the state")
	}
}

func TestSelectionApplyResolvedPathOtherTree(t *testing.T) {
	h := newHarness(regionTree(), 0)
	s := newTestSelection(h, SelectionConfig{})

	err := s.ApplyResolvedPath(&models.PathResolution{TreeID: "elsewhere"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSelectionSubscribeVersions(t *testing.T) {
	h := newHarness(regionTree(), 0)
	s := newTestSelection(h, SelectionConfig{})
	ctx := context.Background()

	var got snapshots
	cancel := s.Subscribe(got.record)
	mustOpen(t, s)
	_ = s.Select(ctx, 0, "r1")
	_ = s.Select(ctx, 1, "s1")
	cancel()
	_ = s.Select(ctx, 0, "r2")

	// open, then a selection plus its load for each Select
	if got.count() != 5 {
		t.Fatalf("snapshots = %d, want 5", got.count())
	}
	for i := 1; i < len(got.states); i++ {
		if got.states[i].Version <= got.states[i-1].Version {
			t.Errorf("version went from %d to %d", got.states[i-1].Version, got.states[i].Version)
		}
	}
}

func TestSelectionClose(t *testing.T) {
	h := newHarness(regionTree(), 0)
	s := newTestSelection(h, SelectionConfig{})
	mustOpen(t, s)
	s.Close()

	if err := s.Select(context.Background(), 0, "r1"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if err := s.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open err = %v, want ErrClosed", err)
	}
}

// gridTree builds width^depth levels; every id encodes its path
func gridTree(width, depth int) *fakeSource {
	var nodes []models.Node
	var build func(parent string, d int)
	build = func(parent string, d int) {
		if d == depth {
			return
		}
		for i := 1; i <= width; i++ {
			id := fmt.Sprintf("%s/%d", parent, i)
			p := parent
			if p == "" {
				id = fmt.Sprint(i)
			}
			nodes = append(nodes, level(id, fmt.Sprintf("Level %d", i), p))
			build(id, d+1)
		}
	}
	build("", 0)
	return newFakeSource(nodes...)
}

func TestSelectionCascadeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(gridTree(3, 3), 0)
		s := newTestSelection(h, SelectionConfig{PageSize: 2})
		ctx := context.Background()
		if err := s.Open(ctx); err != nil {
			t.Fatal(err)
		}

		steps := rapid.IntRange(1, 12).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			st := s.State()
			depth := rapid.IntRange(0, len(st.Levels)-1).Draw(t, fmt.Sprintf("depth%d", i))
			candidates := st.Levels[depth].Candidates
			pick := rapid.IntRange(0, len(candidates)-1).Draw(t, fmt.Sprintf("pick%d", i))
			if err := s.Select(ctx, depth, candidates[pick].ID); err != nil {
				t.Fatalf("Select: %v", err)
			}

			st = s.State()
			last := st.Levels[len(st.Levels)-1]
			if len(st.Levels) != depth+1 && len(st.Levels) != depth+2 {
				t.Fatalf("levels = %d after selecting depth %d", len(st.Levels), depth)
			}
			if st.Complete != last.IsSet() {
				t.Fatalf("complete = %v but last level set = %v", st.Complete, last.IsSet())
			}
			for d, l := range st.Levels {
				if l.Depth != d {
					t.Fatalf("level %d reports depth %d", d, l.Depth)
				}
				if d < len(st.Levels)-1 && !l.IsSet() {
					t.Fatalf("unset depth %d above a deeper level", d)
				}
				if d > 0 {
					for _, c := range l.Candidates {
						if c.ParentKey() != st.Levels[d-1].SelectedID {
							t.Fatalf("candidate %s at depth %d is not under %s", c.ID, d, st.Levels[d-1].SelectedID)
						}
					}
				}
			}
		}
	})
}
