package tui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/text/language"

	"osmlevels/internal/config"
	models "osmlevels/internal/domain/models/hierarchy"
	"osmlevels/internal/repository/memory"
	"osmlevels/internal/service/cache"
	"osmlevels/internal/service/hierarchy"
	"osmlevels/internal/service/notify"
)

// plantSource serves two halls with three lines under hall A
type plantSource struct {
	down map[string]bool
}

var plantNodes = []models.Node{
	{ID: "a", Name: "Hall A"},
	{ID: "b", Name: "Hall B", ExternalID: "M-B"},
	{ID: "a10", Name: "Line 10", ParentID: models.ParentRef("a"), ExternalID: "M-10"},
	{ID: "a2", Name: "Line 2", ParentID: models.ParentRef("a"), ExternalID: "M-2"},
	{ID: "a1", Name: "Line 1", ParentID: models.ParentRef("a"), ExternalID: "M-1"},
}

func (s *plantSource) FetchChildren(ctx context.Context, treeID, parentID string) ([]models.Node, error) {
	if s.down[parentID] {
		return nil, errors.New("connection refused")
	}
	var out []models.Node
	for _, n := range plantNodes {
		if n.ParentKey() == parentID {
			n = n.Clone()
			if n.ID == "a" {
				n.HasChildren = true
				n.ChildrenCount = 3
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *plantSource) FetchPathByExternalID(ctx context.Context, treeID, externalID string) ([]models.Node, error) {
	for _, n := range plantNodes {
		if n.ExternalID != externalID {
			continue
		}
		if n.IsRoot() {
			return []models.Node{n}, nil
		}
		parent := plantNodes[0].Clone()
		parent.HasChildren = true
		parent.ChildrenCount = 3
		return []models.Node{parent, n}, nil
	}
	return nil, nil
}

func (s *plantSource) FetchStats(ctx context.Context, treeID string) (models.Stats, error) {
	return models.Stats{TotalNodes: 1000, RootCount: 2, MaxDepth: 2}, nil
}

func newTestModel(t *testing.T, source *plantSource) Model {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := config.NewPolicyStore(config.CachePolicy{
		NodeTTL:       10 * time.Minute,
		ChunkTTL:      5 * time.Minute,
		StatsTTL:      time.Hour,
		SweepInterval: time.Minute,
	})
	nodeCache := cache.NewNodeCache(memory.NewCacheStore(), policy, logger)
	loader := hierarchy.NewLoader(source, nodeCache, &notify.Recorder{}, logger, hierarchy.LoaderConfig{
		EagerLoadThreshold: 10,
		ExpandConcurrency:  2,
	})
	resolver := hierarchy.NewResolver(source, nodeCache, loader, hierarchy.NewNameOrder(language.English), logger, hierarchy.ResolverConfig{})
	view := hierarchy.NewTreeView("plant-7", loader, logger, 3)
	t.Cleanup(view.Close)

	m := New(context.Background(), Options{View: view, Resolver: resolver})
	m = step(t, m, m.openCmd()())
	return step(t, m, tea.WindowSizeMsg{Width: 80, Height: 20})
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, _ := m.Update(msg)
	return updated.(Model)
}

// press sends a key and runs the resulting command, if any, to completion
func press(t *testing.T, m Model, keyName string) Model {
	t.Helper()
	updated, cmd := m.Update(keyMsg(keyName))
	m = updated.(Model)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			m = step(t, m, msg)
		}
	}
	return m
}

func keyMsg(name string) tea.KeyMsg {
	switch name {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(name)}
}

func rowIDs(m Model) []string {
	ids := make([]string, len(m.rows))
	for i, r := range m.rows {
		ids[i] = r.Node.ID
	}
	return ids
}

func currentID(m Model) string {
	if n := m.current(); n != nil {
		return n.ID
	}
	return ""
}

func TestOpenShowsRoots(t *testing.T) {
	m := newTestModel(t, &plantSource{})

	if got := strings.Join(rowIDs(m), ","); got != "a,b" {
		t.Fatalf("rows = %s, want a,b", got)
	}
	if m.pending != 0 {
		t.Errorf("pending = %d after open", m.pending)
	}
	if !strings.Contains(m.status, "lazy") {
		t.Errorf("status %q should name the lazy strategy", m.status)
	}
	if !strings.Contains(m.View(), "Hall A") {
		t.Error("view should render root names")
	}
}

func TestExpandAndCollapse(t *testing.T) {
	m := newTestModel(t, &plantSource{})

	m = press(t, m, "enter")
	if got := strings.Join(rowIDs(m), ","); got != "a,a10,a2,a1,b" {
		t.Fatalf("rows after expand = %s", got)
	}
	if currentID(m) != "a" {
		t.Errorf("cursor should stay on a, got %s", currentID(m))
	}

	m = press(t, m, "down")
	m = press(t, m, "left")
	if currentID(m) != "a" {
		t.Errorf("left on a child should move to its parent, got %s", currentID(m))
	}

	m = press(t, m, "left")
	if got := strings.Join(rowIDs(m), ","); got != "a,b" {
		t.Errorf("rows after collapse = %s", got)
	}
}

func TestExpandLeafIsNoop(t *testing.T) {
	m := newTestModel(t, &plantSource{})
	m = press(t, m, "down")

	updated, cmd := m.Update(keyMsg("enter"))
	if cmd != nil {
		t.Error("expanding a leaf should not issue a load")
	}
	if got := strings.Join(rowIDs(updated.(Model)), ","); got != "a,b" {
		t.Errorf("rows = %s", got)
	}
}

func TestExpandFailureShowsError(t *testing.T) {
	source := &plantSource{down: map[string]bool{"a": true}}
	m := newTestModel(t, source)

	m = press(t, m, "enter")
	if m.failure == "" {
		t.Fatal("expected failure in status line")
	}
	if got := strings.Join(rowIDs(m), ","); got != "a,b" {
		t.Errorf("failed branch should stay collapsed, rows = %s", got)
	}

	source.down = nil
	m = press(t, m, "esc")
	if m.failure != "" {
		t.Error("esc should dismiss the failure")
	}
	m = press(t, m, "enter")
	if len(m.rows) != 5 {
		t.Errorf("retry should load the branch, rows = %v", rowIDs(m))
	}
}

func TestJumpToMachine(t *testing.T) {
	m := newTestModel(t, &plantSource{})

	m = press(t, m, "/")
	if !m.searching {
		t.Fatal("/ should open the jump prompt")
	}
	for _, r := range "M-2" {
		m = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m = press(t, m, "enter")

	if m.searching {
		t.Error("prompt should close after enter")
	}
	if m.failure != "" {
		t.Fatalf("unexpected failure %q", m.failure)
	}
	if currentID(m) != "a2" {
		t.Errorf("cursor on %s, want a2", currentID(m))
	}
}

func TestJumpUnknownMachine(t *testing.T) {
	m := newTestModel(t, &plantSource{})

	m = press(t, m, "/")
	for _, r := range "nope" {
		m = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m = press(t, m, "enter")

	if m.failure == "" {
		t.Error("expected failure for an unknown machine id")
	}
	if currentID(m) != "a" {
		t.Errorf("cursor should not move, got %s", currentID(m))
	}
}

func TestJumpPromptEscape(t *testing.T) {
	m := newTestModel(t, &plantSource{})

	m = press(t, m, "/")
	m = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = press(t, m, "esc")

	if m.searching {
		t.Error("esc should close the prompt")
	}
	if m.search.Value() != "" {
		t.Error("prompt should be cleared")
	}
}

func TestRefreshKeepsExpansion(t *testing.T) {
	m := newTestModel(t, &plantSource{})
	m = press(t, m, "enter")
	m = press(t, m, "r")

	if got := strings.Join(rowIDs(m), ","); got != "a,a10,a2,a1,b" {
		t.Errorf("rows after refresh = %s", got)
	}
	if !strings.HasPrefix(m.status, "refreshed") {
		t.Errorf("status = %q", m.status)
	}
}

func TestCursorBounds(t *testing.T) {
	m := newTestModel(t, &plantSource{})

	m = press(t, m, "up")
	if m.cursor != 0 {
		t.Errorf("cursor = %d after up at top", m.cursor)
	}
	m = press(t, m, "G")
	if currentID(m) != "b" {
		t.Errorf("G should move to the last row, got %s", currentID(m))
	}
	m = press(t, m, "down")
	if currentID(m) != "b" {
		t.Errorf("down at bottom should stay, got %s", currentID(m))
	}
}

func TestReportsReachStatusLine(t *testing.T) {
	reports := make(chan string, 1)
	m := newTestModel(t, &plantSource{})
	m.reports = reports

	reports <- "backend unavailable"
	m = step(t, m, m.waitForReport()())
	if m.failure != "backend unavailable" {
		t.Errorf("failure = %q", m.failure)
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(t, &plantSource{})
	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}
