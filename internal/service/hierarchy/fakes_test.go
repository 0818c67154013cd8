package hierarchy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"

	"osmlevels/internal/config"
	models "osmlevels/internal/domain/models/hierarchy"
	"osmlevels/internal/repository/cachetest"
	"osmlevels/internal/repository/memory"
	nodecache "osmlevels/internal/service/cache"
	"osmlevels/internal/service/notify"
)

const testTree = "plant-7"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// level builds a node; parent "" places it at the root
func level(id, name, parent string) models.Node {
	return models.Node{ID: id, Name: name, ParentID: models.ParentRef(parent)}
}

func nodeIDs(nodes []models.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

// fakeSource is an in-memory level backend with call counters and
// per-parent gates for holding a fetch open.
type fakeSource struct {
	mu           sync.Mutex
	nodes        []models.Node
	fail         map[string]error
	gates        map[string]chan struct{}
	started      chan string
	calls        map[string]int
	pathCalls    int
	statsCalls   int
	pathOverride []models.Node
}

func newFakeSource(nodes ...models.Node) *fakeSource {
	return &fakeSource{
		nodes:   nodes,
		fail:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 64),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) add(nodes ...models.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = append(f.nodes, nodes...)
}

func (f *fakeSource) remove(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = slices.DeleteFunc(f.nodes, func(n models.Node) bool {
		return slices.Contains(ids, n.ID)
	})
}

func (f *fakeSource) setFailure(parentID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, parentID)
		return
	}
	f.fail[parentID] = err
}

// block holds every children fetch of parentID until the returned func runs
func (f *fakeSource) block(parentID string) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[parentID] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, parentID)
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeSource) childCalls(parentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[parentID]
}

func (f *fakeSource) statsCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

// decorate fills the child flags from the actual tree. Caller holds f.mu.
func (f *fakeSource) decorate(n models.Node) models.Node {
	n = n.Clone()
	count := 0
	for _, c := range f.nodes {
		if c.ParentKey() == n.ID {
			count++
		}
	}
	n.ChildrenCount = count
	n.HasChildren = n.HasChildren || count > 0
	return n
}

func (f *fakeSource) FetchChildren(ctx context.Context, treeID, parentID string) ([]models.Node, error) {
	f.mu.Lock()
	f.calls[parentID]++
	gate := f.gates[parentID]
	err := f.fail[parentID]
	f.mu.Unlock()

	select {
	case f.started <- parentID:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Node
	for _, n := range f.nodes {
		if n.ParentKey() == parentID {
			out = append(out, f.decorate(n))
		}
	}
	return out, nil
}

func (f *fakeSource) FetchPathByExternalID(ctx context.Context, treeID, externalID string) ([]models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pathCalls++
	if err := f.fail["path"]; err != nil {
		return nil, err
	}
	if f.pathOverride != nil {
		return f.pathOverride, nil
	}

	byID := make(map[string]models.Node, len(f.nodes))
	var target *models.Node
	for i, n := range f.nodes {
		byID[n.ID] = n
		if n.ExternalID == externalID {
			target = &f.nodes[i]
		}
	}
	if target == nil {
		return nil, nil
	}

	var chain []models.Node
	for cur, ok := *target, true; ok; cur, ok = byID[cur.ParentKey()] {
		chain = append(chain, f.decorate(cur))
		if cur.IsRoot() {
			break
		}
	}
	slices.Reverse(chain)
	return chain, nil
}

func (f *fakeSource) FetchStats(ctx context.Context, treeID string) (models.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	if err := f.fail["stats"]; err != nil {
		return models.Stats{}, err
	}

	byID := make(map[string]models.Node, len(f.nodes))
	for _, n := range f.nodes {
		byID[n.ID] = n
	}
	stats := models.Stats{TotalNodes: len(f.nodes)}
	for _, n := range f.nodes {
		if n.IsRoot() {
			stats.RootCount++
		}
		depth := 1
		for cur := n; !cur.IsRoot(); cur = byID[cur.ParentKey()] {
			depth++
		}
		stats.MaxDepth = max(stats.MaxDepth, depth)
	}
	return stats, nil
}

type harness struct {
	source   *fakeSource
	clock    *cachetest.Clock
	cache    *nodecache.NodeCache
	notifier *notify.Recorder
	loader   *Loader
	order    NameOrder
	resolver *Resolver
}

func newHarness(source *fakeSource, eagerThreshold int) *harness {
	clock := cachetest.NewClock()
	store := memory.NewCacheStore(memory.WithClock(clock.Now))
	policy := config.NewPolicyStore(config.CachePolicy{
		NodeTTL:       10 * time.Minute,
		ChunkTTL:      5 * time.Minute,
		StatsTTL:      time.Hour,
		SweepInterval: time.Minute,
	})
	cache := nodecache.NewNodeCache(store, policy, testLogger(), nodecache.WithClock(clock.Now))
	recorder := &notify.Recorder{}
	loader := NewLoader(source, cache, recorder, testLogger(), LoaderConfig{
		EagerLoadThreshold: eagerThreshold,
		ExpandConcurrency:  4,
	})
	order := NewNameOrder(language.English)
	return &harness{
		source:   source,
		clock:    clock,
		cache:    cache,
		notifier: recorder,
		loader:   loader,
		order:    order,
		resolver: NewResolver(source, cache, loader, order, testLogger(), ResolverConfig{}),
	}
}

// numberedSiblings builds "Level 1".."Level n" under parent, inserted in
// reverse so the backend order never matches the sorted order.
func numberedSiblings(parent string, n int) []models.Node {
	out := make([]models.Node, 0, n)
	for i := n; i >= 1; i-- {
		l := level(fmt.Sprintf("%s-%d", parent, i), fmt.Sprintf("Level %d", i), parent)
		l.ExternalID = fmt.Sprintf("M-%d", i)
		out = append(out, l)
	}
	return out
}

// waitStarted blocks until a fetch of parentID begins
func waitStarted(t *testing.T, f *fakeSource, parentID string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p := <-f.started:
			if p == parentID {
				return
			}
		case <-timeout:
			t.Fatalf("fetch of %q never started", parentID)
		}
	}
}
