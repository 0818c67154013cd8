package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
)

// SelectionConfig configures a picker session
type SelectionConfig struct {
	PageSize int
	MaxDepth int // 0 = unbounded
}

// Selection is the cascading picker state machine. Select is the single
// entry point that changes a depth, and it owns the rule that every deeper
// depth is invalidated. Subscribers get one snapshot per transition.
type Selection struct {
	loader   svc.TreeLoader
	resolver svc.PathResolver
	notifier svc.Notifier
	order    NameOrder
	logger   *slog.Logger
	cfg      SelectionConfig

	mu     sync.Mutex
	state  models.SelectionState
	closed bool

	emitMu      sync.Mutex
	lastEmitted uint64
	subscribers map[int]func(models.SelectionState)
	nextSubID   int
}

// NewSelection creates a closed-over picker for treeID. Call Open to load depth 0.
func NewSelection(
	treeID string,
	loader svc.TreeLoader,
	resolver svc.PathResolver,
	notifier svc.Notifier,
	order NameOrder,
	logger *slog.Logger,
	cfg SelectionConfig,
) *Selection {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &Selection{
		loader:      loader,
		resolver:    resolver,
		notifier:    notifier,
		order:       order,
		logger:      logger,
		cfg:         cfg,
		state:       models.SelectionState{TreeID: treeID, Levels: []models.SelectionLevel{}},
		subscribers: make(map[int]func(models.SelectionState)),
	}
}

// Subscribe registers fn for state snapshots and returns its cancel func
func (s *Selection) Subscribe(fn func(models.SelectionState)) func() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.emitMu.Lock()
		defer s.emitMu.Unlock()
		delete(s.subscribers, id)
	}
}

// State returns a snapshot of the current state
func (s *Selection) State() models.SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Open loads the depth-0 candidates
func (s *Selection) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	treeID := s.state.TreeID
	version := s.state.Version
	s.mu.Unlock()

	roots, err := s.loader.Children(ctx, treeID, models.RootID)
	if err != nil {
		s.report(ctx, fmt.Sprintf("Could not load the first level of %q: %v", treeID, err))
		return err
	}

	s.mu.Lock()
	if s.closed || s.state.Version != version {
		s.mu.Unlock()
		return nil
	}
	s.state.Levels = []models.SelectionLevel{s.newLevel(0, roots)}
	s.state.Complete = false
	snapshot := s.commit()
	s.mu.Unlock()

	s.emit(snapshot)
	return nil
}

// Select chooses nodeID at depth, clears every deeper depth and loads the
// candidates of depth+1. On load failure the selection stays, the error is
// reported and the path stays incomplete.
func (s *Selection) Select(ctx context.Context, depth int, nodeID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if depth < 0 || depth >= len(s.state.Levels) {
		s.mu.Unlock()
		return &domain.ValidationError{Message: fmt.Sprintf("depth %d is not open for selection", depth)}
	}
	if s.cfg.MaxDepth > 0 && depth >= s.cfg.MaxDepth {
		s.mu.Unlock()
		return &domain.ValidationError{Message: fmt.Sprintf("depth %d exceeds the picker's %d levels", depth, s.cfg.MaxDepth)}
	}
	level := s.state.Levels[depth]
	index := IndexOf(level.Candidates, nodeID)
	if index < 0 {
		s.mu.Unlock()
		return &domain.NotFoundError{Message: fmt.Sprintf("%q is not a candidate at depth %d", nodeID, depth)}
	}
	chosen := level.Candidates[index]

	level.SelectedID = nodeID
	level.Pagination.CurrentPage = models.PageForIndex(index, level.Pagination.PageSize)
	s.state.Levels = append(s.state.Levels[:depth:depth], level)
	s.state.Complete = false

	lastDepth := s.cfg.MaxDepth > 0 && depth+1 >= s.cfg.MaxDepth
	knownLeaf := !chosen.HasChildren && chosen.ChildrenCount == 0
	if lastDepth || knownLeaf {
		s.state.Complete = true
	}
	snapshot := s.commit()
	version := snapshot.Version
	treeID := s.state.TreeID
	s.mu.Unlock()

	s.emit(snapshot)
	if snapshot.Complete {
		return nil
	}

	children, err := s.loader.Children(ctx, treeID, nodeID)

	s.mu.Lock()
	if s.closed || s.state.Version != version {
		// superseded by a later transition
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		s.report(ctx, fmt.Sprintf("Could not load the levels under %q: %v", chosen.Name, err))
		return err
	}
	if len(children) == 0 {
		s.state.Complete = true
	} else {
		s.state.Levels = append(s.state.Levels, s.newLevel(depth+1, children))
	}
	snapshot = s.commit()
	s.mu.Unlock()

	s.emit(snapshot)
	return nil
}

// SetPage shows another page of a depth's retained candidates; nothing is refetched
func (s *Selection) SetPage(depth, page int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if depth < 0 || depth >= len(s.state.Levels) {
		s.mu.Unlock()
		return &domain.ValidationError{Message: fmt.Sprintf("depth %d is not open", depth)}
	}
	p := s.state.Levels[depth].Pagination
	if page < 1 || page > p.TotalPages() {
		s.mu.Unlock()
		return &domain.ValidationError{Message: fmt.Sprintf("page %d out of range 1..%d", page, p.TotalPages())}
	}
	s.state.Levels[depth].Pagination.CurrentPage = page
	snapshot := s.commit()
	s.mu.Unlock()

	s.emit(snapshot)
	return nil
}

// ApplyResolvedPath replaces the whole state with a resolution in a single
// transition; loads still in flight for the old state are discarded.
func (s *Selection) ApplyResolvedPath(res *models.PathResolution) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if res.TreeID != s.state.TreeID {
		s.mu.Unlock()
		return &domain.ValidationError{Message: fmt.Sprintf("resolution for tree %q applied to picker of %q", res.TreeID, s.state.TreeID)}
	}

	levels := make([]models.SelectionLevel, 0, len(res.Levels))
	for _, l := range res.Levels {
		levels = append(levels, l.Clone())
	}
	complete := res.IsLeafNode
	if max := s.cfg.MaxDepth; max > 0 && len(levels) >= max {
		// the picker ends at max depths; a selection there completes it
		levels = levels[:max]
		if levels[max-1].IsSet() {
			complete = true
		}
	}

	s.state.Levels = levels
	s.state.Complete = complete
	snapshot := s.commit()
	s.mu.Unlock()

	s.emit(snapshot)
	return nil
}

// Resolve jumps to the node carrying externalID
func (s *Selection) Resolve(ctx context.Context, externalID string) error {
	s.mu.Lock()
	treeID := s.state.TreeID
	s.mu.Unlock()

	res, err := s.resolver.ResolvePath(ctx, &svc.ResolvePathRequest{
		TreeID:     treeID,
		ExternalID: externalID,
		PageSize:   s.cfg.PageSize,
	})
	if err != nil {
		s.report(ctx, fmt.Sprintf("Could not find machine %q: %v", externalID, err))
		return err
	}
	return s.ApplyResolvedPath(res)
}

// Close discards the state and drops every subscriber
func (s *Selection) Close() {
	s.mu.Lock()
	s.closed = true
	s.state.Levels = nil
	s.mu.Unlock()

	s.emitMu.Lock()
	s.subscribers = make(map[int]func(models.SelectionState))
	s.emitMu.Unlock()
}

func (s *Selection) newLevel(depth int, candidates []models.Node) models.SelectionLevel {
	sorted := s.order.Sort(candidates)
	return models.SelectionLevel{
		Depth:      depth,
		Candidates: sorted,
		Pagination: models.PaginationState{
			CurrentPage: 1,
			PageSize:    s.cfg.PageSize,
			TotalCount:  len(sorted),
		},
	}
}

// commit bumps the version and returns a snapshot. Caller holds s.mu.
func (s *Selection) commit() models.SelectionState {
	s.state.Version++
	return s.state.Clone()
}

// emit delivers snapshot unless a newer one was already delivered
func (s *Selection) emit(snapshot models.SelectionState) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if snapshot.Version <= s.lastEmitted {
		return
	}
	s.lastEmitted = snapshot.Version
	for _, fn := range s.subscribers {
		fn(snapshot)
	}
}

func (s *Selection) report(ctx context.Context, message string) {
	if s.notifier != nil {
		s.notifier.ReportError(ctx, message)
	}
}
