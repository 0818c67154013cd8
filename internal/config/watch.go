package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPolicyDebounce coalesces the burst of events editors emit on save
const DefaultPolicyDebounce = 250 * time.Millisecond

// ErrWatcherStarted is returned when Start is called twice
var ErrWatcherStarted = errors.New("policy watcher already started")

// PolicyWatcher reloads a policy file into a PolicyStore whenever it changes.
// A file that fails to parse or validate leaves the previous policy live.
type PolicyWatcher struct {
	path     string
	store    *PolicyStore
	logger   *slog.Logger
	debounce time.Duration
	onReload func(CachePolicy)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// PolicyWatcherOption configures a PolicyWatcher
type PolicyWatcherOption func(*PolicyWatcher)

// WithPolicyDebounce sets the debounce duration
func WithPolicyDebounce(d time.Duration) PolicyWatcherOption {
	return func(w *PolicyWatcher) {
		w.debounce = d
	}
}

// WithOnReload sets a callback invoked after every successful reload
func WithOnReload(fn func(CachePolicy)) PolicyWatcherOption {
	return func(w *PolicyWatcher) {
		w.onReload = fn
	}
}

// NewPolicyWatcher creates a watcher for path
func NewPolicyWatcher(path string, store *PolicyStore, logger *slog.Logger, opts ...PolicyWatcherOption) (*PolicyWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &PolicyWatcher{
		path:     absPath,
		store:    store,
		logger:   logger,
		debounce: DefaultPolicyDebounce,
		onReload: func(CachePolicy) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The directory is watched rather than the file so
// rename-on-save editors keep triggering reloads.
func (w *PolicyWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrWatcherStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.started = true

	go w.loop(ctx, fsw)
	return nil
}

// Stop ends watching and waits for the event loop to exit
func (w *PolicyWatcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

func (w *PolicyWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	defer fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *PolicyWatcher) reload() {
	p, err := LoadPolicy(w.path)
	if err != nil {
		w.logger.Warn("cache policy reload rejected, keeping previous policy",
			"path", w.path,
			"error", err,
		)
		return
	}
	w.store.Set(p)
	w.logger.Info("cache policy reloaded",
		"path", w.path,
		"node_ttl", p.NodeTTL.String(),
		"chunk_ttl", p.ChunkTTL.String(),
		"stats_ttl", p.StatsTTL.String(),
		"sweep_interval", p.SweepInterval.String(),
	)
	w.onReload(p)
}
