package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p, err := DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}
	if p.NodeTTL != 10*time.Minute {
		t.Errorf("NodeTTL = %v, want 10m", p.NodeTTL)
	}
	if p.ChunkTTL != 5*time.Minute {
		t.Errorf("ChunkTTL = %v, want 5m", p.ChunkTTL)
	}
	if p.StatsTTL != time.Hour {
		t.Errorf("StatsTTL = %v, want 1h", p.StatsTTL)
	}
	if p.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", p.SweepInterval)
	}
}

func TestParsePolicy(t *testing.T) {
	base, err := DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}

	tests := []struct {
		name    string
		doc     string
		want    CachePolicy
		wantErr bool
	}{
		{
			name: "empty document keeps base",
			doc:  "",
			want: base,
		},
		{
			name: "partial override",
			doc:  "ttl:\n  nodes: 20m\n",
			want: CachePolicy{NodeTTL: 20 * time.Minute, ChunkTTL: base.ChunkTTL, StatsTTL: base.StatsTTL, SweepInterval: base.SweepInterval},
		},
		{
			name: "full override",
			doc:  "ttl:\n  nodes: 2m\n  chunks: 1m\n  stats: 2m\nsweep_interval: 30s\n",
			want: CachePolicy{NodeTTL: 2 * time.Minute, ChunkTTL: time.Minute, StatsTTL: 2 * time.Minute, SweepInterval: 30 * time.Second},
		},
		{
			name:    "bad duration",
			doc:     "ttl:\n  nodes: soon\n",
			wantErr: true,
		},
		{
			name:    "chunk outlives node",
			doc:     "ttl:\n  chunks: 15m\n",
			wantErr: true,
		},
		{
			name:    "stats shorter than node",
			doc:     "ttl:\n  stats: 1m\n",
			wantErr: true,
		},
		{
			name:    "sub-second sweep",
			doc:     "sweep_interval: 10ms\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			doc:     "ttl: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePolicy([]byte(tt.doc), base)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParsePolicy() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadPolicyMissingFile(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestPolicyStore(t *testing.T) {
	p, _ := DefaultPolicy()
	store := NewPolicyStore(p)
	if store.Current() != p {
		t.Fatalf("Current() = %+v, want %+v", store.Current(), p)
	}

	p.NodeTTL = 30 * time.Minute
	store.Set(p)
	if store.Current().NodeTTL != 30*time.Minute {
		t.Errorf("NodeTTL after Set = %v", store.Current().NodeTTL)
	}
}

func TestPolicyWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("ttl:\n  nodes: 10m\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	initial, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	store := NewPolicyStore(initial)
	reloaded := make(chan CachePolicy, 4)

	w, err := NewPolicyWatcher(path, store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithPolicyDebounce(20*time.Millisecond),
		WithOnReload(func(p CachePolicy) { reloaded <- p }),
	)
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err != ErrWatcherStarted {
		t.Errorf("second Start() = %v, want ErrWatcherStarted", err)
	}

	if err := os.WriteFile(path, []byte("ttl:\n  nodes: 25m\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-reloaded:
		if p.NodeTTL != 25*time.Minute {
			t.Errorf("reloaded NodeTTL = %v, want 25m", p.NodeTTL)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if store.Current().NodeTTL != 25*time.Minute {
		t.Errorf("store NodeTTL = %v, want 25m", store.Current().NodeTTL)
	}
}

func TestPolicyWatcherKeepsPolicyOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	initial, _ := LoadPolicy(path)
	store := NewPolicyStore(initial)

	w, err := NewPolicyWatcher(path, store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithPolicyDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}
	w.reload()
	if store.Current() != initial {
		t.Fatalf("valid reload changed policy: %+v", store.Current())
	}

	if err := os.WriteFile(path, []byte("ttl:\n  chunks: 2h\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.reload()
	if store.Current() != initial {
		t.Errorf("invalid reload replaced policy: %+v", store.Current())
	}
}
