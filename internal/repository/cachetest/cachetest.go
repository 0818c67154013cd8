// Package cachetest holds the behavioural suite every CacheStore must pass.
package cachetest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	repo "osmlevels/internal/domain/repositories/hierarchy"
)

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory opens a fresh, empty store driven by clock
type Factory func(t *testing.T, clock *Clock) repo.CacheStore

// Run executes the suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore) })
	t.Run("ExpiredIsAbsent", func(t *testing.T) { testExpiredIsAbsent(t, newStore) })
	t.Run("UpsertReplaces", func(t *testing.T) { testUpsertReplaces(t, newStore) })
	t.Run("TablesAreIsolated", func(t *testing.T) { testTablesIsolated(t, newStore) })
	t.Run("DeleteWhere", func(t *testing.T) { testDeleteWhere(t, newStore) })
	t.Run("SweepExpired", func(t *testing.T) { testSweepExpired(t, newStore) })
	t.Run("ExpiryModel", func(t *testing.T) { testExpiryModel(t, newStore) })
}

func testPutGet(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock())

	if err := s.Put(ctx, repo.TableNodes, "t:a", []byte(`{"id":"a"}`), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get(ctx, repo.TableNodes, "t:a")
	if err != nil || !ok {
		t.Fatalf("Get() ok=%v err=%v", ok, err)
	}
	if string(got) != `{"id":"a"}` {
		t.Errorf("Get() = %s", got)
	}

	_, ok, err = s.Get(ctx, repo.TableNodes, "t:missing")
	if err != nil || ok {
		t.Errorf("Get(missing) ok=%v err=%v, want miss without error", ok, err)
	}
}

func testExpiredIsAbsent(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := newStore(t, clock)

	if err := s.Put(ctx, repo.TableChunks, "t:root:1", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clock.Advance(59 * time.Second)
	if _, ok, _ := s.Get(ctx, repo.TableChunks, "t:root:1"); !ok {
		t.Fatal("entry should be live before its expiry")
	}
	clock.Advance(time.Second)
	_, ok, err := s.Get(ctx, repo.TableChunks, "t:root:1")
	if err != nil {
		t.Fatalf("Get(expired) error = %v", err)
	}
	if ok {
		t.Error("entry at its expiry instant must read as absent")
	}
}

func testUpsertReplaces(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := newStore(t, clock)

	s.Put(ctx, repo.TableNodes, "k", []byte("old"), time.Second)
	s.Put(ctx, repo.TableNodes, "k", []byte("new"), time.Hour)
	clock.Advance(2 * time.Second)

	got, ok, _ := s.Get(ctx, repo.TableNodes, "k")
	if !ok || string(got) != "new" {
		t.Errorf("Get() = %q ok=%v, want new record with the new expiry", got, ok)
	}
}

func testTablesIsolated(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock())

	s.Put(ctx, repo.TableNodes, "same", []byte("node"), time.Minute)
	s.Put(ctx, repo.TableStats, "same", []byte("stats"), time.Minute)

	n, _, _ := s.Get(ctx, repo.TableNodes, "same")
	st, _, _ := s.Get(ctx, repo.TableStats, "same")
	if string(n) != "node" || string(st) != "stats" {
		t.Errorf("nodes=%q stats=%q", n, st)
	}
	if _, ok, _ := s.Get(ctx, repo.TableChunks, "same"); ok {
		t.Error("chunks table should be empty")
	}
}

func testDeleteWhere(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock())

	for _, k := range []string{"t1:a", "t1:b", "t2:a"} {
		s.Put(ctx, repo.TableNodes, k, []byte(k), time.Minute)
	}
	n, err := s.DeleteWhere(ctx, repo.TableNodes, func(key string) bool {
		return strings.HasPrefix(key, "t1:")
	})
	if err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteWhere removed %d, want 2", n)
	}
	if _, ok, _ := s.Get(ctx, repo.TableNodes, "t1:a"); ok {
		t.Error("t1:a should be gone")
	}
	if _, ok, _ := s.Get(ctx, repo.TableNodes, "t2:a"); !ok {
		t.Error("t2:a should survive")
	}
}

func testSweepExpired(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := newStore(t, clock)

	s.Put(ctx, repo.TableNodes, "short", []byte("1"), time.Second)
	s.Put(ctx, repo.TableChunks, "short", []byte("1"), time.Second)
	s.Put(ctx, repo.TableStats, "long", []byte("1"), time.Hour)
	clock.Advance(time.Minute)

	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("SweepExpired removed %d, want 2", n)
	}
	if _, ok, _ := s.Get(ctx, repo.TableStats, "long"); !ok {
		t.Error("unexpired entry was swept")
	}
}

// testExpiryModel checks random put/advance/get sequences against a map
func testExpiryModel(t *testing.T, newStore Factory) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		clock := NewClock()
		s := newStore(t, clock)
		defer s.Close()

		type rec struct {
			value   string
			expires time.Time
		}
		model := map[string]rec{}
		keyGen := rapid.SampledFrom([]string{"a", "b", "c", "d"})

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				key := keyGen.Draw(rt, "key")
				ttl := time.Duration(rapid.IntRange(1, 10).Draw(rt, "ttl")) * time.Second
				value := rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "value")
				if err := s.Put(ctx, repo.TableNodes, key, []byte(value), ttl); err != nil {
					rt.Fatalf("Put: %v", err)
				}
				model[key] = rec{value: value, expires: clock.Now().Add(ttl)}
			case 1:
				clock.Advance(time.Duration(rapid.IntRange(0, 5).Draw(rt, "advance")) * time.Second)
			case 2:
				key := keyGen.Draw(rt, "key")
				got, ok, err := s.Get(ctx, repo.TableNodes, key)
				if err != nil {
					rt.Fatalf("Get: %v", err)
				}
				want, present := model[key]
				live := present && want.expires.After(clock.Now())
				if ok != live {
					rt.Fatalf("Get(%s) ok=%v, model says live=%v", key, ok, live)
				}
				if ok && string(got) != want.value {
					rt.Fatalf("Get(%s) = %q, want %q", key, got, want.value)
				}
			}
		}
	})
}
