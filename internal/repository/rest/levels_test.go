package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	"osmlevels/internal/retry"
)

func newTestClient(url string) *LevelClient {
	return NewLevelClient(Config{
		BaseURL: url,
		Timeout: 2 * time.Second,
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
			Multiplier:  1,
		},
	})
}

func TestFetchChildren(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trees/site-1/children" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("parent_id") != "b" {
			t.Errorf("parent_id = %q, want b", r.URL.Query().Get("parent_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"c","name":"Level 1","parent_id":"b","has_children":true,"children_count":2}]`))
	}))
	defer srv.Close()

	nodes, err := newTestClient(srv.URL).FetchChildren(context.Background(), "site-1", "b")
	if err != nil {
		t.Fatalf("FetchChildren: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "c" || !nodes[0].HasChildren || nodes[0].ChildrenCount != 2 {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestFetchChildrenRootOmitsParent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["parent_id"]; ok {
			t.Error("root request should not carry parent_id")
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	nodes, err := newTestClient(srv.URL).FetchChildren(context.Background(), "site-1", models.RootID)
	if err != nil {
		t.Fatalf("FetchChildren: %v", err)
	}
	if nodes == nil || len(nodes) != 0 {
		t.Errorf("nodes = %#v, want empty non-nil slice", nodes)
	}
}

func TestFetchChildrenRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"id":"a","name":"A"}]`))
	}))
	defer srv.Close()

	nodes, err := newTestClient(srv.URL).FetchChildren(context.Background(), "t", "root")
	if err != nil {
		t.Fatalf("FetchChildren: %v", err)
	}
	if len(nodes) != 1 || calls.Load() != 3 {
		t.Errorf("got %d nodes after %d calls", len(nodes), calls.Load())
	}
}

func TestFetchChildrenFailureIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchChildren(context.Background(), "t", "x")
	if !errors.Is(err, domain.ErrFetchFailure) {
		t.Fatalf("error = %v, want ErrFetchFailure", err)
	}
}

func TestFetchPathNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	path, err := newTestClient(srv.URL).FetchPathByExternalID(context.Background(), "t", "M-404")
	if err != nil {
		t.Fatalf("FetchPathByExternalID: %v", err)
	}
	if len(path) != 0 {
		t.Errorf("path = %+v, want empty", path)
	}
}

func TestFetchStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_nodes":120,"root_count":3,"max_depth":5}`))
	}))
	defer srv.Close()

	stats, err := newTestClient(srv.URL).FetchStats(context.Background(), "t")
	if err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	want := models.Stats{TotalNodes: 120, RootCount: 3, MaxDepth: 5}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}
