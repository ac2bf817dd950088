package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/helios/helios/internal/models"
	"github.com/helios/helios/internal/workflow"
)

type fakeBridge struct {
	mu       sync.Mutex
	requests []*workflow.KnowledgeRequest
	env      *workflow.Envelope

	// when set, calls signal entered and block until release is closed
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBridge) Knowledge(ctx context.Context, req *workflow.KnowledgeRequest) *workflow.Envelope {
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	return b.env
}

// documentSet stands in for the document table
type documentSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newDocumentSet(ids ...string) *documentSet {
	set := &documentSet{ids: map[string]bool{}}
	for _, id := range ids {
		set.ids[id] = true
	}
	return set
}

func (d *documentSet) exists(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ids[id], nil
}

func (d *documentSet) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ids, id)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("")
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "doc_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	result := &Result{DocumentID: "doc_1", UserID: "u1", Success: true, Data: json.RawMessage(`{"chunks":3}`)}
	if err := store.Put(ctx, result); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "doc_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Success || string(got.Data) != `{"chunks":3}` {
		t.Errorf("Unexpected result: %+v", got)
	}

	if err := store.Delete(ctx, "doc_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "doc_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "doc_1"); err != nil {
		t.Errorf("Expected deleting a missing key to succeed, got %v", err)
	}

	if err := store.Put(ctx, &Result{}); err == nil {
		t.Error("Expected error for result without document id")
	}
}

func TestListByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Put(ctx, &Result{DocumentID: "doc_a", UserID: "u1"})
	store.Put(ctx, &Result{DocumentID: "doc_b", UserID: "u2"})
	store.Put(ctx, &Result{DocumentID: "doc_c", UserID: "u1"})

	results, err := store.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results for u1, got %d", len(results))
	}

	results, err = NewIngestor(store, &fakeBridge{}, nil).Results(ctx, "u2")
	if err != nil || len(results) != 1 || results[0].DocumentID != "doc_b" {
		t.Errorf("Expected only doc_b for u2, got %+v (%v)", results, err)
	}
}

func TestIngestRecordsFailure(t *testing.T) {
	store := newTestStore(t)
	bridge := &fakeBridge{env: &workflow.Envelope{Success: false, Error: "webhook failed: Bad Gateway"}}
	ingestor := NewIngestor(store, bridge, nil)

	doc := &models.Document{ID: "doc_1", UserID: "u1", Content: "some text"}
	result, err := ingestor.Ingest(context.Background(), doc)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Success || result.Error == "" {
		t.Errorf("Expected failed result, got %+v", result)
	}

	stored, err := ingestor.Result(context.Background(), "doc_1")
	if err != nil || stored.Error != result.Error {
		t.Errorf("Expected failure to be stored, got %+v (%v)", stored, err)
	}

	req := bridge.requests[0]
	if req.DocumentID != "doc_1" || req.Content != "some text" || req.UserID != "u1" {
		t.Errorf("Unexpected request: %+v", req)
	}
}

func TestEnqueueThroughPool(t *testing.T) {
	store := newTestStore(t)
	bridge := &fakeBridge{env: &workflow.Envelope{Success: true, Data: json.RawMessage(`{"ok":true}`)}}
	pool := workflow.NewPool(&workflow.PoolConfig{Workers: 2, QueueSize: 10, Timeout: time.Second})
	ingestor := NewIngestor(store, bridge, pool)

	for _, id := range []string{"doc_1", "doc_2", "doc_3"} {
		if err := ingestor.Enqueue(&models.Document{ID: id, UserID: "u1"}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := pool.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	for _, id := range []string{"doc_1", "doc_2", "doc_3"} {
		result, err := ingestor.Result(context.Background(), id)
		if err != nil {
			t.Errorf("Expected result for %s: %v", id, err)
			continue
		}
		if !result.Success {
			t.Errorf("Expected success for %s", id)
		}
	}

	if err := ingestor.Forget(context.Background(), "doc_2"); err != nil {
		t.Fatal(err)
	}
	if _, err := ingestor.Result(context.Background(), "doc_2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected forgotten result to be gone, got %v", err)
	}
}

func TestDeleteDuringIngestion(t *testing.T) {
	store := newTestStore(t)
	bridge := &fakeBridge{
		env:     &workflow.Envelope{Success: true},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	docs := newDocumentSet("doc_1")
	pool := workflow.NewPool(&workflow.PoolConfig{Workers: 1, QueueSize: 4, Timeout: 5 * time.Second})
	ingestor := NewIngestor(store, bridge, pool, WithDocumentCheck(docs.exists))

	if err := ingestor.Enqueue(&models.Document{ID: "doc_1", UserID: "u1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-bridge.entered

	// the document goes away while the webhook is still working on it
	docs.remove("doc_1")
	if err := ingestor.Forget(context.Background(), "doc_1"); err != nil {
		t.Fatal(err)
	}
	close(bridge.release)

	if err := pool.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if _, err := ingestor.Result(context.Background(), "doc_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected no result for a deleted document, got %v", err)
	}
	if metrics := pool.GetMetrics(); metrics.CompletedError != 0 {
		t.Errorf("Expected the skipped job to count as done, got %+v", &metrics)
	}
}

func TestIngestSkipsDeletedDocument(t *testing.T) {
	store := newTestStore(t)
	bridge := &fakeBridge{env: &workflow.Envelope{Success: true}}
	ingestor := NewIngestor(store, bridge, nil, WithDocumentCheck(newDocumentSet().exists))

	_, err := ingestor.Ingest(context.Background(), &models.Document{ID: "doc_gone", UserID: "u1"})
	if !errors.Is(err, ErrDocumentDeleted) {
		t.Errorf("Expected ErrDocumentDeleted, got %v", err)
	}
	if len(bridge.requests) != 0 {
		t.Errorf("Expected no webhook call for a missing document, got %d", len(bridge.requests))
	}
	if _, err := store.Get(context.Background(), "doc_gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected nothing stored, got %v", err)
	}
}
