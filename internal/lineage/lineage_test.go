package lineage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/helios/helios/internal/models"
)

func TestParseAncestry(t *testing.T) {
	data := []byte(`{"agent":[{"agent.id":"agent_c","agent.name":"C","remixed_from":{"agent.id":"agent_b","agent.name":"B","remixed_from":{"agent.id":"agent_a","agent.name":"A"}}}]}`)

	chain, err := parseAncestry(data)
	if err != nil {
		t.Fatalf("parseAncestry failed: %v", err)
	}
	if len(chain) != 2 || chain[0].ID != "agent_b" || chain[1].ID != "agent_a" {
		t.Errorf("Unexpected chain: %+v", chain)
	}

	chain, err = parseAncestry([]byte(`{"agent":[]}`))
	if err != nil || len(chain) != 0 {
		t.Errorf("Expected empty chain, got %+v (%v)", chain, err)
	}

	if _, err := parseAncestry([]byte(`not json`)); err == nil {
		t.Error("Expected parse error")
	}
}

func TestNopRecorder(t *testing.T) {
	r, err := New(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RecordRemix(context.Background(), &models.Agent{}, &models.Agent{}); err != nil {
		t.Errorf("Expected nop to succeed, got %v", err)
	}
	chain, err := r.Ancestry(context.Background(), "agent_x")
	if err != nil || chain == nil || len(chain) != 0 {
		t.Errorf("Expected empty non-nil chain, got %v (%v)", chain, err)
	}
}

// TestDgraphRecorder requires a running Dgraph alpha; set DGRAPH_ALPHA_URL or it tries localhost:9080
func TestDgraphRecorder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Dgraph test in short mode")
	}

	addr := os.Getenv("DGRAPH_ALPHA_URL")
	if addr == "" {
		addr = "localhost:9080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := NewDgraphRecorder(ctx, addr)
	if err != nil {
		t.Skipf("Dgraph not available: %v", err)
	}
	defer r.Close()

	a := &models.Agent{ID: "agent_" + uuid.NewString(), Name: "Origin", UserID: "u1"}
	b := &models.Agent{ID: "agent_" + uuid.NewString(), Name: "Origin (Remix)", UserID: "u2"}
	c := &models.Agent{ID: "agent_" + uuid.NewString(), Name: "Origin (Remix) (Remix)", UserID: "u3"}

	if err := r.RecordRemix(ctx, a, b); err != nil {
		t.Fatalf("RecordRemix failed: %v", err)
	}
	if err := r.RecordRemix(ctx, b, c); err != nil {
		t.Fatalf("RecordRemix failed: %v", err)
	}

	chain, err := r.Ancestry(ctx, c.ID)
	if err != nil {
		t.Fatalf("Ancestry failed: %v", err)
	}
	if len(chain) != 2 || chain[0].ID != b.ID || chain[1].ID != a.ID {
		t.Errorf("Unexpected chain: %+v", chain)
	}
}
