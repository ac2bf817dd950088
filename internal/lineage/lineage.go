package lineage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"github.com/helios/helios/internal/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// maxDepth bounds ancestry walks
const maxDepth = 64

// Ancestor is one agent in a remix chain
type Ancestor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Recorder keeps the remixed_from graph between agents
type Recorder interface {
	RecordRemix(ctx context.Context, source, remix *models.Agent) error
	// Ancestry returns the chain of sources of an agent, nearest first
	Ancestry(ctx context.Context, agentID string) ([]Ancestor, error)
	Close() error
}

// DgraphRecorder implements Recorder on Dgraph
type DgraphRecorder struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// New returns a Dgraph recorder when an alpha address is configured and a no-op one otherwise
func New(ctx context.Context, alphaURL string) (Recorder, error) {
	if alphaURL == "" {
		return Nop{}, nil
	}
	return NewDgraphRecorder(ctx, alphaURL)
}

// NewDgraphRecorder connects to a Dgraph alpha and installs the schema
func NewDgraphRecorder(ctx context.Context, alphaURL string) (*DgraphRecorder, error) {
	conn, err := grpc.NewClient(alphaURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	r := &DgraphRecorder{
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		conn:   conn,
	}

	if err := r.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return r, nil
}

func (r *DgraphRecorder) initSchema(ctx context.Context) error {
	schema := `
		type Agent {
			agent.id
			agent.name
			agent.owner
			remixed_from
		}

		agent.id: string @index(exact) @upsert .
		agent.name: string .
		agent.owner: string @index(exact) .
		remixed_from: uid @reverse .
	`
	return r.client.Alter(ctx, &api.Operation{Schema: schema})
}

type agentNode struct {
	UID         string     `json:"uid,omitempty"`
	ID          string     `json:"agent.id,omitempty"`
	Name        string     `json:"agent.name,omitempty"`
	Owner       string     `json:"agent.owner,omitempty"`
	DType       string     `json:"dgraph.type,omitempty"`
	RemixedFrom *agentNode `json:"remixed_from,omitempty"`
}

// RecordRemix upserts both agents and links remix to source
func (r *DgraphRecorder) RecordRemix(ctx context.Context, source, remix *models.Agent) error {
	node := agentNode{
		UID:   "uid(copy)",
		ID:    remix.ID,
		Name:  remix.Name,
		Owner: remix.UserID,
		DType: "Agent",
		RemixedFrom: &agentNode{
			UID:   "uid(source)",
			ID:    source.ID,
			Name:  source.Name,
			Owner: source.UserID,
			DType: "Agent",
		},
	}

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal lineage: %w", err)
	}

	req := &api.Request{
		Query: `query q($source: string, $copy: string) {
			source as var(func: eq(agent.id, $source))
			copy as var(func: eq(agent.id, $copy))
		}`,
		Vars:      map[string]string{"$source": source.ID, "$copy": remix.ID},
		Mutations: []*api.Mutation{{SetJson: data}},
		CommitNow: true,
	}

	txn := r.client.NewTxn()
	defer txn.Discard(ctx)

	if _, err := txn.Do(ctx, req); err != nil {
		return fmt.Errorf("failed to record remix: %w", err)
	}
	return nil
}

// Ancestry walks remixed_from edges from agentID
func (r *DgraphRecorder) Ancestry(ctx context.Context, agentID string) ([]Ancestor, error) {
	q := fmt.Sprintf(`query ancestry($id: string) {
		agent(func: eq(agent.id, $id)) @recurse(depth: %d, loop: false) {
			agent.id
			agent.name
			remixed_from
		}
	}`, maxDepth)

	txn := r.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$id": agentID})
	if err != nil {
		return nil, fmt.Errorf("ancestry query failed: %w", err)
	}

	return parseAncestry(resp.Json)
}

func parseAncestry(data []byte) ([]Ancestor, error) {
	var result struct {
		Agent []agentNode `json:"agent"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	chain := []Ancestor{}
	if len(result.Agent) == 0 {
		return chain, nil
	}
	for n := result.Agent[0].RemixedFrom; n != nil; n = n.RemixedFrom {
		chain = append(chain, Ancestor{ID: n.ID, Name: n.Name})
	}
	return chain, nil
}

// Close closes the Dgraph connection
func (r *DgraphRecorder) Close() error {
	return r.conn.Close()
}

// Nop is a Recorder that keeps nothing
type Nop struct{}

func (Nop) RecordRemix(context.Context, *models.Agent, *models.Agent) error { return nil }
func (Nop) Ancestry(context.Context, string) ([]Ancestor, error)            { return []Ancestor{}, nil }
func (Nop) Close() error                                                    { return nil }
