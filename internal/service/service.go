package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/helios/helios/internal/cache"
	"github.com/helios/helios/internal/knowledge"
	"github.com/helios/helios/internal/lineage"
	"github.com/helios/helios/internal/store"
	"github.com/helios/helios/internal/workflow"
)

var (
	// ErrNotFound is returned when an entity is absent or not visible to the caller
	ErrNotFound = store.ErrNotFound

	// ErrValidation wraps rejected input
	ErrValidation = errors.New("invalid input")

	// ErrConversationArchived is returned when sending to an archived conversation
	ErrConversationArchived = errors.New("conversation is archived")

	// ErrInvalidTransition is returned for a task status change the state machine forbids
	ErrInvalidTransition = errors.New("invalid status transition")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Bridge is the workflow engine as seen by the services
type Bridge interface {
	Chat(ctx context.Context, req *workflow.ChatRequest) *workflow.Envelope
	Task(ctx context.Context, req *workflow.TaskRequest) *workflow.Envelope
	Knowledge(ctx context.Context, req *workflow.KnowledgeRequest) *workflow.Envelope
}

// Service implements every RPC procedure on top of the store and the workflow bridge
type Service struct {
	store    *store.Store
	bridge   Bridge
	ingestor *knowledge.Ingestor
	pool     *workflow.Pool
	agents   cache.AgentCache
	lineage  lineage.Recorder

	ownerID    string
	engineID   string
	autoIngest bool
}

// Option configures a Service
type Option func(*Service)

// WithOwner sets the user id that is granted the admin role
func WithOwner(id string) Option {
	return func(s *Service) { s.ownerID = id }
}

// WithEngine sets the user id the workflow engine signs in as. That identity
// may report status on any task.
func WithEngine(id string) Option {
	return func(s *Service) { s.engineID = id }
}

// WithIngestor enables knowledge ingestion. autoIngest submits new documents on create.
func WithIngestor(i *knowledge.Ingestor, autoIngest bool) Option {
	return func(s *Service) {
		s.ingestor = i
		s.autoIngest = autoIngest
	}
}

// WithDispatchPool exposes the background dispatch pool in the workflow status
func WithDispatchPool(p *workflow.Pool) Option {
	return func(s *Service) { s.pool = p }
}

// WithAgentCache serves the public catalogue through c
func WithAgentCache(c cache.AgentCache) Option {
	return func(s *Service) { s.agents = c }
}

// WithLineage records remix edges in r
func WithLineage(r lineage.Recorder) Option {
	return func(s *Service) { s.lineage = r }
}

// New creates a service instance
func New(st *store.Store, bridge Bridge, opts ...Option) *Service {
	s := &Service{
		store:   st,
		bridge:  bridge,
		agents:  cache.Nop{},
		lineage: lineage.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
