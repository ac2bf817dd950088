package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/helios/helios/internal/models"
	"github.com/helios/helios/internal/workflow"
	"github.com/mudler/xlog"
)

// ErrDocumentDeleted is returned when the document was removed before its result could be kept
var ErrDocumentDeleted = errors.New("document was deleted")

// Bridge is the part of the workflow client the ingestor needs
type Bridge interface {
	Knowledge(ctx context.Context, req *workflow.KnowledgeRequest) *workflow.Envelope
}

// DocumentCheck reports whether a document still exists
type DocumentCheck func(ctx context.Context, documentID string) (bool, error)

// IngestorOption configures an Ingestor
type IngestorOption func(*Ingestor)

// WithDocumentCheck makes the ingestor drop results of documents deleted while
// their ingestion was queued or in flight
func WithDocumentCheck(check DocumentCheck) IngestorOption {
	return func(i *Ingestor) { i.exists = check }
}

// Ingestor sends documents to the knowledge webhook and records the outcome
type Ingestor struct {
	store  *Store
	bridge Bridge
	pool   *workflow.Pool
	exists DocumentCheck
}

// NewIngestor creates an ingestor. A nil pool makes Enqueue run inline.
func NewIngestor(store *Store, bridge Bridge, pool *workflow.Pool, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{store: store, bridge: bridge, pool: pool}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest calls the knowledge webhook now and stores the result. Remote failures
// are recorded in the result; only storage failures are returned.
func (i *Ingestor) Ingest(ctx context.Context, doc *models.Document) (*Result, error) {
	if err := i.checkDocument(ctx, doc.ID); err != nil {
		return nil, err
	}

	env := i.bridge.Knowledge(ctx, &workflow.KnowledgeRequest{
		DocumentID: doc.ID,
		Content:    doc.Content,
		UserID:     doc.UserID,
	})

	result := &Result{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		Success:    env.Success,
		Data:       env.Data,
		Error:      env.Error,
		IngestedAt: time.Now().UTC(),
	}

	if !env.Success {
		xlog.Warn("Knowledge ingestion failed", "document", doc.ID, "error", env.Error)
	}

	if err := i.store.Put(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to store ingestion result: %w", err)
	}

	// a delete that ran while the webhook was busy has already forgotten
	// the document, so the result written above is ours to remove
	if err := i.checkDocument(ctx, doc.ID); err != nil {
		if errors.Is(err, ErrDocumentDeleted) {
			if derr := i.store.Delete(context.WithoutCancel(ctx), doc.ID); derr != nil {
				return nil, fmt.Errorf("failed to drop ingestion result: %w", derr)
			}
		}
		return nil, err
	}

	return result, nil
}

func (i *Ingestor) checkDocument(ctx context.Context, documentID string) error {
	if i.exists == nil {
		return nil
	}
	ok, err := i.exists(context.WithoutCancel(ctx), documentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDocumentDeleted
	}
	return nil
}

// Enqueue schedules ingestion on the dispatch pool
func (i *Ingestor) Enqueue(doc *models.Document) error {
	if i.pool == nil {
		_, err := i.Ingest(context.Background(), doc)
		return err
	}

	copied := *doc
	return i.pool.Submit(&workflow.Job{
		ID: "ingest:" + doc.ID,
		Run: func(ctx context.Context) error {
			_, err := i.Ingest(ctx, &copied)
			if errors.Is(err, ErrDocumentDeleted) {
				xlog.Debug("Skipped ingestion of deleted document", "document", copied.ID)
				return nil
			}
			return err
		},
	})
}

// Result returns the stored outcome for a document
func (i *Ingestor) Result(ctx context.Context, documentID string) (*Result, error) {
	return i.store.Get(ctx, documentID)
}

// Results returns every stored outcome owned by userID
func (i *Ingestor) Results(ctx context.Context, userID string) ([]*Result, error) {
	return i.store.ListByUser(ctx, userID)
}

// Forget drops the stored outcome for a document
func (i *Ingestor) Forget(ctx context.Context, documentID string) error {
	return i.store.Delete(ctx, documentID)
}
