package service

import (
	"context"
	"errors"
	"strings"

	"github.com/helios/helios/internal/knowledge"
	"github.com/helios/helios/internal/models"
	"github.com/mudler/xlog"
)

// DocumentInput holds the fields of a new document
type DocumentInput struct {
	Title    string
	Content  string
	FileURL  string
	MimeType string
	Size     string
}

// ErrIngestionDisabled is returned by ingestion procedures when no ingestor is configured
var ErrIngestionDisabled = errors.New("knowledge ingestion is not configured")

// ListDocuments returns the caller's documents, newest first
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	return s.store.ListDocuments(ctx, userID)
}

// GetDocument returns a document owned by the caller
func (s *Service) GetDocument(ctx context.Context, userID, id string) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrNotFound
	}
	return doc, nil
}

// CreateDocument stores a document and, with auto-ingest on, queues it for the
// knowledge webhook. A full queue is logged; the document is still created.
func (s *Service) CreateDocument(ctx context.Context, userID string, in DocumentInput) (*models.Document, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, invalid("title is required")
	}

	doc := &models.Document{
		ID:       newID("doc"),
		UserID:   userID,
		Title:    in.Title,
		Content:  in.Content,
		FileURL:  in.FileURL,
		MimeType: in.MimeType,
		Size:     in.Size,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	if s.ingestor != nil && s.autoIngest {
		if err := s.ingestor.Enqueue(doc); err != nil {
			xlog.Warn("Failed to queue document ingestion", "document", doc.ID, "error", err)
		}
	}

	return doc, nil
}

// DeleteDocument removes a document and its ingestion record. Missing ids succeed.
func (s *Service) DeleteDocument(ctx context.Context, userID, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return nil
	}

	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}

	if s.ingestor != nil {
		if err := s.ingestor.Forget(ctx, id); err != nil {
			xlog.Warn("Failed to delete ingestion result", "document", id, "error", err)
		}
	}
	return nil
}

// IngestDocument sends a document to the knowledge webhook now and returns the result
func (s *Service) IngestDocument(ctx context.Context, userID, id string) (*knowledge.Result, error) {
	if s.ingestor == nil {
		return nil, ErrIngestionDisabled
	}
	doc, err := s.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	result, err := s.ingestor.Ingest(ctx, doc)
	if errors.Is(err, knowledge.ErrDocumentDeleted) {
		return nil, ErrNotFound
	}
	return result, err
}

// ListIngestions returns the stored ingestion results of the caller's documents
func (s *Service) ListIngestions(ctx context.Context, userID string) ([]*knowledge.Result, error) {
	if s.ingestor == nil {
		return nil, ErrIngestionDisabled
	}
	results, err := s.ingestor.Results(ctx, userID)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []*knowledge.Result{}
	}
	return results, nil
}

// DocumentIngestion returns the stored ingestion result of a document
func (s *Service) DocumentIngestion(ctx context.Context, userID, id string) (*knowledge.Result, error) {
	if s.ingestor == nil {
		return nil, ErrIngestionDisabled
	}
	if _, err := s.GetDocument(ctx, userID, id); err != nil {
		return nil, err
	}

	result, err := s.ingestor.Result(ctx, id)
	if errors.Is(err, knowledge.ErrNotFound) {
		return nil, ErrNotFound
	}
	return result, err
}
