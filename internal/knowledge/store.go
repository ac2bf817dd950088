package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a document has no ingestion record
var ErrNotFound = errors.New("ingestion result not found")

const keyPrefix = "knowledge:result:"

// Result is the outcome of sending one document to the knowledge webhook
type Result struct {
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	IngestedAt time.Time       `json:"ingestedAt"`
}

// Store keeps ingestion results in BadgerDB, one key per document
type Store struct {
	db *badger.DB
}

// Open opens the result store at path. An empty path runs in memory.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path = expandPath(path)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create knowledge directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}

	db, err := badger.Open(opts.WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &Store{db: db}, nil
}

// Put stores or replaces the result for its document
func (s *Store) Put(ctx context.Context, result *Result) error {
	if result.DocumentID == "" {
		return fmt.Errorf("result has no document id")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(result.DocumentID), data)
	})
}

// Get returns the result for a document
func (s *Store) Get(ctx context.Context, documentID string) (*Result, error) {
	var result Result

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(documentID))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}

	return &result, nil
}

// Delete removes the result for a document. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, documentID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(documentID))
	})
}

// ListByUser returns every stored result owned by userID
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Result, error) {
	var results []*Result

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var result Result
				if err := json.Unmarshal(val, &result); err != nil {
					return nil // Skip malformed entries
				}
				if result.UserID == userID {
					results = append(results, &result)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	return results, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func key(documentID string) []byte {
	return []byte(keyPrefix + documentID)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
