// Package vectorindex stores IndexEntries and answers nearest neighbour queries.
//
// Every backend replaces the entries of one document atomically: readers see
// either the previous entry set or the new one.
package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/mofadvisor/internal/config"
	"github.com/xxxsen/mofadvisor/internal/model"
)

// Reader is the read-only view used at query time.
type Reader interface {
	Query(ctx context.Context, vector []float32, k int) ([]model.ScoredEntry, error)
}

type Index interface {
	Reader
	// Upsert replaces every entry of doc.DocumentID with entries. An empty
	// entries slice records the document as indexed with zero records.
	Upsert(ctx context.Context, doc model.IndexedDocument, entries []model.IndexEntry) error
	Delete(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
	Get(ctx context.Context, documentID string) (*model.IndexedDocument, bool, error)
	Documents(ctx context.Context) ([]model.IndexedDocument, error)
	Entries(ctx context.Context, documentID string) ([]model.IndexEntry, error)
	Close() error
}

type Factory func(args interface{}) (Index, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.IndexConfig) (Index, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("index.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported index type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

func validateUpsert(doc model.IndexedDocument, entries []model.IndexEntry) error {
	if doc.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if e.DocumentID != doc.DocumentID {
			return fmt.Errorf("entry belongs to %q, not %q", e.DocumentID, doc.DocumentID)
		}
		if seen[e.Ordinal] {
			return fmt.Errorf("duplicate ordinal %d for %q", e.Ordinal, doc.DocumentID)
		}
		seen[e.Ordinal] = true
		if len(e.Embedding) == 0 {
			return fmt.Errorf("entry %d of %q has no embedding", e.Ordinal, doc.DocumentID)
		}
	}
	return nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("index config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode index config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode index config: %w", err)
	}
	return nil
}
