package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/xxxsen/mofadvisor/internal/model"
)

func init() {
	Register("memory", func(args interface{}) (Index, error) {
		return NewMemory(), nil
	})
}

type memoryDoc struct {
	doc     model.IndexedDocument
	entries []model.IndexEntry
}

// memoryIndex swaps whole per-document slices under the write lock; stored
// slices are never mutated afterwards.
type memoryIndex struct {
	mu   sync.RWMutex
	docs map[string]*memoryDoc
}

func NewMemory() Index {
	return &memoryIndex{docs: make(map[string]*memoryDoc)}
}

func (m *memoryIndex) Upsert(ctx context.Context, doc model.IndexedDocument, entries []model.IndexEntry) error {
	if err := validateUpsert(doc, entries); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]model.IndexEntry, len(entries))
	for i, e := range entries {
		e.Embedding = append([]float32(nil), e.Embedding...)
		stored[i] = e
	}
	doc.Records = len(stored)
	m.mu.Lock()
	m.docs[doc.DocumentID] = &memoryDoc{doc: doc, entries: stored}
	m.mu.Unlock()
	return nil
}

func (m *memoryIndex) Delete(ctx context.Context, documentID string) error {
	m.mu.Lock()
	delete(m.docs, documentID)
	m.mu.Unlock()
	return nil
}

func (m *memoryIndex) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.docs = make(map[string]*memoryDoc)
	m.mu.Unlock()
	return nil
}

func (m *memoryIndex) Get(ctx context.Context, documentID string) (*model.IndexedDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[documentID]
	if !ok {
		return nil, false, nil
	}
	doc := d.doc
	return &doc, true, nil
}

func (m *memoryIndex) Documents(ctx context.Context) ([]model.IndexedDocument, error) {
	m.mu.RLock()
	out := make([]model.IndexedDocument, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.doc)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (m *memoryIndex) Entries(ctx context.Context, documentID string) ([]model.IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[documentID]
	if !ok {
		return nil, nil
	}
	out := make([]model.IndexEntry, len(d.entries))
	copy(out, d.entries)
	return out, nil
}

func (m *memoryIndex) Query(ctx context.Context, vector []float32, k int) ([]model.ScoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	top := newTopK(vector, k)
	m.mu.RLock()
	for _, d := range m.docs {
		for _, e := range d.entries {
			top.add(e)
		}
	}
	m.mu.RUnlock()
	return top.result(), nil
}

func (m *memoryIndex) Close() error {
	return nil
}
