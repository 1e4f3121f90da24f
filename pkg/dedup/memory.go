package dedup

import (
	"context"
	"sync"

	"pixivdl/pkg/feed"
)

// MemoryIndex keeps records in process memory. Used by dry runs and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[feed.Namespace]map[string]Record
}

// NewMemoryIndex creates an empty index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[feed.Namespace]map[string]Record)}
}

func (m *MemoryIndex) Has(ctx context.Context, ns feed.Namespace, id string) (bool, error) {
	_, ok, err := m.Get(ctx, ns, id)
	return ok, err
}

func (m *MemoryIndex) Get(_ context.Context, ns feed.Namespace, id string) (Record, bool, error) {
	if _, err := TableFor(ns); err != nil {
		return Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[ns][id]
	return r, ok, nil
}

func (m *MemoryIndex) Record(_ context.Context, r Record) error {
	if _, err := TableFor(r.Namespace); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.records[r.Namespace]
	if !ok {
		bucket = make(map[string]Record)
		m.records[r.Namespace] = bucket
	}
	if _, exists := bucket[r.ID]; !exists {
		bucket[r.ID] = r
	}
	return nil
}

// Len returns the number of records in a namespace
func (m *MemoryIndex) Len(ns feed.Namespace) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[ns])
}

func (m *MemoryIndex) Close() error { return nil }
