package store

import (
	"context"
	"iter"
	"maps"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]map[string]string
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]string)}
}

func (m *MemoryStore) Put(_ context.Context, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		m.order = append(m.order, id)
	}
	m.docs[id] = maps.Clone(fields)
	if m.docs[id] == nil {
		m.docs[id] = map[string]string{}
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.docs[id]
	if !ok {
		return model.Document{}, notFound(id)
	}
	return model.Document{ID: id, Fields: maps.Clone(fields)}, nil
}

func (m *MemoryStore) Flush(context.Context) error {
	m.mu.Lock()
	m.docs = make(map[string]map[string]string)
	m.order = nil
	m.mu.Unlock()
	return nil
}

// All iterates over a snapshot taken when iteration starts, so Puts made
// while iterating are not observed.
func (m *MemoryStore) All(ctx context.Context) iter.Seq2[model.Document, error] {
	return func(yield func(model.Document, error) bool) {
		m.mu.RLock()
		snapshot := make([]model.Document, 0, len(m.order))
		for _, id := range m.order {
			snapshot = append(snapshot, model.Document{ID: id, Fields: maps.Clone(m.docs[id])})
		}
		m.mu.RUnlock()

		for _, doc := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(model.Document{}, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

func (m *MemoryStore) Backend() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }
