package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/drblury/flowplan/internal/model"
)

// MemoryStore keeps encoded records in a map. Callers never share a record
// with the store: every Load decodes a fresh copy.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]memoryEntry
}

type memoryEntry struct {
	flow string
	body []byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]memoryEntry)}
}

func (s *MemoryStore) Save(_ context.Context, rec *model.Record) error {
	body, err := encode(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UUID] = memoryEntry{flow: rec.Flow, body: body}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id uuid.UUID) (*model.Record, error) {
	s.mu.RLock()
	entry, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return model.RecordFromJSON(entry.body)
}

func (s *MemoryStore) List(_ context.Context) ([]*model.Record, error) {
	type item struct {
		id uuid.UUID
		memoryEntry
	}
	s.mu.RLock()
	items := make([]item, 0, len(s.records))
	for id, entry := range s.records {
		items = append(items, item{id: id, memoryEntry: entry})
	}
	s.mu.RUnlock()

	slices.SortFunc(items, func(a, b item) int {
		if c := cmp.Compare(a.flow, b.flow); c != 0 {
			return c
		}
		return cmp.Compare(a.id.String(), b.id.String())
	})
	out := make([]*model.Record, 0, len(items))
	for _, it := range items {
		rec, err := model.RecordFromJSON(it.body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return notFound(id)
	}
	delete(s.records, id)
	return nil
}

func (*MemoryStore) Close() error { return nil }
