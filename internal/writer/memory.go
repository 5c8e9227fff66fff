package writer

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory only.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) Upsert(_ context.Context, rows []Record) (stale int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		if cur, ok := s.records[r.key()]; ok && cur.UpdatedAt.After(r.UpdatedAt) {
			stale++
			continue
		}
		s.records[r.key()] = r
	}
	return stale, nil
}

func (s *MemoryStore) Latest(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
