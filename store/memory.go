package store

import (
	"context"
	"sort"
	"sync"

	"github.com/martinemde/codeloop/chat"
)

// MemoryStore keeps conversation records in memory. Get returns a fresh
// copy so callers never share state with the store.
type MemoryStore struct {
	records map[string]chat.Record
	mu      sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]chat.Record)}
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, summarize(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastTouched.Equal(out[j].LastTouched) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastTouched.After(out[j].LastTouched)
	})
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return chat.FromRecord(r), nil
}

func (s *MemoryStore) Put(ctx context.Context, conv *chat.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := conv.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
