package checkpoint

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu  sync.RWMutex
	cps map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Get(ctx context.Context, docID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[docID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.DocID] = cp
	return nil
}
