package oplog

import (
	"context"
	"sync"
)

// MemoryStore keeps the log in process memory. Tests and single-node runs;
// the uniqueness semantics mirror the MySQL store so Log behaves the same
// against either.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string][]Operation // seq-ascending per document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string][]Operation)}
}

func (s *MemoryStore) Insert(ctx context.Context, op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.ops[op.DocID]
	if n := len(existing); n > 0 && op.Seq <= existing[n-1].Seq {
		return ErrSeqTaken
	}
	s.ops[op.DocID] = append(existing, op)
	return nil
}

func (s *MemoryStore) LastSeq(ctx context.Context, docID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := s.ops[docID]
	if len(existing) == 0 {
		return 0, nil
	}
	return existing[len(existing)-1].Seq, nil
}

func (s *MemoryStore) Range(ctx context.Context, docID string, fromExclusive uint64, limit int) ([]Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Operation
	for _, op := range s.ops[docID] {
		if op.Seq <= fromExclusive {
			continue
		}
		out = append(out, op)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
