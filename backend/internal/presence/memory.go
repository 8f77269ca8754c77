package presence

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	entry    Entry
	expireAt time.Time
}

// MemoryStore is the in-process Store. TTL expiry is evaluated lazily on
// read, same observable behavior as the Redis heartbeat keys.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[uint64]memoryEntry

	// now is swappable so tests can advance time
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[uint64]memoryEntry),
		now:  time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Upsert(ctx context.Context, docID string, e Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[docID] == nil {
		s.docs[docID] = make(map[uint64]memoryEntry)
	}
	s.docs[docID][e.UserID] = memoryEntry{entry: e, expireAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, docID string, userID uint64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	me, ok := s.docs[docID][userID]
	if !ok || s.now().After(me.expireAt) {
		return nil, nil
	}
	e := me.entry
	return &e, nil
}

func (s *MemoryStore) Delete(ctx context.Context, docID string, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[docID], userID)
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context, docID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	now := s.now()
	for _, me := range s.docs[docID] {
		if now.After(me.expireAt) {
			continue
		}
		out = append(out, me.entry)
	}
	return out, nil
}
