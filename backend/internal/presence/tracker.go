package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Codeshare/codeshare/backend/internal/bus"
)

// Tracker combines the TTL store with the bus: every upsert/delete is
// persisted and published on the document's presence topic.
type Tracker struct {
	store Store
	bus   bus.Bus
	ttl   time.Duration
}

func NewTracker(store Store, b bus.Bus, ttl time.Duration) *Tracker {
	return &Tracker{store: store, bus: b, ttl: ttl}
}

// TTL is the refresh interval contract for clients (heartbeat must come in
// under this).
func (t *Tracker) TTL() time.Duration { return t.ttl }

func (t *Tracker) Upsert(ctx context.Context, docID string, e Entry) error {
	e.ModifiedAt = time.Now().UTC()
	if err := t.store.Upsert(ctx, docID, e, t.ttl); err != nil {
		return err
	}
	return t.publish(ctx, Event{EventType: EventUpserted, DocID: docID, Entry: e})
}

// Delete is the explicit leave. It only applies when the entry was last
// written by the same client: if another tab/device has since refreshed the
// entry, that client owns it now and this delete is a no-op.
func (t *Tracker) Delete(ctx context.Context, docID string, userID uint64, clientID string) error {
	cur, err := t.store.Get(ctx, docID, userID)
	if err != nil {
		return err
	}
	if cur == nil || cur.ClientID != clientID {
		return nil
	}
	if err := t.store.Delete(ctx, docID, userID); err != nil {
		return err
	}
	return t.publish(ctx, Event{EventType: EventDeleted, DocID: docID, Entry: *cur})
}

func (t *Tracker) ListActive(ctx context.Context, docID string) ([]Entry, error) {
	return t.store.ListActive(ctx, docID)
}

func (t *Tracker) publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return t.bus.Publish(ctx, Topic(ev.DocID), b)
}

// Subscribe opens a presence event stream for one document.
//
// 先订阅 bus，再读存活集合；随后做一次性的加入状态对账：
// 客户端已知但已不在存活集合里的成员（TTL 过期、没有显式离开事件）
// 被合成为删除事件补发，订阅者自己的 userId 除外。之后原样转发实时事件，
// 仅过滤掉针对订阅者自身的删除。
func (t *Tracker) Subscribe(ctx context.Context, docID string, knownIDs []uint64, selfUserID uint64) (*Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	sub, err := t.bus.Subscribe(sctx, Topic(docID))
	if err != nil {
		cancel()
		return nil, err
	}
	active, err := t.store.ListActive(sctx, docID)
	if err != nil {
		sub.Close()
		cancel()
		return nil, err
	}

	activeIDs := make(map[uint64]struct{}, len(active))
	for _, e := range active {
		activeIDs[e.UserID] = struct{}{}
	}
	var synthesized []Event
	for _, id := range knownIDs {
		if id == selfUserID {
			continue // dont delete self
		}
		if _, ok := activeIDs[id]; !ok {
			synthesized = append(synthesized, Event{
				EventType: EventDeleted,
				DocID:     docID,
				Entry:     Entry{UserID: id},
			})
		}
	}

	s := &Stream{
		self:   selfUserID,
		ctx:    sctx,
		cancel: cancel,
		sub:    sub,
		out:    make(chan Event),
	}
	go s.run(synthesized)
	return s, nil
}

// Stream delivers presence events until closed. C is closed on every exit
// path; check Err afterwards.
type Stream struct {
	self   uint64
	ctx    context.Context
	cancel context.CancelFunc
	sub    bus.Subscription
	out    chan Event

	mu  sync.Mutex
	err error
}

func (s *Stream) C() <-chan Event { return s.out }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() { s.cancel() }

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Stream) run(synthesized []Event) {
	defer close(s.out)
	defer s.cancel()
	defer s.sub.Close()

	for _, ev := range synthesized {
		select {
		case s.out <- ev:
		case <-s.ctx.Done():
			return
		}
	}

	for {
		select {
		case payload, ok := <-s.sub.C():
			if !ok {
				if err := s.sub.Err(); err != nil {
					s.fail(err)
				}
				return
			}
			var ev Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue // foreign payload on the topic, skip
			}
			if ev.EventType == EventDeleted && ev.Entry.UserID == s.self {
				continue
			}
			select {
			case s.out <- ev:
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
