package presence

import (
	"context"
	"testing"
	"time"

	"github.com/Codeshare/codeshare/backend/internal/bus"
)

func newTrackerFixture(t *testing.T, ttl time.Duration) (*Tracker, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	return NewTracker(store, b, ttl), store
}

func recvEvent(t *testing.T, s *Stream) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		if !ok {
			t.Fatalf("stream closed unexpectedly, err=%v", s.Err())
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a presence event")
	}
	return Event{}
}

func expectNoEvent(t *testing.T, s *Stream) {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
		t.Fatalf("stream closed unexpectedly, err=%v", s.Err())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_SynthesizedDeletes(t *testing.T) {
	tr, _ := newTrackerFixture(t, time.Minute)
	ctx := context.Background()

	// 只有 u1 存活；订阅者(u9)自以为 u1、u2、u9 都在线
	if err := tr.Upsert(ctx, "d1", Entry{UserID: 1, Username: "alice", ClientID: "ca"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	s, err := tr.Subscribe(ctx, "d1", []uint64{1, 2, 9}, 9)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer s.Close()

	// u2 不在存活集合 → 合成删除；u9 是订阅者自己 → 永不合成
	ev := recvEvent(t, s)
	if ev.EventType != EventDeleted || ev.Entry.UserID != 2 {
		t.Fatalf("synthesized event = %+v, want delete for user 2", ev)
	}
	expectNoEvent(t, s)
}

func TestSubscribe_SelfDeleteFiltered(t *testing.T) {
	tr, _ := newTrackerFixture(t, time.Minute)
	ctx := context.Background()

	if err := tr.Upsert(ctx, "d1", Entry{UserID: 9, Username: "self", ClientID: "c9"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := tr.Upsert(ctx, "d1", Entry{UserID: 2, Username: "bob", ClientID: "cb"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	s, err := tr.Subscribe(ctx, "d1", nil, 9)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer s.Close()

	// 针对自己的实时删除被过滤，别人的正常到达
	if err := tr.Delete(ctx, "d1", 9, "c9"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := tr.Delete(ctx, "d1", 2, "cb"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	ev := recvEvent(t, s)
	if ev.EventType != EventDeleted || ev.Entry.UserID != 2 {
		t.Fatalf("event = %+v, want delete for user 2", ev)
	}
	expectNoEvent(t, s)
}

func TestSubscribe_ForwardsUpserts(t *testing.T) {
	tr, _ := newTrackerFixture(t, time.Minute)
	ctx := context.Background()

	s, err := tr.Subscribe(ctx, "d1", nil, 9)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer s.Close()

	cursor := &Cursor{Position: 4, SelectionEnd: 8}
	if err := tr.Upsert(ctx, "d1", Entry{UserID: 2, Username: "bob", Color: "#f00", Cursor: cursor, ClientID: "cb"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	ev := recvEvent(t, s)
	if ev.EventType != EventUpserted || ev.Entry.UserID != 2 {
		t.Fatalf("event = %+v, want upsert for user 2", ev)
	}
	if ev.Entry.Cursor == nil || ev.Entry.Cursor.Position != 4 {
		t.Fatalf("cursor not carried: %+v", ev.Entry.Cursor)
	}
	if ev.Entry.ModifiedAt.IsZero() {
		t.Fatalf("ModifiedAt not stamped")
	}
}

func TestDelete_OnlyByLastWriter(t *testing.T) {
	tr, store := newTrackerFixture(t, time.Minute)
	ctx := context.Background()

	if err := tr.Upsert(ctx, "d1", Entry{UserID: 1, Username: "alice", ClientID: "tab-2"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	// tab-1 的删除不生效：条目已被 tab-2 刷新，归 tab-2 所有
	if err := tr.Delete(ctx, "d1", 1, "tab-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if e, _ := store.Get(ctx, "d1", 1); e == nil {
		t.Fatalf("entry deleted by a stale client")
	}

	if err := tr.Delete(ctx, "d1", 1, "tab-2"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if e, _ := store.Get(ctx, "d1", 1); e != nil {
		t.Fatalf("entry still present after owner delete")
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	if err := store.Upsert(ctx, "d1", Entry{UserID: 1, ClientID: "c1"}, 30*time.Second); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if e, _ := store.Get(ctx, "d1", 1); e == nil {
		t.Fatalf("entry missing before expiry")
	}

	// 时钟拨过 TTL，条目静默过期
	now = now.Add(31 * time.Second)
	if e, _ := store.Get(ctx, "d1", 1); e != nil {
		t.Fatalf("entry alive past TTL")
	}
	active, err := store.ListActive(ctx, "d1")
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("ListActive = %+v, want empty", active)
	}
}

func TestSubscribe_ExpiredKnownMemberSynthesized(t *testing.T) {
	store := NewMemoryStore()
	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	tr := NewTracker(store, b, 30*time.Second)
	ctx := context.Background()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	if err := tr.Upsert(ctx, "d1", Entry{UserID: 2, Username: "bob", ClientID: "cb"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	now = now.Add(time.Minute) // u2 悄悄过期，没有显式离开事件

	s, err := tr.Subscribe(ctx, "d1", []uint64{2}, 9)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer s.Close()

	ev := recvEvent(t, s)
	if ev.EventType != EventDeleted || ev.Entry.UserID != 2 {
		t.Fatalf("event = %+v, want synthesized delete for user 2", ev)
	}
}
