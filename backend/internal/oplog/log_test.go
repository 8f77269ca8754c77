package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Codeshare/codeshare/backend/internal/bus"
)

func TestAppend_AllocatesSequentialSeq(t *testing.T) {
	log := NewLog(NewMemoryStore(), bus.NewMemory(), nil)
	ctx := context.Background()
	by := Originator{UserID: 1, ClientID: "c1"}

	for want := uint64(1); want <= 3; want++ {
		op, err := log.Append(ctx, "d1", json.RawMessage(`{}`), by)
		if err != nil {
			t.Fatalf("Append error: %v", err)
		}
		if op.Seq != want {
			t.Fatalf("Seq = %d, want %d", op.Seq, want)
		}
	}

	// 文档之间互不影响
	op, err := log.Append(ctx, "d2", json.RawMessage(`{}`), by)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if op.Seq != 1 {
		t.Fatalf("d2 Seq = %d, want 1", op.Seq)
	}
}

func TestAppend_ConcurrentWritersGetUniqueSeqs(t *testing.T) {
	log := NewLog(NewMemoryStore(), bus.NewMemory(), nil)
	ctx := context.Background()

	// 每次 ErrSeqTaken 都意味着别的写入者成功占了一个号，所以
	// 单个写入者最多输 writers-1 次；writers 取 maxRetry+1 保证必然成功
	const writers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			by := Originator{UserID: uint64(i + 1), ClientID: fmt.Sprintf("c%d", i)}
			op, err := log.Append(ctx, "d1", json.RawMessage(`{}`), by)
			if err != nil {
				t.Errorf("Append error: %v", err)
				return
			}
			mu.Lock()
			if seen[op.Seq] {
				t.Errorf("seq %d allocated twice", op.Seq)
			}
			seen[op.Seq] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for s := uint64(1); s <= writers; s++ {
		if !seen[s] {
			t.Fatalf("seq %d never allocated", s)
		}
	}
}

// collidingStore 让前 n 次 Insert 返回 ErrSeqTaken，模拟并发抢号。
type collidingStore struct {
	Store
	mu        sync.Mutex
	remaining int
}

func (s *collidingStore) Insert(ctx context.Context, op Operation) error {
	s.mu.Lock()
	if s.remaining > 0 {
		s.remaining--
		s.mu.Unlock()
		return ErrSeqTaken
	}
	s.mu.Unlock()
	return s.Store.Insert(ctx, op)
}

func TestAppend_RetriesOnSeqCollision(t *testing.T) {
	store := &collidingStore{Store: NewMemoryStore(), remaining: 2}
	log := NewLog(store, bus.NewMemory(), nil)

	op, err := log.Append(context.Background(), "d1", json.RawMessage(`{}`), Originator{UserID: 1, ClientID: "c1"})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if op.Seq != 1 {
		t.Fatalf("Seq = %d, want 1", op.Seq)
	}
}

func TestAppend_ConflictAfterRetriesExhausted(t *testing.T) {
	store := &collidingStore{Store: NewMemoryStore(), remaining: 100}
	log := NewLog(store, bus.NewMemory(), nil)

	_, err := log.Append(context.Background(), "d1", json.RawMessage(`{}`), Originator{UserID: 1, ClientID: "c1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Append = %v, want ErrConflict", err)
	}
}

func TestAppend_PublishesEvent(t *testing.T) {
	b := bus.NewMemory()
	log := NewLog(NewMemoryStore(), b, nil)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Topic("d1"))
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close()

	by := Originator{UserID: 9, ClientID: "c9"}
	op, err := log.Append(ctx, "d1", json.RawMessage(`{"x":1}`), by)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}

	select {
	case payload := <-sub.C():
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.EventType != EventAppended {
			t.Fatalf("EventType = %q, want %q", ev.EventType, EventAppended)
		}
		if ev.Seq != op.Seq || ev.DocID != "d1" || ev.CreatedBy != by {
			t.Fatalf("event op = %+v, want appended op", ev.Operation)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event published")
	}
}

// failBus 发布永远失败
type failBus struct{}

func (failBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return errors.New("broker down")
}

func (failBus) Subscribe(ctx context.Context, topic string) (bus.Subscription, error) {
	return nil, errors.New("broker down")
}

func TestAppend_PublishFailureStillCommits(t *testing.T) {
	store := NewMemoryStore()
	log := NewLog(store, failBus{}, nil)
	ctx := context.Background()

	op, err := log.Append(ctx, "d1", json.RawMessage(`{}`), Originator{UserID: 1, ClientID: "c1"})
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("Append = %v, want ErrPublish", err)
	}
	// 记录已落库，调用方拿得到已提交的 op
	if op.Seq != 1 {
		t.Fatalf("committed op Seq = %d, want 1", op.Seq)
	}
	last, err := store.LastSeq(ctx, "d1")
	if err != nil || last != 1 {
		t.Fatalf("LastSeq = %d, %v; want 1", last, err)
	}
}

func TestRange_PaginatesAndRestarts(t *testing.T) {
	log := NewLog(NewMemoryStore(), bus.NewMemory(), nil)
	ctx := context.Background()
	by := Originator{UserID: 1, ClientID: "c1"}
	for i := 0; i < 7; i++ {
		if _, err := log.Append(ctx, "d1", json.RawMessage(`{}`), by); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	var got []uint64
	from := uint64(2) // 排他游标：从 seq 3 开始
	for {
		ops, err := log.Range(ctx, "d1", from, 2)
		if err != nil {
			t.Fatalf("Range error: %v", err)
		}
		for _, op := range ops {
			got = append(got, op.Seq)
		}
		if len(ops) < 2 {
			break
		}
		from = ops[len(ops)-1].Seq
	}

	want := []uint64{3, 4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
