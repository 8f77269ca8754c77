package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Codeshare/codeshare/backend/internal/oplog"
)

// fixedSeqs 返回固定的日志头
type fixedSeqs map[string]uint64

func (s fixedSeqs) LastSeq(ctx context.Context, docID string) (uint64, error) {
	return s[docID], nil
}

func mkCheckpoint(docID string, seq uint64) Checkpoint {
	return Checkpoint{
		DocID:     docID,
		Seq:       seq,
		Value:     json.RawMessage(`{"content":""}`),
		CreatedBy: oplog.Originator{UserID: 1, ClientID: "c1"},
	}
}

func TestValidateCursor_Window(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(store, fixedSeqs{"d1": 5000}, 1000)
	ctx := context.Background()

	if err := tr.Set(ctx, mkCheckpoint("d1", 5000)); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	// 窗口边界：start >= cp.Seq - window 合法
	if err := tr.ValidateCursor(ctx, "d1", 4000); err != nil {
		t.Fatalf("start 4000 rejected: %v", err)
	}
	if err := tr.ValidateCursor(ctx, "d1", 5000); err != nil {
		t.Fatalf("start 5000 rejected: %v", err)
	}
	if err := tr.ValidateCursor(ctx, "d1", 3999); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("start 3999 = %v, want ErrInvalidCursor", err)
	}
	if err := tr.ValidateCursor(ctx, "d1", 0); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("start 0 = %v, want ErrInvalidCursor", err)
	}
}

func TestValidateCursor_NoCheckpoint(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), fixedSeqs{}, 1000)
	// 没有检查点时任何游标都合法
	if err := tr.ValidateCursor(context.Background(), "d1", 0); err != nil {
		t.Fatalf("ValidateCursor = %v, want nil", err)
	}
}

func TestValidateCursor_SmallCheckpoint(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(store, fixedSeqs{"d1": 500}, 1000)
	ctx := context.Background()
	if err := tr.Set(ctx, mkCheckpoint("d1", 500)); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	// 检查点还没越过窗口长度，从 0 追也合法
	if err := tr.ValidateCursor(ctx, "d1", 0); err != nil {
		t.Fatalf("ValidateCursor = %v, want nil", err)
	}
}

func TestSet_RejectsAheadOfLog(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), fixedSeqs{"d1": 10}, 1000)
	ctx := context.Background()

	if err := tr.Set(ctx, mkCheckpoint("d1", 10)); err != nil {
		t.Fatalf("Set at head error: %v", err)
	}
	if err := tr.Set(ctx, mkCheckpoint("d1", 11)); !errors.Is(err, ErrAheadOfLog) {
		t.Fatalf("Set past head = %v, want ErrAheadOfLog", err)
	}
}

func TestSet_LastWriterWins(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), fixedSeqs{"d1": 100}, 1000)
	ctx := context.Background()

	if err := tr.Set(ctx, mkCheckpoint("d1", 80)); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	// 回拨检查点是允许的：只会放大重放范围，不丢操作
	if err := tr.Set(ctx, mkCheckpoint("d1", 50)); err != nil {
		t.Fatalf("backward Set error: %v", err)
	}
	cp, err := tr.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if cp == nil || cp.Seq != 50 {
		t.Fatalf("checkpoint = %+v, want Seq 50", cp)
	}
}

func TestGet_NilWhenAbsent(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), fixedSeqs{}, 1000)
	cp, err := tr.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if cp != nil {
		t.Fatalf("Get = %+v, want nil", cp)
	}
}
