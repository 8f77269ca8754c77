package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Codeshare/codeshare/backend/internal/oplog"
)

// Checkpoint 是文档的压缩指针：Seq 之前的历史不需要重放，
// Value 是那一刻的快照（对本层不透明）。
type Checkpoint struct {
	DocID     string           `json:"docId"`
	Seq       uint64           `json:"seq"`
	Value     json.RawMessage  `json:"value"`
	CreatedBy oplog.Originator `json:"createdBy"`
	CreatedAt time.Time        `json:"createdAt"`
}

var (
	// ErrInvalidCursor: the requested replay start falls outside the
	// catch-up window behind the checkpoint. Recoverable by fetching a
	// fresh checkpoint out of band.
	ErrInvalidCursor = errors.New("INVALID_CURSOR")
	// ErrAheadOfLog: a checkpoint may point backward or at the log head,
	// never past it.
	ErrAheadOfLog = errors.New("CHECKPOINT_AHEAD_OF_LOG")
)

// Store holds at most one checkpoint per document.
type Store interface {
	// Get returns nil when the document has no checkpoint yet.
	Get(ctx context.Context, docID string) (*Checkpoint, error)
	// Put overwrites unconditionally (last writer wins).
	Put(ctx context.Context, cp Checkpoint) error
}

// SeqSource exposes the newest appended seq per document.
type SeqSource interface {
	LastSeq(ctx context.Context, docID string) (uint64, error)
}

// Tracker owns the compaction pointer and the catch-up window rule.
// window 只在这里被用到，调用方不允许自己内联这个常量。
type Tracker struct {
	store  Store
	seqs   SeqSource
	window uint64
}

func NewTracker(store Store, seqs SeqSource, window uint64) *Tracker {
	return &Tracker{store: store, seqs: seqs, window: window}
}

func (t *Tracker) Get(ctx context.Context, docID string) (*Checkpoint, error) {
	return t.store.Get(ctx, docID)
}

// Set moves the pointer, last writer wins. There is deliberately no
// compare-and-swap against concurrent movers; a stale overwrite only widens
// the replay span, it never loses operations. The pointer must not pass the
// log head.
func (t *Tracker) Set(ctx context.Context, cp Checkpoint) error {
	last, err := t.seqs.LastSeq(ctx, cp.DocID)
	if err != nil {
		return err
	}
	if cp.Seq > last {
		return ErrAheadOfLog
	}
	return t.store.Put(ctx, cp)
}

// ValidateCursor enforces start >= checkpoint.Seq - window. A start further
// back would force an unbounded replay, so it is rejected instead of served.
func (t *Tracker) ValidateCursor(ctx context.Context, docID string, start uint64) error {
	cp, err := t.store.Get(ctx, docID)
	if err != nil {
		return err
	}
	if cp == nil {
		return nil // no checkpoint yet, any start is fine
	}
	if cp.Seq > t.window && start < cp.Seq-t.window {
		return ErrInvalidCursor
	}
	return nil
}
