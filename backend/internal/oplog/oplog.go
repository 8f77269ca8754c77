package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Codeshare/codeshare/backend/internal/bus"
)

// Originator 标识一次写入来自哪个用户的哪个客户端实例。
// 同一用户可有多个 clientId（多端/多标签页）。
type Originator struct {
	UserID   uint64 `json:"userId"`
	ClientID string `json:"clientId"`
}

// Operation is one immutable log record. (DocID, Seq) is the composite id;
// Seq is strictly increasing per document. Payload is an opaque edit blob,
// this layer never interprets it.
type Operation struct {
	DocID     string          `json:"docId"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
	CreatedBy Originator      `json:"createdBy"`
	CreatedAt time.Time       `json:"createdAt"`
}

const EventAppended = "OP_APPENDED"

// Event is the bus/kafka envelope for an appended operation.
type Event struct {
	EventType string `json:"eventType"` // 固定 "OP_APPENDED"
	Operation
}

// Topic is the per-document bus topic appended operations are published on.
func Topic(docID string) string { return "doc-ops:" + docID }

var (
	// ErrSeqTaken：(docID, seq) 已存在，另一并发写入抢先占了这个序号。
	ErrSeqTaken = errors.New("SEQ_TAKEN")
	// ErrConflict: seq collision retries exhausted.
	ErrConflict = errors.New("CONFLICT")
)

// Store is the durable backing for the log.
type Store interface {
	// Insert persists op; returns ErrSeqTaken when (DocID, Seq) is already
	// occupied.
	Insert(ctx context.Context, op Operation) error
	// LastSeq returns the newest seq for the document, 0 when empty.
	LastSeq(ctx context.Context, docID string) (uint64, error)
	// Range returns operations with seq > fromExclusive in ascending seq
	// order. limit <= 0 means no limit.
	Range(ctx context.Context, docID string, fromExclusive uint64, limit int) ([]Operation, error)
}

const defaultMaxRetry = 5

// Log appends operations with race-safe sequence allocation and publishes
// each committed record on the bus. Storage errors propagate to the caller
// uncaught; only seq collisions are retried, up to a small bound.
type Log struct {
	store    Store
	bus      bus.Bus
	mirror   *bus.KafkaMirror // optional, nil disables kafka fan-out
	maxRetry int
}

func NewLog(store Store, b bus.Bus, mirror *bus.KafkaMirror) *Log {
	return &Log{store: store, bus: b, mirror: mirror, maxRetry: defaultMaxRetry}
}

// Append allocates the next seq for the document, persists the record and
// publishes it post-commit. Allocation is optimistic: read the current head,
// insert head+1, retry on collision (the unique (doc, seq) key arbitrates
// concurrent writers).
func (l *Log) Append(ctx context.Context, docID string, payload json.RawMessage, by Originator) (Operation, error) {
	for attempt := 0; attempt <= l.maxRetry; attempt++ {
		last, err := l.store.LastSeq(ctx, docID)
		if err != nil {
			return Operation{}, err
		}
		op := Operation{
			DocID:     docID,
			Seq:       last + 1,
			Payload:   payload,
			CreatedBy: by,
			CreatedAt: time.Now().UTC(),
		}
		err = l.store.Insert(ctx, op)
		if errors.Is(err, ErrSeqTaken) {
			continue // lost the race, re-read the head
		}
		if err != nil {
			return Operation{}, err
		}
		if err := l.publish(ctx, op); err != nil {
			// 记录已落库但广播失败：订阅者会漏掉这条，必须让调用方感知，
			// 由客户端重订阅追平。
			return op, fmt.Errorf("%w: publish op doc=%s seq=%d: %v", ErrPublish, docID, op.Seq, err)
		}
		return op, nil
	}
	return Operation{}, ErrConflict
}

// ErrPublish: the record is committed but the post-commit publish failed.
var ErrPublish = errors.New("PUBLISH_FAILED")

func (l *Log) publish(ctx context.Context, op Operation) error {
	b, err := json.Marshal(Event{EventType: EventAppended, Operation: op})
	if err != nil {
		return err
	}
	if err := l.bus.Publish(ctx, Topic(op.DocID), b); err != nil {
		return err
	}
	if l.mirror != nil {
		// kafka 镜像尽力而为，入队失败不影响主链路
		_ = l.mirror.Enqueue(ctx, op.DocID, b)
	}
	return nil
}

// Range reads persisted history, strictly seq-ascending, restartable by
// passing the last seen seq as fromExclusive.
func (l *Log) Range(ctx context.Context, docID string, fromExclusive uint64, limit int) ([]Operation, error) {
	return l.store.Range(ctx, docID, fromExclusive, limit)
}

// LastSeq exposes the document head, used by checkpoint validation.
func (l *Log) LastSeq(ctx context.Context, docID string) (uint64, error) {
	return l.store.LastSeq(ctx, docID)
}
