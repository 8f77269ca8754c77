package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Codeshare/codeshare/backend/internal/bus"
	"github.com/Codeshare/codeshare/backend/internal/checkpoint"
	"github.com/Codeshare/codeshare/backend/internal/oplog"
	"github.com/Codeshare/codeshare/backend/internal/presence"
)

const defaultReplayPageSize = 256

// Coordinator 把日志、检查点、在线状态和 bus 串成对外的同步核心。
// 鉴权和访问控制在上游完成，这里拿到的 (userID, clientID) 当作既定事实，
// 只做最后的防御性断言。
type Coordinator struct {
	docs        DocumentStore
	log         *oplog.Log
	checkpoints *checkpoint.Tracker
	presence    *presence.Tracker
	bus         bus.Bus
	pageSize    int
}

func NewCoordinator(docs DocumentStore, log *oplog.Log, cps *checkpoint.Tracker, pt *presence.Tracker, b bus.Bus, replayPageSize int) *Coordinator {
	if replayPageSize <= 0 {
		replayPageSize = defaultReplayPageSize
	}
	return &Coordinator{
		docs:        docs,
		log:         log,
		checkpoints: cps,
		presence:    pt,
		bus:         b,
		pageSize:    replayPageSize,
	}
}

// Document loads document metadata, for callers that need the edit
// permission set before appending.
func (c *Coordinator) Document(ctx context.Context, docID string) (*Document, error) {
	doc, err := c.docs.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("%w: load document: %v", ErrInternal, err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

// CreateDocument registers a new document.
func (c *Coordinator) CreateDocument(ctx context.Context, doc Document) error {
	if err := c.docs.Create(ctx, doc); err != nil {
		return fmt.Errorf("%w: create document: %v", ErrInternal, err)
	}
	return nil
}

// AppendOperation persists one operation and publishes it. Seq allocation
// and collision retry live in the log; this layer asserts the principal and
// the document's existence.
func (c *Coordinator) AppendOperation(ctx context.Context, docID string, payload json.RawMessage, by oplog.Originator) (oplog.Operation, error) {
	if by.ClientID == "" || by.UserID == 0 {
		return oplog.Operation{}, ErrUnauthenticated
	}
	if _, err := c.Document(ctx, docID); err != nil {
		return oplog.Operation{}, err
	}
	return c.log.Append(ctx, docID, payload, by)
}

// History is the bounded catch-up read: operations after `after`, window
// validated exactly like a subscription.
func (c *Coordinator) History(ctx context.Context, docID string, after uint64, limit int) ([]oplog.Operation, error) {
	if _, err := c.Document(ctx, docID); err != nil {
		return nil, err
	}
	if err := c.checkpoints.ValidateCursor(ctx, docID, after); err != nil {
		return nil, err
	}
	ops, err := c.log.Range(ctx, docID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: range read: %v", ErrInternal, err)
	}
	return ops, nil
}

// Checkpoint returns the document's compaction pointer, nil when none.
func (c *Coordinator) Checkpoint(ctx context.Context, docID string) (*checkpoint.Checkpoint, error) {
	if _, err := c.Document(ctx, docID); err != nil {
		return nil, err
	}
	return c.checkpoints.Get(ctx, docID)
}

// SetCheckpoint moves the compaction pointer (last writer wins).
func (c *Coordinator) SetCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error {
	if cp.CreatedBy.ClientID == "" {
		return ErrUnauthenticated
	}
	if _, err := c.Document(ctx, cp.DocID); err != nil {
		return err
	}
	return c.checkpoints.Set(ctx, cp)
}

// UpsertPresence refreshes the user's TTL-bound presence entry.
func (c *Coordinator) UpsertPresence(ctx context.Context, docID string, e presence.Entry) error {
	if e.ClientID == "" || e.UserID == 0 {
		return ErrUnauthenticated
	}
	if _, err := c.Document(ctx, docID); err != nil {
		return err
	}
	return c.presence.Upsert(ctx, docID, e)
}

// DeletePresence is the explicit leave.
func (c *Coordinator) DeletePresence(ctx context.Context, docID string, userID uint64, clientID string) error {
	if clientID == "" || userID == 0 {
		return ErrUnauthenticated
	}
	if _, err := c.Document(ctx, docID); err != nil {
		return err
	}
	return c.presence.Delete(ctx, docID, userID, clientID)
}

// SubscribePresence opens the presence event stream (join-state diff, then
// live events).
func (c *Coordinator) SubscribePresence(ctx context.Context, docID string, knownIDs []uint64, by oplog.Originator) (*presence.Stream, error) {
	if by.ClientID == "" || by.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if _, err := c.Document(ctx, docID); err != nil {
		return nil, err
	}
	s, err := c.presence.Subscribe(ctx, docID, knownIDs, by.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe presence: %v", ErrInternal, err)
	}
	return s, nil
}
