package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Codeshare/codeshare/backend/internal/checkpoint"
	"github.com/Codeshare/codeshare/backend/internal/oplog"
	"github.com/Codeshare/codeshare/backend/internal/ot/delta"
)

// Value is the checkpoint snapshot format this service writes. The
// checkpoint layer itself treats it as opaque bytes.
type Value struct {
	Content string `json:"content"`
}

// Result is a materialized document state.
type Result struct {
	Content string
	Seq     uint64 // seq of the last folded operation
}

const defaultFoldPageSize = 256

// Rebuilder 把检查点快照和其后的日志折叠成当前文档内容，
// 也负责用折叠结果生成新的检查点（压缩推进）。
type Rebuilder struct {
	log         *oplog.Log
	checkpoints *checkpoint.Tracker
	pageSize    int
}

func NewRebuilder(log *oplog.Log, cps *checkpoint.Tracker, pageSize int) *Rebuilder {
	if pageSize <= 0 {
		pageSize = defaultFoldPageSize
	}
	return &Rebuilder{log: log, checkpoints: cps, pageSize: pageSize}
}

// Content rebuilds the document: seed a piece table from the checkpoint
// value, then fold every logged delta after the checkpoint seq. Payloads
// that do not decode as deltas fail the rebuild, not the log.
func (r *Rebuilder) Content(ctx context.Context, docID string) (Result, error) {
	cp, err := r.checkpoints.Get(ctx, docID)
	if err != nil {
		return Result{}, err
	}
	var initial string
	var seq uint64
	if cp != nil {
		var v Value
		if err := json.Unmarshal(cp.Value, &v); err != nil {
			return Result{}, fmt.Errorf("decode checkpoint value doc=%s seq=%d: %w", docID, cp.Seq, err)
		}
		initial = v.Content
		seq = cp.Seq
	}

	var buf Buffer = NewPieceTable(initial)
	for {
		ops, err := r.log.Range(ctx, docID, seq, r.pageSize)
		if err != nil {
			return Result{}, err
		}
		for _, op := range ops {
			var d delta.Delta
			if err := json.Unmarshal(op.Payload, &d); err != nil {
				return Result{}, fmt.Errorf("decode op payload doc=%s seq=%d: %w", docID, op.Seq, err)
			}
			if err := buf.Apply(d); err != nil {
				return Result{}, fmt.Errorf("apply op doc=%s seq=%d: %w", docID, op.Seq, err)
			}
			seq = op.Seq
		}
		if len(ops) < r.pageSize {
			break
		}
	}
	return Result{Content: buf.String(), Seq: seq}, nil
}

// SaveCheckpoint folds the log and persists the result as the document's new
// compaction pointer.
func (r *Rebuilder) SaveCheckpoint(ctx context.Context, docID string, by oplog.Originator) (checkpoint.Checkpoint, error) {
	res, err := r.Content(ctx, docID)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	value, err := json.Marshal(Value{Content: res.Content})
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	cp := checkpoint.Checkpoint{
		DocID:     docID,
		Seq:       res.Seq,
		Value:     value,
		CreatedBy: by,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.checkpoints.Set(ctx, cp); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	return cp, nil
}
