package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Codeshare/codeshare/backend/internal/bus"
	"github.com/Codeshare/codeshare/backend/internal/oplog"
)

// SubscribeHistory opens the catch-up-then-live operation stream.
//
// 状态机：INIT → RESOLVE_CURSOR → REPLAY → LIVE → CLOSED。
// 游标解析（有 after 用 after，否则用检查点）和窗口校验在这里同步完成，
// 校验失败直接返回错误不建流；重放和实时合并在 stream goroutine 里进行。
func (c *Coordinator) SubscribeHistory(ctx context.Context, docID string, after *uint64, by oplog.Originator) (*HistoryStream, error) {
	if by.ClientID == "" {
		return nil, ErrUnauthenticated
	}
	if _, err := c.Document(ctx, docID); err != nil {
		return nil, err
	}
	cp, err := c.checkpoints.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("%w: load checkpoint: %v", ErrInternal, err)
	}
	var cursor uint64
	if after != nil {
		cursor = *after
	} else if cp != nil {
		cursor = cp.Seq
	}
	if err := c.checkpoints.ValidateCursor(ctx, docID, cursor); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &HistoryStream{
		docID:    docID,
		client:   by.ClientID,
		cursor:   cursor,
		log:      c.log,
		bus:      c.bus,
		pageSize: c.pageSize,
		ctx:      sctx,
		cancel:   cancel,
		out:      make(chan oplog.Operation),
	}
	go s.run()
	return s, nil
}

// HistoryStream delivers operations after the resolved cursor: persisted
// history first, then live bus messages, strictly seq-ascending with no gaps
// and no duplicates. C is closed on every exit path (consumer cancel, bus or
// storage failure); Err is non-nil for the failure cases, and the consumer
// must resubscribe with a recomputed cursor rather than expect resumption.
type HistoryStream struct {
	docID    string
	client   string
	cursor   uint64
	log      *oplog.Log
	bus      bus.Bus
	pageSize int

	ctx    context.Context
	cancel context.CancelFunc
	out    chan oplog.Operation

	last    uint64            // lastEmittedSeq
	pending []oplog.Operation // live ops collected while replay/send is busy

	mu  sync.Mutex
	err error
}

func (s *HistoryStream) C() <-chan oplog.Operation { return s.out }

func (s *HistoryStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the subscription. Safe to call more than once.
func (s *HistoryStream) Close() { s.cancel() }

func (s *HistoryStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *HistoryStream) run() {
	defer close(s.out)
	defer s.cancel()

	// 必须先订阅、再读库：订阅建立之后发布的操作要么出现在范围读的结果里
	// （被 dedup 过滤），要么进入订阅缓冲，两边都不会丢。反过来先读后订阅，
	// 读与订阅之间发布的操作就永远丢了。
	sub, err := s.bus.Subscribe(s.ctx, oplog.Topic(s.docID))
	if err != nil {
		s.fail(fmt.Errorf("%w: subscribe: %v", ErrInternal, err))
		return
	}
	defer sub.Close()

	replayCh := make(chan oplog.Operation)
	replayErr := make(chan error, 1)
	go s.replayLoop(replayCh, replayErr)

	// REPLAY: emit persisted history in order while collecting live
	// messages on the side.
	replaying := true
	for replaying {
		select {
		case op, ok := <-replayCh:
			if !ok {
				replaying = false
				continue
			}
			if !s.deliver(op, sub) {
				return
			}
		case payload, ok := <-sub.C():
			if !ok {
				s.fail(fmt.Errorf("%w: bus: %v", ErrInternal, sub.Err()))
				return
			}
			s.collect(payload)
		case err := <-replayErr:
			s.fail(fmt.Errorf("%w: range read: %v", ErrInternal, err))
			return
		case <-s.ctx.Done():
			return
		}
	}

	// 重放期间攒下的实时消息按 seq 排序后补发；
	// 与范围读结果重叠的部分由 admit 的 seq 去重挡掉。
	sort.SliceStable(s.pending, func(i, j int) bool { return s.pending[i].Seq < s.pending[j].Seq })
	if !s.drainPending(sub) {
		return
	}

	// LIVE: forward the bus, echo-suppressed and deduplicated.
	for {
		if !s.drainPending(sub) {
			return
		}
		select {
		case payload, ok := <-sub.C():
			if !ok {
				s.fail(fmt.Errorf("%w: bus: %v", ErrInternal, sub.Err()))
				return
			}
			s.collect(payload)
		case <-s.ctx.Done():
			return
		}
	}
}

// replayLoop pages through the persisted log from the cursor onward.
func (s *HistoryStream) replayLoop(out chan<- oplog.Operation, errCh chan<- error) {
	defer close(out)
	from := s.cursor
	for {
		ops, err := s.log.Range(s.ctx, s.docID, from, s.pageSize)
		if err != nil {
			errCh <- err
			return
		}
		for _, op := range ops {
			select {
			case out <- op:
			case <-s.ctx.Done():
				return
			}
		}
		if len(ops) < s.pageSize {
			return
		}
		from = ops[len(ops)-1].Seq
	}
}

func (s *HistoryStream) collect(payload []byte) {
	var ev oplog.Event
	if err := json.Unmarshal(payload, &ev); err != nil || ev.EventType != oplog.EventAppended {
		return
	}
	s.pending = append(s.pending, ev.Operation)
}

// admit applies the two live-path filters: echo suppression and dedup.
func (s *HistoryStream) admit(op oplog.Operation) bool {
	if op.CreatedBy.ClientID == s.client {
		return false // the subscriber never needs its own write echoed back
	}
	if op.Seq <= s.last {
		return false // already emitted via replay or an earlier live message
	}
	return true
}

func (s *HistoryStream) drainPending(sub bus.Subscription) bool {
	for len(s.pending) > 0 {
		op := s.pending[0]
		s.pending = s.pending[1:]
		if !s.admit(op) {
			continue
		}
		if !s.deliver(op, sub) {
			return false
		}
	}
	return true
}

// deliver blocks until the consumer takes op, keeps draining the bus into
// pending meanwhile so a slow consumer never backs the subscription up.
func (s *HistoryStream) deliver(op oplog.Operation, sub bus.Subscription) bool {
	for {
		select {
		case s.out <- op:
			s.last = op.Seq
			return true
		case payload, ok := <-sub.C():
			if !ok {
				s.fail(fmt.Errorf("%w: bus: %v", ErrInternal, sub.Err()))
				return false
			}
			s.collect(payload)
		case <-s.ctx.Done():
			return false
		}
	}
}
