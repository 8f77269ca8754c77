package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Codeshare/codeshare/backend/internal/bus"
	"github.com/Codeshare/codeshare/backend/internal/oplog"
	"github.com/Codeshare/codeshare/backend/internal/presence"
	"github.com/Codeshare/codeshare/backend/internal/snapshot"
	"github.com/Codeshare/codeshare/backend/internal/sync"
	gosync "sync"
)

const submitTimeout = 2 * time.Second

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	userID   uint64
	username string
	clientID string

	coord   *sync.Coordinator
	rebuild *snapshot.Rebuilder
	// 信号量控制，限制并发提交
	sem *bus.SemaphoreControl

	send chan OutboundMessage
	done chan struct{} // closed when readLoop exits

	mu             gosync.Mutex
	cancelHistory  context.CancelFunc
	cancelPresence context.CancelFunc
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, username, clientID string, coord *sync.Coordinator, rebuild *snapshot.Rebuilder, sem *bus.SemaphoreControl, sendQueue int) *Conn {
	if sendQueue <= 0 {
		sendQueue = 32
	}
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		username: username,
		clientID: clientID,
		coord:    coord,
		rebuild:  rebuild,
		sem:      sem,
		send:     make(chan OutboundMessage, sendQueue),
		done:     make(chan struct{}),
	}
}

func (c *Conn) origin() oplog.Originator {
	return oplog.Originator{UserID: c.userID, ClientID: c.clientID}
}

// enqueue 把消息放入发送队列，队列满则丢弃。只用于 ack/错误这类
// 可重建的消息；订阅流的转发走 blockingSend，不允许丢。
func (c *Conn) enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Conn) blockingSend(msg OutboundMessage) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) sendError(err error) {
	c.enqueue(ErrorMessage{Type: "error", Code: sync.Code(err), Content: err.Error()})
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	// 连接结束时撤销所有订阅并唤醒转发/写循环
	defer close(c.done)
	defer c.cancelSubscriptions()

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("ws read error (user=%d client=%s): %v", c.userID, c.clientID, err)
			return
		}
		switch msg.Type {
		case "op_submit":
			c.handleOpSubmit(ctx, msg)

		case "subscribe_history":
			c.handleSubscribeHistory(ctx, msg)

		case "subscribe_presence":
			c.handleSubscribePresence(ctx, msg)

		case "presence_heartbeat":
			entry := presence.Entry{
				UserID:   c.userID,
				Username: c.username,
				Color:    msg.Color,
				Cursor:   msg.Cursor,
				ClientID: c.clientID,
			}
			if err := c.coord.UpsertPresence(ctx, msg.DocID, entry); err != nil {
				c.sendError(err)
				continue
			}
			c.enqueue(ServerMessage{Type: "feedback", DocID: msg.DocID, Content: "Heartbeat received"})

		case "presence_leave":
			if err := c.coord.DeletePresence(ctx, msg.DocID, c.userID, c.clientID); err != nil {
				c.sendError(err)
			}

		case "create_document":
			now := time.Now().UTC()
			doc := sync.Document{
				ID:         fmt.Sprintf("d-%d", now.UnixNano()),
				Title:      msg.Title,
				OwnerID:    c.userID,
				CreatedAt:  now,
				ModifiedAt: now,
			}
			if err := c.coord.CreateDocument(ctx, doc); err != nil {
				c.sendError(err)
				continue
			}
			c.enqueue(ServerMessage{Type: "create_document", DocID: doc.ID})

		case "load_content":
			res, err := c.rebuild.Content(ctx, msg.DocID)
			if err != nil {
				c.sendError(err)
				continue
			}
			c.enqueue(ContentMessage{Type: "content", DocID: msg.DocID, Seq: res.Seq, Content: res.Content})

		case "save_checkpoint":
			cp, err := c.rebuild.SaveCheckpoint(ctx, msg.DocID, c.origin())
			if err != nil {
				c.sendError(err)
				continue
			}
			c.enqueue(CheckpointMessage{Type: "checkpoint_saved", DocID: msg.DocID, Seq: cp.Seq})

		default:
			c.enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	opCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if err := c.sem.Acquire(opCtx); err != nil {
		c.enqueue(ErrorMessage{Type: "error", Code: "INTERNAL", Content: err.Error()})
		return
	}
	defer c.sem.Release()

	if err := msg.Ops.Validate(); err != nil {
		c.enqueue(ErrorMessage{Type: "error", Code: "INVALID_OP", Content: err.Error()})
		return
	}
	// 编辑权限在传输层把关；核心只断言 principal
	doc, err := c.coord.Document(opCtx, msg.DocID)
	if err != nil {
		c.sendError(err)
		return
	}
	if !doc.CanEditBy(c.userID) {
		c.sendError(sync.ErrForbidden)
		return
	}

	payload, err := json.Marshal(msg.Ops)
	if err != nil {
		c.enqueue(ErrorMessage{Type: "error", Code: "INVALID_OP", Content: err.Error()})
		return
	}
	op, err := c.coord.AppendOperation(opCtx, msg.DocID, payload, c.origin())
	if err != nil {
		// 包含 PUBLISH_FAILED：操作可能已落库但没广播出去，
		// 客户端需要重订阅对齐
		c.sendError(err)
		return
	}
	c.enqueue(OpAppliedMessage{Type: "op_applied", DocID: msg.DocID, Seq: op.Seq})
}

func (c *Conn) handleSubscribeHistory(ctx context.Context, msg ClientMessage) {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := c.coord.SubscribeHistory(sctx, msg.DocID, msg.After, c.origin())
	if err != nil {
		cancel()
		c.sendError(err)
		return
	}

	c.mu.Lock()
	if c.cancelHistory != nil {
		c.cancelHistory() // 同一连接只保留最新的历史订阅
	}
	c.cancelHistory = cancel
	c.mu.Unlock()

	go func() {
		for op := range stream.C() {
			if !c.blockingSend(HistoryOpMessage{Type: "history_op", Op: op}) {
				stream.Close()
				return
			}
		}
		if err := stream.Err(); err != nil {
			c.sendError(err)
		}
	}()
}

func (c *Conn) handleSubscribePresence(ctx context.Context, msg ClientMessage) {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := c.coord.SubscribePresence(sctx, msg.DocID, msg.KnownIDs, c.origin())
	if err != nil {
		cancel()
		c.sendError(err)
		return
	}

	c.mu.Lock()
	if c.cancelPresence != nil {
		c.cancelPresence()
	}
	c.cancelPresence = cancel
	c.mu.Unlock()

	go func() {
		for ev := range stream.C() {
			frame := PresenceEventMessage{Type: "presence_upsert", DocID: ev.DocID, Entry: ev.Entry}
			if ev.EventType == presence.EventDeleted {
				frame.Type = "presence_delete"
			}
			if !c.blockingSend(frame) {
				stream.Close()
				return
			}
		}
		if err := stream.Err(); err != nil {
			c.sendError(err)
		}
	}()
}

func (c *Conn) cancelSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelHistory != nil {
		c.cancelHistory()
		c.cancelHistory = nil
	}
	if c.cancelPresence != nil {
		c.cancelPresence()
		c.cancelPresence = nil
	}
}
