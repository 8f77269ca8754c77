package ws

import (
	"github.com/Codeshare/codeshare/backend/internal/oplog"
	"github.com/Codeshare/codeshare/backend/internal/ot/delta"
	"github.com/Codeshare/codeshare/backend/internal/presence"
)

type ClientMessage struct {
	Type     string           `json:"type"`
	DocID    string           `json:"docId,omitempty"`
	Title    string           `json:"title,omitempty"`
	After    *uint64          `json:"after,omitempty"`
	Ops      delta.Delta      `json:"ops,omitempty"`
	Color    string           `json:"color,omitempty"`
	Cursor   *presence.Cursor `json:"cursor,omitempty"`
	KnownIDs []uint64         `json:"knownIds,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string        { return m.Type }
func (m ErrorMessage) MessageType() string         { return m.Type }
func (m OpAppliedMessage) MessageType() string     { return m.Type }
func (m HistoryOpMessage) MessageType() string     { return m.Type }
func (m PresenceEventMessage) MessageType() string { return m.Type }
func (m ContentMessage) MessageType() string       { return m.Type }
func (m CheckpointMessage) MessageType() string    { return m.Type }

type ServerMessage struct {
	Type    string `json:"type"`
	DocID   string `json:"docId,omitempty"`
	Content string `json:"content,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // 固定 "error"
	Code    string `json:"code"`
	Content string `json:"content,omitempty"`
}

// op_applied 是对提交方的 ack；其他订阅者通过 history_op 流收到这条操作。
type OpAppliedMessage struct {
	Type  string `json:"type"` // 固定 "op_applied"
	DocID string `json:"docId"`
	Seq   uint64 `json:"seq"`
}

// HistoryOpMessage carries one operation of a history subscription, both the
// replayed and the live portion.
type HistoryOpMessage struct {
	Type string          `json:"type"` // 固定 "history_op"
	Op   oplog.Operation `json:"op"`
}

type PresenceEventMessage struct {
	Type  string         `json:"type"` // "presence_upsert" / "presence_delete"
	DocID string         `json:"docId"`
	Entry presence.Entry `json:"entry"`
}

type ContentMessage struct {
	Type    string `json:"type"` // 固定 "content"
	DocID   string `json:"docId"`
	Seq     uint64 `json:"seq"`
	Content string `json:"content"`
}

type CheckpointMessage struct {
	Type  string `json:"type"` // 固定 "checkpoint_saved"
	DocID string `json:"docId"`
	Seq   uint64 `json:"seq"`
}
