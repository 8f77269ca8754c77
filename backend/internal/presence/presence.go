package presence

import (
	"context"
	"time"
)

// Cursor is the user's caret/selection inside the document.
type Cursor struct {
	Position     int `json:"position"`
	SelectionEnd int `json:"selectionEnd"`
}

// Entry 是某文档内一个用户的临时在线状态。心跳不续约就按 TTL 自动过期，
// 过期等价于隐式离开，不依赖可靠的断连信号。
type Entry struct {
	UserID     uint64    `json:"userId"`
	Username   string    `json:"username,omitempty"`
	Color      string    `json:"color,omitempty"`
	Cursor     *Cursor   `json:"cursor,omitempty"`
	ClientID   string    `json:"clientId"` // last writer
	ModifiedAt time.Time `json:"modifiedAt"`
}

const (
	EventUpserted = "PRESENCE_UPSERTED"
	EventDeleted  = "PRESENCE_DELETED"
)

// Event is the bus envelope for presence changes.
type Event struct {
	EventType string `json:"eventType"`
	DocID     string `json:"docId"`
	Entry     Entry  `json:"entry"`
}

// Topic is the per-document bus topic presence events flow on.
func Topic(docID string) string { return "presence:" + docID }

// Store is the ephemeral TTL-bound backing for presence entries.
type Store interface {
	// Upsert writes the entry with a fresh TTL.
	Upsert(ctx context.Context, docID string, e Entry, ttl time.Duration) error
	// Get returns nil when the entry is absent or its TTL lapsed.
	Get(ctx context.Context, docID string, userID uint64) (*Entry, error)
	Delete(ctx context.Context, docID string, userID uint64) error
	// ListActive returns entries whose TTL has not lapsed.
	ListActive(ctx context.Context, docID string) ([]Entry, error)
}
