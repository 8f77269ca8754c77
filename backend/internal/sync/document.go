package sync

import (
	"context"
	"time"
)

// Document 的标题/设置对同步核心不透明，核心只读 id、归档位和编辑权限集合。
type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	OwnerID    uint64    `json:"ownerId"`
	CanEdit    []uint64  `json:"canEdit"` // empty means everyone may edit
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// CanEditBy reports whether the user may append operations. The owner always
// may; an empty CanEdit set leaves the document open.
func (d *Document) CanEditBy(userID uint64) bool {
	if d.OwnerID == userID {
		return true
	}
	if len(d.CanEdit) == 0 {
		return true
	}
	for _, id := range d.CanEdit {
		if id == userID {
			return true
		}
	}
	return false
}

// DocumentStore is the durable document metadata backing.
// 只声明，实现在 store 包。
type DocumentStore interface {
	// Get returns nil when the document does not exist.
	Get(ctx context.Context, id string) (*Document, error)
	Create(ctx context.Context, doc Document) error
}
