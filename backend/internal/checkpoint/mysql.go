package checkpoint

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Codeshare/codeshare/backend/internal/oplog"
)

type checkpointRow struct {
	DocumentID string `gorm:"primaryKey;size:64"`
	Seq        uint64
	Value      []byte `gorm:"type:longblob"`
	UserID     uint64
	ClientID   string `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (checkpointRow) TableName() string { return "document_checkpoints" }

type MySQLStore struct{ db *gorm.DB }

func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&checkpointRow{})
}

func (s *MySQLStore) Get(ctx context.Context, docID string) (*Checkpoint, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).First(&row, "document_id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		DocID:     row.DocumentID,
		Seq:       row.Seq,
		Value:     row.Value,
		CreatedBy: oplog.Originator{UserID: row.UserID, ClientID: row.ClientID},
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *MySQLStore) Put(ctx context.Context, cp Checkpoint) error {
	row := checkpointRow{
		DocumentID: cp.DocID,
		Seq:        cp.Seq,
		Value:      cp.Value,
		UserID:     cp.CreatedBy.UserID,
		ClientID:   cp.CreatedBy.ClientID,
		CreatedAt:  cp.CreatedAt,
	}
	// upsert：同文档重复保存直接覆盖（LWW）
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}
