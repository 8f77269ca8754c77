package oplog

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type operationRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID string `gorm:"size:64;uniqueIndex:uk_doc_seq,priority:1"`
	Seq        uint64 `gorm:"uniqueIndex:uk_doc_seq,priority:2"`
	Payload    []byte `gorm:"type:longblob"`
	UserID     uint64
	ClientID   string `gorm:"size:64"`
	CreatedAt  time.Time
}

func (operationRow) TableName() string { return "document_operations" }

// MySQLStore persists the log in MySQL. The unique (document_id, seq) key is
// what makes optimistic seq allocation safe under concurrent writers.
type MySQLStore struct{ db *gorm.DB }

func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&operationRow{})
}

func (s *MySQLStore) Insert(ctx context.Context, op Operation) error {
	row := operationRow{
		DocumentID: op.DocID,
		Seq:        op.Seq,
		Payload:    op.Payload,
		UserID:     op.CreatedBy.UserID,
		ClientID:   op.CreatedBy.ClientID,
		CreatedAt:  op.CreatedAt,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		// 1062 = duplicate key，说明该序号被并发写入占用
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrSeqTaken
		}
		return err
	}
	return nil
}

func (s *MySQLStore) LastSeq(ctx context.Context, docID string) (uint64, error) {
	var last uint64
	err := s.db.WithContext(ctx).
		Model(&operationRow{}).
		Where("document_id = ?", docID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error
	return last, err
}

func (s *MySQLStore) Range(ctx context.Context, docID string, fromExclusive uint64, limit int) ([]Operation, error) {
	q := s.db.WithContext(ctx).
		Model(&operationRow{}).
		Where("document_id = ? AND seq > ?", docID, fromExclusive).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []operationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	ops := make([]Operation, len(rows))
	for i, r := range rows {
		ops[i] = Operation{
			DocID:     r.DocumentID,
			Seq:       r.Seq,
			Payload:   r.Payload,
			CreatedBy: Originator{UserID: r.UserID, ClientID: r.ClientID},
			CreatedAt: r.CreatedAt,
		}
	}
	return ops, nil
}
