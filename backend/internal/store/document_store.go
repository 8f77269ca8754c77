package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Codeshare/codeshare/backend/internal/sync"
)

type documentRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	Title      string `gorm:"size:255"`
	OwnerID    uint64
	CanEdit    string `gorm:"type:text"` // JSON array of user ids
	Archived   bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (documentRow) TableName() string { return "documents" }

// DocumentStore implements sync.DocumentStore on MySQL.
type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&documentRow{})
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*sync.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var canEdit []uint64
	if row.CanEdit != "" {
		if err := json.Unmarshal([]byte(row.CanEdit), &canEdit); err != nil {
			return nil, err
		}
	}
	return &sync.Document{
		ID:         row.ID,
		Title:      row.Title,
		OwnerID:    row.OwnerID,
		CanEdit:    canEdit,
		Archived:   row.Archived,
		CreatedAt:  row.CreatedAt,
		ModifiedAt: row.ModifiedAt,
	}, nil
}

func (s *DocumentStore) Create(ctx context.Context, doc sync.Document) error {
	canEdit := "[]"
	if len(doc.CanEdit) > 0 {
		b, err := json.Marshal(doc.CanEdit)
		if err != nil {
			return err
		}
		canEdit = string(b)
	}
	row := documentRow{
		ID:         doc.ID,
		Title:      doc.Title,
		OwnerID:    doc.OwnerID,
		CanEdit:    canEdit,
		Archived:   doc.Archived,
		CreatedAt:  doc.CreatedAt,
		ModifiedAt: doc.ModifiedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}
