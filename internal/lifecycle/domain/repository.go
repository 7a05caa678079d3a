package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// FindByEntity returns nil, nil when the entity has no lifecycle record.
	FindByEntity(ctx context.Context, db *gorm.DB, entityID string) (*Record, error)
	Save(ctx context.Context, db *gorm.DB, record *Record) error
	InsertHistory(ctx context.Context, db *gorm.DB, h *History) error
	ListHistory(ctx context.Context, db *gorm.DB, entityID string, limit int) ([]History, error)
}
