package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Entity, error)
	ListIDs(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]string, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id string, status Status) (int64, error)
	IncrementPriority(ctx context.Context, db *gorm.DB, id string, by int) (int64, error)
	SaveLifecycle(ctx context.Context, db *gorm.DB, entity *Entity) error
}
