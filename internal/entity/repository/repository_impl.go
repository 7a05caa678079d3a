package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/creatorops/internal/entity/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Entity, error) {
	var entity domain.Entity
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&entity).Error
	if err != nil {
		return nil, err
	}
	if entity.ID == "" {
		return nil, nil
	}
	return &entity, nil
}

func (r *repo) ListIDs(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]string, error) {
	var ids []string
	stmt := db.WithContext(ctx).Model(&domain.Entity{})
	if afterID != "" {
		stmt = stmt.Where("id > ?", afterID)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Order("id asc").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id string, status domain.Status) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Entity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repo) IncrementPriority(ctx context.Context, db *gorm.DB, id string, by int) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Entity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"priority":   gorm.Expr("priority + ?", by),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// SaveLifecycle writes the status and cancellation timestamps only.
func (r *repo) SaveLifecycle(ctx context.Context, db *gorm.DB, entity *domain.Entity) error {
	entity.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Model(&domain.Entity{}).
		Where("id = ?", entity.ID).
		Updates(map[string]any{
			"status":         entity.Status,
			"canceled_at":    entity.CanceledAt,
			"reactivated_at": entity.ReactivatedAt,
			"updated_at":     entity.UpdatedAt,
		}).Error
}
