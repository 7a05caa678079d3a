package repository

import (
	"context"

	"github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByEntity(ctx context.Context, db *gorm.DB, entityID string) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).Where("entity_id = ?", entityID).Limit(1).Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.EntityID == "" {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}},
		UpdateAll: true,
	}).Create(record).Error
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, h *domain.History) error {
	return db.WithContext(ctx).Create(h).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, entityID string, limit int) ([]domain.History, error) {
	var items []domain.History
	stmt := db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at desc").
		Order("id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
