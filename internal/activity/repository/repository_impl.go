package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/creatorops/internal/activity/domain"
	"gorm.io/gorm"
)

type store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) domain.Store {
	return &store{db: db}
}

func (s *store) Query(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	var records []domain.Record
	stmt := s.db.WithContext(ctx).Model(&domain.Record{}).
		Where("entity_id = ?", strings.TrimSpace(q.EntityID))

	if len(q.Kinds) > 0 {
		stmt = stmt.Where("kind IN ?", q.Kinds)
	}
	if !q.Since.IsZero() {
		stmt = stmt.Where("occurred_at >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		stmt = stmt.Where("occurred_at < ?", q.Until.UTC())
	}
	if q.Limit > 0 {
		stmt = stmt.Limit(q.Limit)
	}

	if err := stmt.Order("occurred_at desc, id desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
