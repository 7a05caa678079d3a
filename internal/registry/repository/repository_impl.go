package repository

import (
	"context"

	"github.com/smallbiznis/creatorops/internal/registry/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) domain.ConfigStore {
	return &store{db: db}
}

func (s *store) Get(ctx context.Context, kind domain.DocumentKind, key string) (*domain.Document, error) {
	var docs []domain.Document
	err := s.db.WithContext(ctx).
		Where("kind = ? AND doc_key = ?", kind, key).
		Limit(1).
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func (s *store) Put(ctx context.Context, doc domain.Document) error {
	if doc.Version <= 0 {
		doc.Version = 1
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kind"}, {Name: "doc_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"body":       doc.Body,
			"version":    gorm.Expr("config_documents.version + 1"),
			"updated_at": doc.UpdatedAt,
		}),
	}).Create(&doc).Error
}

func (s *store) List(ctx context.Context, kind domain.DocumentKind) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("doc_key asc").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *store) Count(ctx context.Context, kind domain.DocumentKind) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Document{}).Where("kind = ?", kind).Count(&n).Error
	return n, err
}
