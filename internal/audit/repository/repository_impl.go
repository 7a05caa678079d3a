package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorops/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.AuditRecord) error {
	if record == nil {
		return nil
	}
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.AuditRecord, error) {
	var records []domain.AuditRecord
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&records).Error; err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, filter domain.QueryFilter) ([]domain.AuditRecord, error) {
	var records []domain.AuditRecord
	stmt := db.WithContext(ctx).Model(&domain.AuditRecord{}).
		Where("entity_id = ? AND rule_id = ?", filter.EntityID, filter.RuleID)

	if filter.SubjectID != nil {
		stmt = stmt.Where("subject_id = ?", *filter.SubjectID)
	}
	if !filter.Since.IsZero() {
		stmt = stmt.Where("created_at >= ?", filter.Since.UTC())
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Order("created_at desc, id desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditRecord, error) {
	var records []*domain.AuditRecord
	stmt := db.WithContext(ctx).Model(&domain.AuditRecord{})

	if entityID := strings.TrimSpace(filter.EntityID); entityID != "" {
		stmt = stmt.Where("entity_id = ?", entityID)
	}
	if filter.Source != "" {
		stmt = stmt.Where("source = ?", filter.Source)
	}
	if filter.Resolved != nil {
		stmt = stmt.Where("resolved = ?", *filter.Resolved)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateResolution only touches unresolved records.
func (r *repo) UpdateResolution(ctx context.Context, db *gorm.DB, id snowflake.ID, res domain.Resolution) (int64, error) {
	result := db.WithContext(ctx).Model(&domain.AuditRecord{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":         true,
			"resolved_by":      res.ResolvedBy,
			"resolution_notes": res.Notes,
			"resolved_at":      res.ResolvedAt.UTC(),
		})
	return result.RowsAffected, result.Error
}
