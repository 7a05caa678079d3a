package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *AuditRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*AuditRecord, error)
	Find(ctx context.Context, db *gorm.DB, filter QueryFilter) ([]AuditRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditRecord, error)
	UpdateResolution(ctx context.Context, db *gorm.DB, id snowflake.ID, res Resolution) (int64, error)
}
