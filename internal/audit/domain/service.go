package domain

import (
	"context"

	"github.com/smallbiznis/creatorops/pkg/db/pagination"
)

type ListRequest struct {
	pagination.Pagination
	EntityID string
	Source   Source
	Resolved *bool
}

type ListResponse struct {
	pagination.PageInfo
	Records []AuditRecord `json:"records"`
}

// Service is the audit log. It is the only source of truth for cooldowns.
type Service interface {
	Append(ctx context.Context, record *AuditRecord) error
	Query(ctx context.Context, filter QueryFilter) ([]AuditRecord, error)
	Get(ctx context.Context, id string) (AuditRecord, error)
	Resolve(ctx context.Context, id, resolvedBy, notes string) (bool, error)
	ListByEntity(ctx context.Context, req ListRequest) (ListResponse, error)
}
