package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/audit/masking"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Append assigns an id and creation time when missing and writes the record.
func (s *Service) Append(ctx context.Context, record *auditdomain.AuditRecord) error {
	if record == nil || strings.TrimSpace(record.EntityID) == "" || strings.TrimSpace(record.RuleID) == "" {
		return auditdomain.ErrInvalidRecord
	}
	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock.Now()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	for i := range record.Actions {
		record.Actions[i].Result = masking.MaskResult(record.Actions[i].Result)
	}

	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		s.log.Error("failed to write audit record",
			zap.String("entity_id", record.EntityID),
			zap.String("rule_id", record.RuleID),
			zap.Error(err),
		)
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (s *Service) Query(ctx context.Context, filter auditdomain.QueryFilter) ([]auditdomain.AuditRecord, error) {
	return s.repo.Find(ctx, s.db, filter)
}

func (s *Service) Get(ctx context.Context, id string) (auditdomain.AuditRecord, error) {
	parsed, ok := parseID(id)
	if !ok {
		return auditdomain.AuditRecord{}, auditdomain.ErrNotFound
	}
	record, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return auditdomain.AuditRecord{}, err
	}
	if record == nil {
		return auditdomain.AuditRecord{}, auditdomain.ErrNotFound
	}
	return *record, nil
}

// Resolve marks a record resolved. Unknown ids report ErrNotFound and
// resolved ones ErrAlreadyResolved; neither mutates anything.
func (s *Service) Resolve(ctx context.Context, id, resolvedBy, notes string) (bool, error) {
	parsed, ok := parseID(id)
	if !ok {
		return false, auditdomain.ErrNotFound
	}
	resolvedBy = strings.TrimSpace(resolvedBy)
	if resolvedBy == "" {
		return false, auditdomain.ErrInvalidResolver
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.repo.FindByID(ctx, tx, parsed)
		if err != nil {
			return err
		}
		if record == nil {
			return auditdomain.ErrNotFound
		}
		if record.Resolved {
			return auditdomain.ErrAlreadyResolved
		}
		affected, err := s.repo.UpdateResolution(ctx, tx, parsed, auditdomain.Resolution{
			ResolvedBy: resolvedBy,
			Notes:      strings.TrimSpace(notes),
			ResolvedAt: s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return auditdomain.ErrAlreadyResolved
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.log.Info("audit record resolved",
		zap.String("audit_id", parsed.String()),
		zap.String("resolved_by", resolvedBy),
	)
	return true, nil
}

func (s *Service) ListByEntity(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	var cursor *auditdomain.AuditCursor
	decoded, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListResponse{}, err
	}
	if decoded != nil {
		id, ok := parseID(decoded.ID)
		if !ok {
			return auditdomain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id, CreatedAt: decoded.CreatedAt}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		EntityID: req.EntityID,
		Source:   req.Source,
		Resolved: req.Resolved,
		Cursor:   cursor,
		Limit:    limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	page, info := pagination.Page(items, limit, func(item *auditdomain.AuditRecord) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt}
	})

	records := make([]auditdomain.AuditRecord, 0, len(page))
	for _, item := range page {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}
	return auditdomain.ListResponse{PageInfo: info, Records: records}, nil
}

func parseID(raw string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

