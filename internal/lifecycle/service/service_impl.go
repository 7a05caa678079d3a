package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	"github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Entities   entitydomain.Service
	EntityRepo entitydomain.Repository
	Registry   registrydomain.Service
	Dispatcher dispatch.Executor
	Audit      auditdomain.Service
	Config     *config.EngineConfigHolder
	Metrics    *obsmetrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	entities   entitydomain.Service
	entityRepo entitydomain.Repository
	registry   registrydomain.Service
	dispatcher dispatch.Executor
	audit      auditdomain.Service
	cfg        *config.EngineConfigHolder
	metrics    *obsmetrics.EngineMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("lifecycle.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		entities:   p.Entities,
		entityRepo: p.EntityRepo,
		registry:   p.Registry,
		dispatcher: p.Dispatcher,
		audit:      p.Audit,
		cfg:        p.Config,
		metrics:    p.Metrics,
	}
}

// change describes who moved the stage and why, for the history row.
type change struct {
	reason string
	actor  string
	manual bool
}

func (s *Service) GetStage(ctx context.Context, entityID string) (domain.Record, error) {
	rec, err := s.repo.FindByEntity(ctx, s.db, entityID)
	if err != nil {
		return domain.Record{}, err
	}
	if rec == nil {
		return domain.Record{}, domain.ErrNotFound
	}
	return *rec, nil
}

// SetStage overrides the computed stage until ClearOverride.
func (s *Service) SetStage(ctx context.Context, entityID string, stage domain.Stage, reason, actor string) (domain.Transition, error) {
	if !stage.Valid() {
		return domain.Transition{}, domain.ErrInvalidStage
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Transition{}, domain.ErrReasonRequired
	}
	if _, err := s.entities.Get(ctx, entityID); err != nil {
		return domain.Transition{}, err
	}

	return s.update(ctx, entityID, nil, false, func(_ *gorm.DB, rec *domain.Record, _ time.Time) (change, error) {
		rec.Override = true
		rec.OverrideReason = reason
		rec.ChangedBy = actor
		rec.Stage = stage
		return change{reason: reason, actor: actor, manual: true}, nil
	})
}

// ClearOverride returns the entity to its computed stage.
func (s *Service) ClearOverride(ctx context.Context, entityID, actor string) (domain.Transition, error) {
	return s.update(ctx, entityID, nil, true, func(_ *gorm.DB, rec *domain.Record, _ time.Time) (change, error) {
		rec.Override = false
		rec.OverrideReason = ""
		rec.ChangedBy = actor
		if rec.ComputedStage != "" {
			rec.Stage = rec.ComputedStage
		}
		return change{reason: "override cleared", actor: actor, manual: true}, nil
	})
}

// Apply stores the computed stage for an assessment. An active override
// keeps the effective stage unchanged.
func (s *Service) Apply(ctx context.Context, a domain.Assessment) (domain.Transition, error) {
	bounds := s.bounds()
	snap := a.Snapshot
	return s.update(ctx, a.EntityID, &snap, false, func(_ *gorm.DB, rec *domain.Record, now time.Time) (change, error) {
		if a.CanceledAt != nil && (rec.CanceledAt == nil || a.CanceledAt.After(*rec.CanceledAt)) {
			canceled := *a.CanceledAt
			rec.CanceledAt = &canceled
		}
		computed := domain.Derive(domain.DeriveInput{
			Now:           now,
			Age:           a.Age,
			RiskPercent:   a.RiskPercent,
			Previous:      rec.ComputedStage,
			CanceledAt:    rec.CanceledAt,
			ReactivatedAt: rec.ReactivatedAt,
		}, bounds)
		rec.ComputedStage = computed
		if !rec.Override {
			rec.Stage = computed
		}
		return change{reason: fmt.Sprintf("computed: risk %.2f%%", a.RiskPercent)}, nil
	})
}

// Compute derives the stage for an entity without a stored record. Nothing is persisted.
func (s *Service) Compute(a domain.Assessment) domain.Stage {
	return domain.Derive(domain.DeriveInput{
		Now:         s.clock.Now().UTC(),
		Age:         a.Age,
		RiskPercent: a.RiskPercent,
		CanceledAt:  a.CanceledAt,
	}, s.bounds())
}

// Cancel records an explicit cancellation and marks the entity canceled.
// Churned is then kept until Reactivate.
func (s *Service) Cancel(ctx context.Context, entityID, reason, actor string) (domain.Transition, error) {
	if _, err := s.entities.Get(ctx, entityID); err != nil {
		return domain.Transition{}, err
	}
	return s.update(ctx, entityID, nil, false, func(tx *gorm.DB, rec *domain.Record, now time.Time) (change, error) {
		if err := s.markEntity(ctx, tx, entityID, entitydomain.StatusCanceled, func(e *entitydomain.Entity) {
			e.CanceledAt = &now
		}); err != nil {
			return change{}, err
		}
		rec.CanceledAt = &now
		rec.ComputedStage = domain.StageChurned
		if !rec.Override {
			rec.Stage = domain.StageChurned
		}
		rec.ChangedBy = actor
		return change{reason: orDefault(reason, "canceled"), actor: actor}, nil
	})
}

// Reactivate is the only way out of Churned. The entity becomes active again.
func (s *Service) Reactivate(ctx context.Context, entityID, reason, actor string) (domain.Transition, error) {
	return s.update(ctx, entityID, nil, true, func(tx *gorm.DB, rec *domain.Record, now time.Time) (change, error) {
		if rec.ComputedStage != domain.StageChurned {
			return change{}, domain.ErrNotChurned
		}
		if err := s.markEntity(ctx, tx, entityID, entitydomain.StatusActive, func(e *entitydomain.Entity) {
			e.ReactivatedAt = &now
		}); err != nil {
			return change{}, err
		}
		rec.ReactivatedAt = &now
		rec.ComputedStage = domain.StageReactivated
		if !rec.Override {
			rec.Stage = domain.StageReactivated
		}
		rec.ChangedBy = actor
		return change{reason: orDefault(reason, "reactivated"), actor: actor}, nil
	})
}

// markEntity keeps the entity's account status in step with the lifecycle
// record inside the same transaction.
func (s *Service) markEntity(ctx context.Context, tx *gorm.DB, entityID string, status entitydomain.Status, set func(*entitydomain.Entity)) error {
	entity, err := s.entityRepo.FindByID(ctx, tx, entityID)
	if err != nil {
		return err
	}
	if entity == nil {
		return entitydomain.ErrNotFound
	}
	entity.Status = status
	set(entity)
	return s.entityRepo.SaveLifecycle(ctx, tx, entity)
}

func (s *Service) History(ctx context.Context, entityID string, limit int) ([]domain.History, error) {
	return s.repo.ListHistory(ctx, s.db, entityID, limit)
}

// update applies fn to the entity's record in a transaction, writes history
// when the effective stage changes and then fires the new stage's triggers.
func (s *Service) update(
	ctx context.Context,
	entityID string,
	snap *snapshotdomain.Snapshot,
	mustExist bool,
	fn func(tx *gorm.DB, rec *domain.Record, now time.Time) (change, error),
) (domain.Transition, error) {
	now := s.clock.Now().UTC()

	var (
		rec  domain.Record
		from domain.Stage
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByEntity(ctx, tx, entityID)
		if err != nil {
			return err
		}
		if existing == nil {
			if mustExist {
				return domain.ErrNotFound
			}
			rec = domain.Record{EntityID: entityID}
		} else {
			rec = *existing
		}
		from = rec.Stage

		c, err := fn(tx, &rec, now)
		if err != nil {
			return err
		}

		if rec.Stage != from {
			rec.PreviousStage = from
			rec.EnteredAt = now
			err := s.repo.InsertHistory(ctx, tx, &domain.History{
				ID:        s.genID.Generate(),
				EntityID:  entityID,
				FromStage: from,
				ToStage:   rec.Stage,
				Reason:    c.reason,
				ChangedBy: c.actor,
				Manual:    c.manual,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}
		if rec.EnteredAt.IsZero() {
			rec.EnteredAt = now
		}
		rec.UpdatedAt = now
		return s.repo.Save(ctx, tx, &rec)
	})
	if err != nil {
		return domain.Transition{}, err
	}

	t := domain.Transition{
		Record:  rec,
		From:    from,
		To:      rec.Stage,
		Changed: rec.Stage != from,
	}
	if !t.Changed {
		return t, nil
	}

	s.metrics.IncLifecycleTransition(string(from), string(rec.Stage))
	s.log.Info("lifecycle.stage.changed",
		zap.String("entity_id", entityID),
		zap.String("from", string(from)),
		zap.String("to", string(rec.Stage)),
		zap.Bool("override", rec.Override),
	)

	evalSnap := snapshotdomain.NewSnapshot(entityID, now)
	if snap != nil {
		evalSnap = *snap
	}
	t.Fired, t.Pending, err = s.fireTriggers(ctx, rec, evalSnap)
	if err != nil {
		return t, err
	}
	return t, nil
}

// fireTriggers dispatches the stage's zero-delay triggers and reports the
// delayed ones without running them.
func (s *Service) fireTriggers(ctx context.Context, rec domain.Record, snap snapshotdomain.Snapshot) ([]domain.FiredTrigger, []domain.PendingTrigger, error) {
	var (
		fired   []domain.FiredTrigger
		pending []domain.PendingTrigger
	)
	for _, trigger := range s.registry.Snapshot().TriggersFor(string(rec.Stage)) {
		if trigger.Delay > 0 {
			pending = append(pending, domain.PendingTrigger{
				TriggerID: trigger.ID,
				Stage:     rec.Stage,
				Delay:     trigger.Delay,
				DueAt:     rec.EnteredAt.Add(trigger.Delay),
			})
			continue
		}

		dc := dispatch.Context{
			EntityID:  rec.EntityID,
			RuleID:    trigger.ID,
			RuleName:  "lifecycle " + string(rec.Stage),
			SubjectID: string(rec.Stage),
			Source:    auditdomain.SourceLifecycle,
			Snapshot:  snap,
		}
		actions := s.dispatcher.Dispatch(ctx, dc, trigger.Actions)
		record := &auditdomain.AuditRecord{
			EntityID:  rec.EntityID,
			RuleID:    trigger.ID,
			SubjectID: string(rec.Stage),
			Source:    auditdomain.SourceLifecycle,
			Snapshot:  datatypes.NewJSONType(snap),
			Actions:   datatypes.JSONSlice[auditdomain.ActionRecord](actions),
		}
		if err := s.audit.Append(ctx, record); err != nil {
			return fired, pending, fmt.Errorf("append lifecycle audit: %w", err)
		}
		fired = append(fired, domain.FiredTrigger{
			TriggerID:     trigger.ID,
			AuditID:       record.ID.String(),
			FailedActions: record.FailedActions(),
		})
	}
	return fired, pending, nil
}

func (s *Service) bounds() domain.Bounds {
	lc := s.cfg.Get().Lifecycle
	return domain.Bounds{
		OnboardingDays:    lc.OnboardingDays,
		ActivationDays:    lc.ActivationDays,
		AtRiskMinRisk:     lc.AtRiskMinRisk,
		ChurningMinRisk:   lc.ChurningMinRisk,
		ReactivationGrace: time.Duration(lc.ReactivationGraceDays) * 24 * time.Hour,
	}
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
