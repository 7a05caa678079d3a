// Package engine exposes the automation operations used by the scheduler and
// the admin API: evaluate, score, sweep, resolve and lifecycle staging.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/condition"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/smallbiznis/creatorops/internal/cooldown"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	"github.com/smallbiznis/creatorops/internal/escalation"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	"github.com/smallbiznis/creatorops/internal/observability/tracing"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	"github.com/smallbiznis/creatorops/internal/scoring"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrEventRequired = errors.New("event_name_required")

// SnapshotBuilder computes the metrics snapshot for a loaded entity.
type SnapshotBuilder interface {
	BuildFor(ctx context.Context, entity entitydomain.Entity) snapshotdomain.Snapshot
}

// Service is the public surface of the engine.
type Service interface {
	Evaluate(ctx context.Context, entityID string) (EvaluationResult, error)
	Score(ctx context.Context, entityID string) (ScoreResult, error)
	Sweep(ctx context.Context, entityIDs []string) (SweepResult, error)
	Resolve(ctx context.Context, auditID, resolvedBy, notes string) (bool, error)
	GetStage(ctx context.Context, entityID string) (StageView, error)
	SetStage(ctx context.Context, entityID string, stage lifecycledomain.Stage, reason, actor string) (lifecycledomain.Transition, error)
	HandleEvent(ctx context.Context, entityID string, event Event) (EvaluationResult, error)
}

// Trigger is one audited firing of a rule or escalation level.
type Trigger struct {
	Source        auditdomain.Source `json:"source"`
	RuleID        string             `json:"rule_id"`
	RuleName      string             `json:"rule_name,omitempty"`
	LevelID       string             `json:"level_id,omitempty"`
	SubjectID     string             `json:"subject_id,omitempty"`
	AuditID       string             `json:"audit_id"`
	FailedActions int                `json:"failed_actions"`
}

// Skip is a matched rule held back by its cooldown or by another worker's lock.
type Skip struct {
	RuleID         string     `json:"rule_id"`
	SubjectID      string     `json:"subject_id,omitempty"`
	Reason         string     `json:"reason"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

const (
	SkipCooldown = "cooldown"
	SkipLocked   = "locked"
)

type EvaluationResult struct {
	EntityID  string                      `json:"entity_id"`
	Triggered []Trigger                   `json:"triggered_rules"`
	Skipped   []Skip                      `json:"skipped,omitempty"`
	Snapshot  snapshotdomain.Snapshot     `json:"metrics_snapshot"`
	Score     *scoring.Result             `json:"score,omitempty"`
	Lifecycle *lifecycledomain.Transition `json:"lifecycle,omitempty"`
}

type ScoreResult struct {
	EntityID string `json:"entity_id"`
	scoring.Result
	LowConfidence bool     `json:"low_confidence"`
	Defaulted     []string `json:"defaulted_metrics,omitempty"`
}

// StageView is the stored lifecycle record, or a computed one when Stored is false.
type StageView struct {
	lifecycledomain.Record
	Stored bool `json:"stored"`
}

// Event is an entity event routed to event rules. SubjectID scopes the
// cooldown, e.g. to a single proposal.
type Event struct {
	Name      string `json:"name"`
	SubjectID string `json:"subject_id,omitempty"`
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Entities   entitydomain.Service
	Registry   registrydomain.Service
	Snapshots  SnapshotBuilder
	Gate       *cooldown.Gate
	Locker     cooldown.Locker `optional:"true"`
	Dispatcher dispatch.Executor
	Audit      auditdomain.Service
	Lifecycle  lifecycledomain.Service
	Detector   *escalation.Detector
	Config     *config.EngineConfigHolder
	Metrics    *obsmetrics.EngineMetrics `optional:"true"`
	OTel       *obsmetrics.Metrics       `optional:"true"`
}

type Engine struct {
	log        *zap.Logger
	clock      clock.Clock
	entities   entitydomain.Service
	registry   registrydomain.Service
	snapshots  SnapshotBuilder
	gate       *cooldown.Gate
	locker     cooldown.Locker
	dispatcher dispatch.Executor
	audit      auditdomain.Service
	lifecycle  lifecycledomain.Service
	detector   *escalation.Detector
	cfg        *config.EngineConfigHolder
	metrics    *obsmetrics.EngineMetrics
	otel       *obsmetrics.Metrics
	tracer     trace.Tracer
}

func New(p Params) Service {
	return &Engine{
		log:        p.Log.Named("engine"),
		clock:      p.Clock,
		entities:   p.Entities,
		registry:   p.Registry,
		snapshots:  p.Snapshots,
		gate:       p.Gate,
		locker:     p.Locker,
		dispatcher: p.Dispatcher,
		audit:      p.Audit,
		lifecycle:  p.Lifecycle,
		detector:   p.Detector,
		cfg:        p.Config,
		metrics:    p.Metrics,
		otel:       p.OTel,
		tracer:     tracing.Tracer("engine"),
	}
}

// Evaluate runs every condition and time-based rule, the proposal-stall
// escalation levels and the lifecycle derivation for one entity. The registry
// snapshot taken at the start is used throughout, so a concurrent reload does
// not affect this call.
func (e *Engine) Evaluate(ctx context.Context, entityID string) (result EvaluationResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.evaluate", trace.WithAttributes(attribute.String("entity_id", entityID)))
	defer func() { endSpan(span, err) }()

	entity, err := e.entities.Get(ctx, entityID)
	if err != nil {
		return EvaluationResult{}, err
	}
	cfg := e.registry.Snapshot()
	snap := e.snapshots.BuildFor(ctx, entity)
	e.otel.RecordEvaluation(ctx, string(auditdomain.SourceRule))

	result = EvaluationResult{EntityID: entity.ID, Snapshot: snap}

	// Canceled accounts are still staged but no longer nudged.
	if entity.Status != entitydomain.StatusCanceled {
		if err := e.evaluateRules(ctx, &result, entity, cfg, snap); err != nil {
			return EvaluationResult{}, err
		}
		if err := e.evaluateEscalations(ctx, &result, entity, cfg, snap); err != nil {
			return EvaluationResult{}, err
		}
	}

	score := scoring.Score(snap, e.cfg.Get().Scoring)
	e.otel.RecordHealthScore(ctx, score.HealthScore, string(score.Status))
	result.Score = &score

	transition, err := e.lifecycle.Apply(ctx, lifecycledomain.Assessment{
		EntityID:    entity.ID,
		Age:         entity.SubscriptionAge(e.clock.Now()),
		RiskPercent: score.RiskPercent,
		CanceledAt:  entity.CanceledAt,
		Snapshot:    snap,
	})
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("apply lifecycle: %w", err)
	}
	result.Lifecycle = &transition
	for _, fired := range transition.Fired {
		result.Triggered = append(result.Triggered, Trigger{
			Source:        auditdomain.SourceLifecycle,
			RuleID:        fired.TriggerID,
			SubjectID:     string(transition.To),
			AuditID:       fired.AuditID,
			FailedActions: fired.FailedActions,
		})
	}

	span.SetAttributes(attribute.Int("triggered", len(result.Triggered)))
	return result, nil
}

func (e *Engine) evaluateRules(ctx context.Context, result *EvaluationResult, entity entitydomain.Entity, cfg *registrydomain.Config, snap snapshotdomain.Snapshot) error {
	rules := append(cfg.ActiveRules(registrydomain.TriggerCondition), cfg.ActiveRules(registrydomain.TriggerTimeBased)...)
	for _, rule := range rules {
		if rule.Condition == nil || !condition.Evaluate(rule.Condition, snap) {
			continue
		}
		err := e.fire(ctx, result, firing{
			key:      cooldown.Key{RuleID: rule.ID, EntityID: entity.ID},
			cooldown: rule.Cooldown,
			actions:  rule.Actions,
			source:   auditdomain.SourceRule,
			ruleName: rule.Name,
			snapshot: snap,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// evaluateEscalations fires the level reached by each stalled proposal. A
// failing proposal query only skips escalation for this pass.
func (e *Engine) evaluateEscalations(ctx context.Context, result *EvaluationResult, entity entitydomain.Entity, cfg *registrydomain.Config, snap snapshotdomain.Snapshot) error {
	matches, err := e.detector.Detect(ctx, entity.ID, cfg)
	if err != nil {
		e.log.Warn("escalation detection failed",
			zap.String("entity_id", entity.ID),
			zap.Error(err),
		)
		return nil
	}
	for _, m := range matches {
		err := e.fire(ctx, result, firing{
			key:      cooldown.Key{RuleID: m.Level.ID, EntityID: entity.ID, SubjectID: m.Stall.ProposalID},
			cooldown: m.Level.Cooldown,
			actions:  m.Level.Actions,
			source:   auditdomain.SourceEscalation,
			ruleName: m.Level.Name,
			levelID:  m.Level.ID,
			snapshot: escalation.Annotate(snap, m.Stall),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Score computes the health score without triggering anything.
func (e *Engine) Score(ctx context.Context, entityID string) (_ ScoreResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.score", trace.WithAttributes(attribute.String("entity_id", entityID)))
	defer func() { endSpan(span, err) }()

	entity, err := e.entities.Get(ctx, entityID)
	if err != nil {
		return ScoreResult{}, err
	}
	snap := e.snapshots.BuildFor(ctx, entity)
	result := scoring.Score(snap, e.cfg.Get().Scoring)
	e.otel.RecordHealthScore(ctx, result.HealthScore, string(result.Status))

	return ScoreResult{
		EntityID:      entity.ID,
		Result:        result,
		LowConfidence: snap.LowConfidence(),
		Defaulted:     snap.Defaulted(),
	}, nil
}

func (e *Engine) Resolve(ctx context.Context, auditID, resolvedBy, notes string) (bool, error) {
	return e.audit.Resolve(ctx, auditID, resolvedBy, notes)
}

// GetStage returns the stored stage. Entities never staged get a computed
// stage that is not persisted.
func (e *Engine) GetStage(ctx context.Context, entityID string) (StageView, error) {
	rec, err := e.lifecycle.GetStage(ctx, entityID)
	if err == nil {
		return StageView{Record: rec, Stored: true}, nil
	}
	if !errors.Is(err, lifecycledomain.ErrNotFound) {
		return StageView{}, err
	}

	entity, err := e.entities.Get(ctx, entityID)
	if err != nil {
		return StageView{}, err
	}
	snap := e.snapshots.BuildFor(ctx, entity)
	score := scoring.Score(snap, e.cfg.Get().Scoring)
	now := e.clock.Now().UTC()
	stage := e.lifecycle.Compute(lifecycledomain.Assessment{
		EntityID:    entity.ID,
		Age:         entity.SubscriptionAge(now),
		RiskPercent: score.RiskPercent,
		CanceledAt:  entity.CanceledAt,
	})
	return StageView{
		Record: lifecycledomain.Record{
			EntityID:      entity.ID,
			Stage:         stage,
			ComputedStage: stage,
			UpdatedAt:     now,
		},
	}, nil
}

func (e *Engine) SetStage(ctx context.Context, entityID string, stage lifecycledomain.Stage, reason, actor string) (lifecycledomain.Transition, error) {
	return e.lifecycle.SetStage(ctx, entityID, stage, reason, actor)
}

// HandleEvent fires the event rules listening to ev. A rule without a
// condition always matches.
func (e *Engine) HandleEvent(ctx context.Context, entityID string, ev Event) (result EvaluationResult, err error) {
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return EvaluationResult{}, ErrEventRequired
	}
	ctx, span := e.tracer.Start(ctx, "engine.handle_event", trace.WithAttributes(
		attribute.String("entity_id", entityID),
		attribute.String("event", ev.Name),
	))
	defer func() { endSpan(span, err) }()

	entity, err := e.entities.Get(ctx, entityID)
	if err != nil {
		return EvaluationResult{}, err
	}
	cfg := e.registry.Snapshot()
	snap := e.snapshots.BuildFor(ctx, entity)
	e.otel.RecordEvaluation(ctx, "event")

	result = EvaluationResult{EntityID: entity.ID, Snapshot: snap}
	for _, rule := range cfg.RulesForEvent(ev.Name) {
		if rule.Condition != nil && !condition.Evaluate(rule.Condition, snap) {
			continue
		}
		err := e.fire(ctx, &result, firing{
			key:      cooldown.Key{RuleID: rule.ID, EntityID: entity.ID, SubjectID: ev.SubjectID},
			cooldown: rule.Cooldown,
			actions:  rule.Actions,
			source:   auditdomain.SourceRule,
			ruleName: rule.Name,
			snapshot: snap,
		})
		if err != nil {
			return EvaluationResult{}, err
		}
	}
	return result, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
