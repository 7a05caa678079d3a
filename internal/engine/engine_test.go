package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	activitydomain "github.com/smallbiznis/creatorops/internal/activity/domain"
	activityrepo "github.com/smallbiznis/creatorops/internal/activity/repository"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	auditrepo "github.com/smallbiznis/creatorops/internal/audit/repository"
	auditservice "github.com/smallbiznis/creatorops/internal/audit/service"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/condition"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/smallbiznis/creatorops/internal/cooldown"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	entityrepo "github.com/smallbiznis/creatorops/internal/entity/repository"
	entityservice "github.com/smallbiznis/creatorops/internal/entity/service"
	"github.com/smallbiznis/creatorops/internal/escalation"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	lifecyclerepo "github.com/smallbiznis/creatorops/internal/lifecycle/repository"
	lifecycleservice "github.com/smallbiznis/creatorops/internal/lifecycle/service"
	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	snapshotservice "github.com/smallbiznis/creatorops/internal/snapshot/service"
	"github.com/smallbiznis/creatorops/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const day = 24 * time.Hour

var start = time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)

type fakeRegistry struct {
	registrydomain.Service
	cfg *registrydomain.Config
}

func (f fakeRegistry) Snapshot() *registrydomain.Config { return f.cfg }

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatch.Context
}

func (d *recordingDispatcher) Dispatch(_ context.Context, dc dispatch.Context, actions []dispatch.Action) []auditdomain.ActionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dc)
	out := make([]auditdomain.ActionRecord, 0, len(actions))
	for _, a := range actions {
		out = append(out, auditdomain.ActionRecord{Kind: string(a.Kind()), Success: true})
	}
	return out
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, cooldown.Key, time.Duration) (string, bool, error) {
	return "", false, nil
}

func (busyLocker) Release(context.Context, cooldown.Key, string) error { return nil }

type harness struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	audit      auditdomain.Service
	dispatcher *recordingDispatcher
	registry   *prometheus.Registry
	lifecycle  lifecycledomain.Service
	engine     Service
}

func registryConfig() *registrydomain.Config {
	logEvent := dispatch.LogEvent{Event: "automation", Level: "info"}
	return &registrydomain.Config{
		Rules: []registrydomain.Rule{
			{
				ID:      "low-approval-rate",
				Name:    "Low approval rate",
				Trigger: registrydomain.TriggerCondition,
				Condition: condition.AllOf(
					condition.NumberLeaf(snapshotdomain.MetricApprovalRate, condition.OpLT, 50),
					condition.NumberLeaf(snapshotdomain.MetricTotalProposals, condition.OpGTE, 5),
				),
				Actions:  []dispatch.Action{logEvent},
				Cooldown: 7 * day,
				Active:   true,
			},
			{
				ID:        "disabled-rule",
				Trigger:   registrydomain.TriggerCondition,
				Condition: condition.AllOf(),
				Actions:   []dispatch.Action{logEvent},
				Active:    false,
			},
			{
				ID:      "proposal-rejected",
				Name:    "Proposal rejected",
				Trigger: registrydomain.TriggerEvent,
				Event:   "proposal.rejected",
				Actions: []dispatch.Action{logEvent},
				Active:  true,
			},
		},
		Levels: []registrydomain.EscalationLevel{
			{ID: "elevated", Name: "Elevated", Severity: 1, Thresholds: map[string]float64{registrydomain.CategorySubmitted: 48}, Actions: []dispatch.Action{logEvent}, Cooldown: day, Active: true},
			{ID: "urgent", Name: "Urgent", Severity: 2, Thresholds: map[string]float64{registrydomain.CategorySubmitted: 96}, Actions: []dispatch.Action{logEvent}, Cooldown: day, Active: true},
			{ID: "critical", Name: "Critical", Severity: 3, Thresholds: map[string]float64{registrydomain.CategorySubmitted: 168}, Actions: []dispatch.Action{logEvent}, Cooldown: day, Active: true},
		},
	}
}

func newHarness(t *testing.T, engineCfg config.EngineConfig, locker cooldown.Locker) harness {
	t.Helper()
	db := openDB(t)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(start)
	log := zap.NewNop()
	holder := config.NewStaticEngineConfigHolder(engineCfg)
	reg := prometheus.NewRegistry()
	metrics := obsmetrics.NewEngineMetrics(reg, obsmetrics.Config{})

	entities := entityservice.New(entityservice.Params{DB: db, Log: log, Repo: entityrepo.Provide()})
	activity := activityrepo.NewStore(db)
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide()})
	registry := fakeRegistry{cfg: registryConfig()}
	dispatcher := &recordingDispatcher{}

	lifecycle := lifecycleservice.New(lifecycleservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       lifecyclerepo.Provide(),
		Entities:   entities,
		EntityRepo: entityrepo.Provide(),
		Registry:   registry,
		Dispatcher: dispatcher,
		Audit:      audit,
		Config:     holder,
	})

	eng := New(Params{
		Log:        log,
		Clock:      clk,
		Entities:   entities,
		Registry:   registry,
		Snapshots:  snapshotservice.New(snapshotservice.Params{Log: log, Clock: clk, Activity: activity, Entities: entities, Config: holder}),
		Gate:       cooldown.NewGate(audit, clk),
		Locker:     locker,
		Dispatcher: dispatcher,
		Audit:      audit,
		Lifecycle:  lifecycle,
		Detector:   escalation.NewDetector(escalation.Params{Clock: clk, Activity: activity, Config: holder}),
		Config:     holder,
		Metrics:    metrics,
	})

	return harness{db: db, clock: clk, audit: audit, dispatcher: dispatcher, registry: reg, lifecycle: lifecycle, engine: eng}
}

// openDB migrates every table the engine touches.
func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	return dbtest.Open(t,
		&entitydomain.Entity{},
		&activitydomain.Record{},
		&auditdomain.AuditRecord{},
		&lifecycledomain.Record{},
		&lifecycledomain.History{},
	)
}

func (h harness) addEntity(t *testing.T, id string, age time.Duration) {
	t.Helper()
	created := start.Add(-age)
	require.NoError(t, h.db.Create(&entitydomain.Entity{
		ID:        id,
		Name:      id,
		Status:    entitydomain.StatusActive,
		CreatedAt: created,
		UpdatedAt: created,
	}).Error)
}

func (h harness) addProposal(t *testing.T, entityID, id, status string, changed time.Time) {
	t.Helper()
	require.NoError(t, h.db.Create(&activitydomain.Record{
		ID:              id,
		EntityID:        entityID,
		Kind:            activitydomain.KindProposal,
		Status:          status,
		OccurredAt:      changed,
		StatusChangedAt: &changed,
		CreatedAt:       changed,
	}).Error)
}

func (h harness) addEngagement(t *testing.T, entityID, id string, at time.Time) {
	t.Helper()
	require.NoError(t, h.db.Create(&activitydomain.Record{
		ID:         id,
		EntityID:   entityID,
		Kind:       activitydomain.KindEngagement,
		OccurredAt: at,
		CreatedAt:  at,
	}).Error)
}

// seedLowApproval gives ent_1 one approved and five rejected proposals.
func (h harness) seedLowApproval(t *testing.T) {
	t.Helper()
	h.addEntity(t, "ent_1", 60*day)
	h.addProposal(t, "ent_1", "p_ok", activitydomain.ProposalApproved, start.Add(-10*day))
	for i := 0; i < 5; i++ {
		h.addProposal(t, "ent_1", fmt.Sprintf("p_rej_%d", i), activitydomain.ProposalRejected, start.Add(-time.Duration(i+1)*day))
	}
}

func (h harness) auditCount(t *testing.T, entityID, ruleID string) int {
	t.Helper()
	records, err := h.audit.Query(context.Background(), auditdomain.QueryFilter{EntityID: entityID, RuleID: ruleID})
	require.NoError(t, err)
	return len(records)
}

func TestEvaluateLowApprovalTriggersAndRespectsCooldown(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.seedLowApproval(t)
	ctx := context.Background()

	res, err := h.engine.Evaluate(ctx, "ent_1")
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)
	assert.Equal(t, "low-approval-rate", res.Triggered[0].RuleID)
	assert.Equal(t, auditdomain.SourceRule, res.Triggered[0].Source)
	assert.NotEmpty(t, res.Triggered[0].AuditID)
	require.NotNil(t, res.Score)
	require.NotNil(t, res.Lifecycle)
	assert.True(t, res.Lifecycle.Changed)
	assert.Equal(t, 1, h.auditCount(t, "ent_1", "low-approval-rate"))

	h.clock.Advance(time.Hour)
	res, err = h.engine.Evaluate(ctx, "ent_1")
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, SkipCooldown, res.Skipped[0].Reason)
	require.NotNil(t, res.Skipped[0].NextEligibleAt)
	assert.Equal(t, start.Add(7*day), res.Skipped[0].NextEligibleAt.UTC())
	assert.Equal(t, 1, h.auditCount(t, "ent_1", "low-approval-rate"))

	h.clock.Set(start.Add(7*day + time.Second))
	res, err = h.engine.Evaluate(ctx, "ent_1")
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)
	assert.Equal(t, 2, h.auditCount(t, "ent_1", "low-approval-rate"))

	expected := `
# HELP creatorops_rule_triggers_total Audited triggers by source (rule, escalation, lifecycle).
# TYPE creatorops_rule_triggers_total counter
creatorops_rule_triggers_total{env="unknown",service="creatorops",source="rule"} 2
`
	require.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "creatorops_rule_triggers_total"))
}

func TestEvaluateUnknownEntity(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	_, err := h.engine.Evaluate(context.Background(), "ent_missing")
	assert.ErrorIs(t, err, entitydomain.ErrNotFound)
}

func TestEvaluateEscalatesStalledProposal(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.addEntity(t, "ent_2", 90*day)
	h.addProposal(t, "ent_2", "prop_7", activitydomain.ProposalSubmitted, start.Add(-50*time.Hour))
	ctx := context.Background()

	res, err := h.engine.Evaluate(ctx, "ent_2")
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)
	trig := res.Triggered[0]
	assert.Equal(t, auditdomain.SourceEscalation, trig.Source)
	assert.Equal(t, "elevated", trig.LevelID)
	assert.Equal(t, "prop_7", trig.SubjectID)

	require.Len(t, h.dispatcher.calls, 1)
	hours, ok := h.dispatcher.calls[0].Snapshot.Float(escalation.MetricHoursInStatus)
	require.True(t, ok)
	assert.Equal(t, 50.0, hours)
	_, ok = res.Snapshot.Get(escalation.MetricHoursInStatus)
	assert.False(t, ok, "evaluation snapshot is not annotated")

	res, err = h.engine.Evaluate(ctx, "ent_2")
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "prop_7", res.Skipped[0].SubjectID)
}

func TestEvaluateSkipsRulesForCanceledEntity(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.seedLowApproval(t)
	canceled := start.Add(-day)
	require.NoError(t, h.db.Model(&entitydomain.Entity{}).Where("id = ?", "ent_1").
		Updates(map[string]any{"status": entitydomain.StatusCanceled, "canceled_at": canceled}).Error)

	res, err := h.engine.Evaluate(context.Background(), "ent_1")
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
	require.NotNil(t, res.Lifecycle)
	assert.Equal(t, lifecycledomain.StageChurned, res.Lifecycle.To)
}

func TestLifecycleCancelSilencesRulesUntilReactivated(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.seedLowApproval(t)
	ctx := context.Background()

	_, err := h.lifecycle.Cancel(ctx, "ent_1", "requested by creator", "ops")
	require.NoError(t, err)

	res, err := h.engine.Evaluate(ctx, "ent_1")
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
	require.NotNil(t, res.Lifecycle)
	assert.Equal(t, lifecycledomain.StageChurned, res.Lifecycle.Record.Stage)
	assert.Equal(t, 0, h.auditCount(t, "ent_1", "low-approval-rate"))

	h.clock.Advance(day)
	_, err = h.lifecycle.Reactivate(ctx, "ent_1", "came back", "ops")
	require.NoError(t, err)

	res, err = h.engine.Evaluate(ctx, "ent_1")
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)
	assert.Equal(t, "low-approval-rate", res.Triggered[0].RuleID)
	assert.Equal(t, lifecycledomain.StageReactivated, res.Lifecycle.Record.Stage)
}

func TestReactivateEntityCanceledInStoreResumesRules(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.seedLowApproval(t)
	ctx := context.Background()
	require.NoError(t, h.db.Model(&entitydomain.Entity{}).Where("id = ?", "ent_1").
		Updates(map[string]any{"status": entitydomain.StatusCanceled, "canceled_at": start.Add(-day)}).Error)

	res, err := h.engine.Evaluate(ctx, "ent_1")
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)

	_, err = h.lifecycle.Reactivate(ctx, "ent_1", "", "ops")
	require.NoError(t, err)

	res, err = h.engine.Evaluate(ctx, "ent_1")
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)
	assert.Equal(t, "low-approval-rate", res.Triggered[0].RuleID)
}

func TestEvaluateSkipsWhenLockHeld(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Lock.Enabled = true
	h := newHarness(t, cfg, busyLocker{})
	h.seedLowApproval(t)

	res, err := h.engine.Evaluate(context.Background(), "ent_1")
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, SkipLocked, res.Skipped[0].Reason)
	assert.Equal(t, 0, h.auditCount(t, "ent_1", "low-approval-rate"))
}

func TestResolveUnknownAuditIDReportsNotFound(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.seedLowApproval(t)
	ctx := context.Background()

	ok, err := h.engine.Resolve(ctx, "AUDIT-DOES-NOT-EXIST", "ops@example.com", "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, auditdomain.ErrNotFound)

	res, err := h.engine.Evaluate(ctx, "ent_1")
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)

	ok, err = h.engine.Resolve(ctx, res.Triggered[0].AuditID, "ops@example.com", "reached out")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.engine.Resolve(ctx, res.Triggered[0].AuditID, "ops@example.com", "again")
	assert.False(t, ok)
	assert.ErrorIs(t, err, auditdomain.ErrAlreadyResolved)
}

func TestHandleEventZeroCooldownAlwaysFires(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.addEntity(t, "ent_3", 20*day)
	ctx := context.Background()

	_, err := h.engine.HandleEvent(ctx, "ent_3", Event{})
	assert.ErrorIs(t, err, ErrEventRequired)

	for i := 0; i < 2; i++ {
		res, err := h.engine.HandleEvent(ctx, "ent_3", Event{Name: "proposal.rejected", SubjectID: "prop_1"})
		require.NoError(t, err)
		require.Len(t, res.Triggered, 1)
		assert.Equal(t, "proposal-rejected", res.Triggered[0].RuleID)
	}
	assert.Equal(t, 2, h.auditCount(t, "ent_3", "proposal-rejected"))

	res, err := h.engine.HandleEvent(ctx, "ent_3", Event{Name: "proposal.approved"})
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
}

func TestScore(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.seedLowApproval(t)

	res, err := h.engine.Score(context.Background(), "ent_1")
	require.NoError(t, err)
	assert.Equal(t, "ent_1", res.EntityID)
	assert.GreaterOrEqual(t, res.HealthScore, 0.0)
	assert.LessOrEqual(t, res.HealthScore, 100.0)
	assert.InDelta(t, 100-res.HealthScore, res.RiskPercent, 0.01)
	assert.NotEmpty(t, res.Factors)
	assert.Empty(t, h.dispatcher.calls, "scoring never dispatches")
}

func TestScoreEntityWithoutProposalsIsHealthy(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.addEntity(t, "ent_quiet", 60*day)
	h.addEngagement(t, "ent_quiet", "eng_1", start.Add(-day))
	h.addEngagement(t, "ent_quiet", "eng_2", start.Add(-2*day))

	res, err := h.engine.Score(context.Background(), "ent_quiet")
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.HealthScore)
	assert.False(t, res.LowConfidence)
	for _, f := range res.Factors {
		if f.Name == "approval_rate" {
			assert.True(t, f.Defaulted)
			assert.Equal(t, 0.0, f.Contribution)
		}
	}

	eval, err := h.engine.Evaluate(context.Background(), "ent_quiet")
	require.NoError(t, err)
	require.NotNil(t, eval.Lifecycle)
	assert.Equal(t, lifecycledomain.StageEngaged, eval.Lifecycle.Record.Stage)
}

func TestGetStageComputesUntilStored(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.addEntity(t, "ent_new", 2*day)
	ctx := context.Background()

	view, err := h.engine.GetStage(ctx, "ent_new")
	require.NoError(t, err)
	assert.False(t, view.Stored)
	assert.Equal(t, lifecycledomain.StageOnboarding, view.Stage)

	_, err = h.engine.Evaluate(ctx, "ent_new")
	require.NoError(t, err)
	view, err = h.engine.GetStage(ctx, "ent_new")
	require.NoError(t, err)
	assert.True(t, view.Stored)
	assert.Equal(t, lifecycledomain.StageOnboarding, view.Stage)

	_, err = h.engine.GetStage(ctx, "ent_missing")
	assert.ErrorIs(t, err, entitydomain.ErrNotFound)

	tr, err := h.engine.SetStage(ctx, "ent_new", lifecycledomain.StageEngaged, "fast track", "ops")
	require.NoError(t, err)
	assert.Equal(t, lifecycledomain.StageEngaged, tr.To)
}

func TestSweepAllEntities(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Sweep.BatchSize = 1
	cfg.Sweep.Concurrency = 2
	h := newHarness(t, cfg, nil)
	h.seedLowApproval(t)
	h.addEntity(t, "ent_2", 90*day)
	h.addProposal(t, "ent_2", "prop_7", activitydomain.ProposalSubmitted, start.Add(-50*time.Hour))

	res, err := h.engine.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Triggered)
	assert.Empty(t, res.Errors)
	assert.False(t, res.Canceled)
}

func TestSweepRecordsEntityErrorsAndContinues(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.seedLowApproval(t)

	res, err := h.engine.Sweep(context.Background(), []string{"ghost", "ent_1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Triggered)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "ghost", res.Errors[0].EntityID)
}

func TestSweepStopsWhenCanceled(t *testing.T) {
	h := newHarness(t, config.DefaultEngineConfig(), nil)
	h.seedLowApproval(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.engine.Sweep(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, res.Canceled)
	assert.Equal(t, 0, res.Scanned)
	assert.Equal(t, 0, h.auditCount(t, "ent_1", "low-approval-rate"))
}
