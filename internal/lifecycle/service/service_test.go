package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	auditrepo "github.com/smallbiznis/creatorops/internal/audit/repository"
	auditservice "github.com/smallbiznis/creatorops/internal/audit/service"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	entityrepo "github.com/smallbiznis/creatorops/internal/entity/repository"
	"github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	"github.com/smallbiznis/creatorops/internal/lifecycle/repository"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"github.com/smallbiznis/creatorops/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const day = 24 * time.Hour

type fakeEntities struct {
	entitydomain.Service
	known map[string]bool
}

func (f fakeEntities) Get(_ context.Context, id string) (entitydomain.Entity, error) {
	if !f.known[id] {
		return entitydomain.Entity{}, entitydomain.ErrNotFound
	}
	return entitydomain.Entity{ID: id}, nil
}

type fakeRegistry struct {
	registrydomain.Service
	cfg *registrydomain.Config
}

func (f fakeRegistry) Snapshot() *registrydomain.Config { return f.cfg }

type recordingDispatcher struct {
	calls []dispatch.Context
}

func (d *recordingDispatcher) Dispatch(_ context.Context, dc dispatch.Context, actions []dispatch.Action) []auditdomain.ActionRecord {
	d.calls = append(d.calls, dc)
	out := make([]auditdomain.ActionRecord, 0, len(actions))
	for _, a := range actions {
		out = append(out, auditdomain.ActionRecord{Kind: string(a.Kind()), Success: true})
	}
	return out
}

type fixture struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	svc        domain.Service
	audit      auditdomain.Service
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t, &domain.Record{}, &domain.History{}, &auditdomain.AuditRecord{}, &entitydomain.Entity{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, db.Create(&entitydomain.Entity{
		ID:        "ent_1",
		Name:      "ent_1",
		Status:    entitydomain.StatusActive,
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}).Error)

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
	})
	log := dispatch.LogEvent{Event: "lifecycle", Level: "info"}
	triggers := []registrydomain.LifecycleTrigger{
		{ID: "welcome", Stage: string(domain.StageOnboarding), Actions: []dispatch.Action{log}, Active: true},
		{ID: "day-three", Stage: string(domain.StageOnboarding), Delay: 72 * time.Hour, Actions: []dispatch.Action{log}, Active: true},
		{ID: "churning-alert", Stage: string(domain.StageChurning), Actions: []dispatch.Action{log, dispatch.BoostPriority{By: 1}}, Active: true},
		{ID: "disabled", Stage: string(domain.StageChurning), Actions: []dispatch.Action{log}, Active: false},
	}
	dispatcher := &recordingDispatcher{}

	return fixture{
		db:         db,
		clock:      clk,
		audit:      audit,
		dispatcher: dispatcher,
		svc: New(Params{
			DB:         db,
			Log:        zap.NewNop(),
			GenID:      node,
			Clock:      clk,
			Repo:       repository.Provide(),
			Entities:   fakeEntities{known: map[string]bool{"ent_1": true}},
			EntityRepo: entityrepo.Provide(),
			Registry:   fakeRegistry{cfg: &registrydomain.Config{LifecycleTriggers: triggers}},
			Dispatcher: dispatcher,
			Audit:      audit,
			Config:     config.NewStaticEngineConfigHolder(config.DefaultEngineConfig()),
		}),
	}
}

func (f fixture) entity(t *testing.T) entitydomain.Entity {
	t.Helper()
	var e entitydomain.Entity
	require.NoError(t, f.db.Where("id = ?", "ent_1").First(&e).Error)
	return e
}

func assessment(age time.Duration, health float64) domain.Assessment {
	return domain.Assessment{
		EntityID:    "ent_1",
		Age:         age,
		RiskPercent: 100 - health,
		Snapshot:    snapshotdomain.NewSnapshot("ent_1", time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)),
	}
}

func TestApplyHighRiskFiresChurningTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.svc.Apply(ctx, assessment(45*day, 25))
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, domain.StageChurning, tr.To)
	require.Len(t, tr.Fired, 1)
	assert.Equal(t, "churning-alert", tr.Fired[0].TriggerID)
	assert.Empty(t, tr.Pending)

	records, err := f.audit.Query(ctx, auditdomain.QueryFilter{EntityID: "ent_1", RuleID: "churning-alert"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, auditdomain.SourceLifecycle, records[0].Source)
	assert.Len(t, records[0].Actions, 2)

	again, err := f.svc.Apply(ctx, assessment(45*day, 20))
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Len(t, f.dispatcher.calls, 1, "no triggers without a stage change")
}

func TestApplyYoungEntityIsOnboardingWithPendingTrigger(t *testing.T) {
	f := newFixture(t)

	tr, err := f.svc.Apply(context.Background(), assessment(2*day, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.StageOnboarding, tr.To)
	require.Len(t, tr.Fired, 1)
	assert.Equal(t, "welcome", tr.Fired[0].TriggerID)
	require.Len(t, tr.Pending, 1)
	assert.Equal(t, "day-three", tr.Pending[0].TriggerID)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), tr.Pending[0].DueAt)
}

func TestOverrideWinsUntilCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetStage(ctx, "ent_1", domain.StageEngaged, "", "admin@example.com")
	assert.ErrorIs(t, err, domain.ErrReasonRequired)
	_, err = f.svc.SetStage(ctx, "ent_1", "dormant", "x", "admin@example.com")
	assert.ErrorIs(t, err, domain.ErrInvalidStage)
	_, err = f.svc.SetStage(ctx, "ent_404", domain.StageEngaged, "x", "admin@example.com")
	assert.ErrorIs(t, err, entitydomain.ErrNotFound)

	tr, err := f.svc.SetStage(ctx, "ent_1", domain.StageEngaged, "key account", "admin@example.com")
	require.NoError(t, err)
	assert.True(t, tr.Record.Override)
	assert.Equal(t, "key account", tr.Record.OverrideReason)

	tr, err = f.svc.Apply(ctx, assessment(60*day, 10))
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Equal(t, domain.StageEngaged, tr.Record.Stage)
	assert.Equal(t, domain.StageChurning, tr.Record.ComputedStage)

	tr, err = f.svc.ClearOverride(ctx, "ent_1", "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StageChurning, tr.To)
	assert.False(t, tr.Record.Override)

	history, err := f.svc.History(ctx, "ent_1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Manual)
}

func TestCancelAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Apply(ctx, assessment(90*day, 90))
	require.NoError(t, err)

	_, err = f.svc.Reactivate(ctx, "ent_1", "", "ops")
	assert.ErrorIs(t, err, domain.ErrNotChurned)

	tr, err := f.svc.Cancel(ctx, "ent_1", "requested by creator", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StageChurned, tr.To)
	entity := f.entity(t)
	assert.Equal(t, entitydomain.StatusCanceled, entity.Status)
	require.NotNil(t, entity.CanceledAt)

	f.clock.Advance(day)
	tr, err = f.svc.Apply(ctx, assessment(91*day, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.StageChurned, tr.Record.Stage, "churned never auto-transitions")

	tr, err = f.svc.Reactivate(ctx, "ent_1", "came back", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StageReactivated, tr.To)
	entity = f.entity(t)
	assert.Equal(t, entitydomain.StatusActive, entity.Status)
	require.NotNil(t, entity.ReactivatedAt)
	assert.True(t, entity.ReactivatedAt.After(*entity.CanceledAt))

	f.clock.Advance(3 * day)
	tr, err = f.svc.Apply(ctx, assessment(95*day, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.StageReactivated, tr.Record.Stage, "held during grace")

	f.clock.Advance(15 * day)
	tr, err = f.svc.Apply(ctx, assessment(110*day, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.StageEngaged, tr.Record.Stage)
}

func TestGetStageUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetStage(context.Background(), "ent_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.ClearOverride(context.Background(), "ent_1", "ops")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
