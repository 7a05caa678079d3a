package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/audit/repository"
	"github.com/smallbiznis/creatorops/internal/clock"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"github.com/smallbiznis/creatorops/pkg/db/dbtest"
	"github.com/smallbiznis/creatorops/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   auditdomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t, &auditdomain.AuditRecord{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	return fixture{
		db:    db,
		clock: clk,
		svc: NewService(Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Clock: clk,
			Repo:  repository.Provide(),
		}),
	}
}

func (f fixture) append(t *testing.T, entityID, ruleID string) auditdomain.AuditRecord {
	t.Helper()
	snap := snapshotdomain.NewSnapshot(entityID, f.clock.Now())
	snap.Set(snapshotdomain.MetricApprovalRate, snapshotdomain.Number(20))
	rec := auditdomain.AuditRecord{
		EntityID: entityID,
		RuleID:   ruleID,
		Source:   auditdomain.SourceRule,
		Snapshot: datatypes.NewJSONType(snap),
		Actions: datatypes.JSONSlice[auditdomain.ActionRecord]{
			{Kind: "notify_admin", Success: true, Result: map[string]any{"to": "ops@example.com"}},
			{Kind: "boost_priority", Success: false, Error: "entity_not_found"},
		},
	}
	require.NoError(t, f.svc.Append(context.Background(), &rec))
	return rec
}

func TestAppendPersistsSnapshotAndMaskedActions(t *testing.T) {
	f := newFixture(t)
	rec := f.append(t, "ent_1", "low-approval-rate")

	got, err := f.svc.Get(context.Background(), rec.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "ent_1", got.EntityID)
	assert.Equal(t, f.clock.Now(), got.CreatedAt.UTC())
	require.Len(t, got.Actions, 2)
	assert.Equal(t, "o****@example.com", got.Actions[0].Result["to"])
	assert.Equal(t, 1, got.FailedActions())

	rate, ok := got.Snapshot.Data().Float(snapshotdomain.MetricApprovalRate)
	require.True(t, ok)
	assert.Equal(t, 20.0, rate)
}

func TestAppendRejectsIncompleteRecord(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Append(context.Background(), &auditdomain.AuditRecord{EntityID: "ent_1"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidRecord)
}

func TestResolveUnknownAuditIDDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	rec := f.append(t, "ent_1", "low-approval-rate")

	for _, id := range []string{"AUDIT-DOES-NOT-EXIST", "12345", ""} {
		ok, err := f.svc.Resolve(context.Background(), id, "admin@example.com", "n/a")
		assert.False(t, ok)
		assert.ErrorIs(t, err, auditdomain.ErrNotFound)
	}

	got, err := f.svc.Get(context.Background(), rec.ID.String())
	require.NoError(t, err)
	assert.False(t, got.Resolved)
	assert.Nil(t, got.ResolvedBy)
}

func TestResolveOnce(t *testing.T) {
	f := newFixture(t)
	rec := f.append(t, "ent_1", "low-approval-rate")
	f.clock.Advance(time.Hour)

	ok, err := f.svc.Resolve(context.Background(), rec.ID.String(), "admin_7", "reached out")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := f.svc.Get(context.Background(), rec.ID.String())
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, "admin_7", *got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, f.clock.Now(), got.ResolvedAt.UTC())

	ok, err = f.svc.Resolve(context.Background(), rec.ID.String(), "admin_8", "again")
	assert.False(t, ok)
	assert.ErrorIs(t, err, auditdomain.ErrAlreadyResolved)

	_, err = f.svc.Resolve(context.Background(), rec.ID.String(), " ", "")
	assert.ErrorIs(t, err, auditdomain.ErrInvalidResolver)
}

func TestQueryMostRecentFirstWithinWindow(t *testing.T) {
	f := newFixture(t)
	first := f.append(t, "ent_1", "rule-a")
	f.clock.Advance(2 * time.Hour)
	second := f.append(t, "ent_1", "rule-a")
	f.append(t, "ent_1", "rule-b")
	f.append(t, "ent_2", "rule-a")

	all, err := f.svc.Query(context.Background(), auditdomain.QueryFilter{EntityID: "ent_1", RuleID: "rule-a"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	recent, err := f.svc.Query(context.Background(), auditdomain.QueryFilter{
		EntityID: "ent_1",
		RuleID:   "rule-a",
		Since:    f.clock.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, second.ID, recent[0].ID)
}

func TestListByEntityPages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.append(t, "ent_1", "rule-a")
		f.clock.Advance(time.Minute)
	}
	f.append(t, "ent_2", "rule-a")

	ctx := context.Background()
	page, err := f.svc.ListByEntity(ctx, auditdomain.ListRequest{
		EntityID:   "ent_1",
		Pagination: pagination.Pagination{PageSize: 3},
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 3)
	assert.True(t, page.HasMore)

	next, err := f.svc.ListByEntity(ctx, auditdomain.ListRequest{
		EntityID:   "ent_1",
		Pagination: pagination.Pagination{PageSize: 3, PageToken: page.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, next.Records, 2)
	assert.False(t, next.HasMore)
	assert.True(t, next.Records[0].CreatedAt.Before(page.Records[2].CreatedAt))

	_, err = f.svc.ListByEntity(ctx, auditdomain.ListRequest{
		EntityID:   "ent_1",
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}
