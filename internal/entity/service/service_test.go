package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/creatorops/internal/entity/domain"
	"github.com/smallbiznis/creatorops/internal/entity/repository"
	"github.com/smallbiznis/creatorops/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T, ids ...string) domain.Service {
	t.Helper()
	db := dbtest.Open(t, &domain.Entity{})
	now := time.Now().UTC()
	for _, id := range ids {
		require.NoError(t, db.Create(&domain.Entity{ID: id, Name: id, Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now}).Error)
	}
	return New(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
}

func TestGetUnknownEntity(t *testing.T) {
	svc := setup(t)
	_, err := svc.Get(context.Background(), "ent_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListIDsPages(t *testing.T) {
	svc := setup(t, "ent_c", "ent_a", "ent_b")
	ctx := context.Background()

	first, err := svc.ListIDs(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ent_a", "ent_b"}, first)

	rest, err := svc.ListIDs(ctx, first[len(first)-1], 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ent_c"}, rest)
}

func TestUpdateStatusAndBoost(t *testing.T) {
	svc := setup(t, "ent_a")
	ctx := context.Background()

	require.NoError(t, svc.UpdateStatus(ctx, "ent_a", domain.StatusFlagged))
	assert.ErrorIs(t, svc.UpdateStatus(ctx, "ent_a", "bogus"), domain.ErrInvalidStatus)
	assert.ErrorIs(t, svc.UpdateStatus(ctx, "ent_x", domain.StatusPaused), domain.ErrNotFound)

	p, err := svc.BoostPriority(ctx, "ent_a", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, p)
	p, err = svc.BoostPriority(ctx, "ent_a", 2)
	require.NoError(t, err)
	assert.Equal(t, 7, p)

	got, err := svc.Get(ctx, "ent_a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFlagged, got.Status)

	_, err = svc.BoostPriority(ctx, "ent_x", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
