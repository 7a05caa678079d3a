package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/creatorops/internal/activity/domain"
	"github.com/smallbiznis/creatorops/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryFiltersAndOrdersMostRecentFirst(t *testing.T) {
	db := dbtest.Open(t, &domain.Record{})
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []domain.Record{
		{ID: "a1", EntityID: "ent_1", Kind: domain.KindProposal, Status: domain.ProposalApproved, OccurredAt: base.Add(-48 * time.Hour)},
		{ID: "a2", EntityID: "ent_1", Kind: domain.KindProposal, Status: domain.ProposalRejected, OccurredAt: base.Add(-1 * time.Hour)},
		{ID: "a3", EntityID: "ent_1", Kind: domain.KindPayment, Status: domain.PaymentFailed, OccurredAt: base.Add(-2 * time.Hour)},
		{ID: "a4", EntityID: "ent_2", Kind: domain.KindProposal, Status: domain.ProposalApproved, OccurredAt: base},
		{ID: "a5", EntityID: "ent_1", Kind: domain.KindProposal, Status: domain.ProposalSubmitted, OccurredAt: base.Add(-400 * 24 * time.Hour)},
	}
	for i := range rows {
		rows[i].CreatedAt = base
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	s := NewStore(db)
	got, err := s.Query(context.Background(), domain.Query{
		EntityID: "ent_1",
		Kinds:    []domain.Kind{domain.KindProposal},
		Since:    base.Add(-365 * 24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)

	all, err := s.Query(context.Background(), domain.Query{EntityID: "ent_1", Until: base.Add(-90 * time.Minute)})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a3", "a1", "a5"}, ids)
}
