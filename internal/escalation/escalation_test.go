package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	activitydomain "github.com/smallbiznis/creatorops/internal/activity/domain"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/config"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func levels() *registrydomain.Config {
	mk := func(id string, severity int, submitted float64) registrydomain.EscalationLevel {
		return registrydomain.EscalationLevel{
			ID:         id,
			Name:       id,
			Severity:   severity,
			Thresholds: map[string]float64{registrydomain.CategorySubmitted: submitted},
			Active:     true,
		}
	}
	return &registrydomain.Config{Levels: []registrydomain.EscalationLevel{
		mk("critical", 3, 168),
		mk("elevated", 1, 48),
		mk("urgent", 2, 96),
	}}
}

func TestSelectLevelPicksElevatedAt50Hours(t *testing.T) {
	m, ok := SelectLevel(levels(), Stall{ProposalID: "p1", Category: registrydomain.CategorySubmitted, Hours: 50})
	require.True(t, ok)
	assert.Equal(t, "elevated", m.Level.ID)
	assert.Equal(t, 48.0, m.Threshold)
}

func TestSelectLevelBoundaries(t *testing.T) {
	cases := []struct {
		hours float64
		want  string
	}{
		{47.9, ""},
		{48, "elevated"},
		{95, "elevated"},
		{96, "urgent"},
		{168, "critical"},
		{1000, "critical"},
	}
	for _, tc := range cases {
		m, ok := SelectLevel(levels(), Stall{Category: registrydomain.CategorySubmitted, Hours: tc.hours})
		if tc.want == "" {
			assert.False(t, ok, "hours %v", tc.hours)
			continue
		}
		require.True(t, ok, "hours %v", tc.hours)
		assert.Equal(t, tc.want, m.Level.ID, "hours %v", tc.hours)
	}
}

func TestSelectLevelUsesOverridesAndSkipsInactive(t *testing.T) {
	cfg := levels()
	cfg.Overrides = map[string]map[string]float64{"elevated": {registrydomain.CategorySubmitted: 60}}
	_, ok := SelectLevel(cfg, Stall{Category: registrydomain.CategorySubmitted, Hours: 50})
	assert.False(t, ok)

	cfg.Levels[2].Active = false // urgent
	m, ok := SelectLevel(cfg, Stall{Category: registrydomain.CategorySubmitted, Hours: 100})
	require.True(t, ok)
	assert.Equal(t, "elevated", m.Level.ID)

	_, ok = SelectLevel(cfg, Stall{Category: registrydomain.CategoryUnderReview, Hours: 1000})
	assert.False(t, ok, "no level defines under_review here")
}

func TestFindStalls(t *testing.T) {
	changed := now.Add(-50 * time.Hour)
	future := now.Add(time.Hour)
	records := []activitydomain.Record{
		{ID: "p2", Kind: activitydomain.KindProposal, Status: activitydomain.ProposalUnderReview, OccurredAt: now.Add(-10 * time.Hour)},
		{ID: "p1", Kind: activitydomain.KindProposal, Status: activitydomain.ProposalSubmitted, OccurredAt: now.Add(-200 * time.Hour), StatusChangedAt: &changed},
		{ID: "p3", Kind: activitydomain.KindProposal, Status: activitydomain.ProposalApproved, OccurredAt: now.Add(-300 * time.Hour)},
		{ID: "p4", Kind: activitydomain.KindProposal, Status: activitydomain.ProposalSubmitted, OccurredAt: now, StatusChangedAt: &future},
		{ID: "p1", Kind: activitydomain.KindProposal, Status: activitydomain.ProposalSubmitted, OccurredAt: now.Add(-400 * time.Hour)},
	}

	stalls := FindStalls(records, now)
	require.Len(t, stalls, 2)
	assert.Equal(t, "p1", stalls[0].ProposalID)
	assert.Equal(t, 50.0, stalls[0].Hours)
	assert.Equal(t, "p2", stalls[1].ProposalID)
	assert.Equal(t, activitydomain.ProposalUnderReview, stalls[1].Category)
}

func TestAnnotateDoesNotMutateSource(t *testing.T) {
	snap := snapshotdomain.NewSnapshot("ent_1", now)
	out := Annotate(snap, Stall{Category: registrydomain.CategorySubmitted, Hours: 50.7})

	_, ok := snap.Get(MetricHoursInStatus)
	assert.False(t, ok)
	v, ok := out.Float(MetricHoursInStatus)
	require.True(t, ok)
	assert.Equal(t, 50.0, v)
}

type stubActivity struct {
	records []activitydomain.Record
	err     error
	got     activitydomain.Query
}

func (s *stubActivity) Query(_ context.Context, q activitydomain.Query) ([]activitydomain.Record, error) {
	s.got = q
	return s.records, s.err
}

func TestDetector(t *testing.T) {
	changed := now.Add(-50 * time.Hour)
	act := &stubActivity{records: []activitydomain.Record{
		{ID: "p1", EntityID: "ent_1", Kind: activitydomain.KindProposal, Status: activitydomain.ProposalSubmitted, OccurredAt: changed, StatusChangedAt: &changed},
	}}
	d := NewDetector(Params{
		Clock:    clock.NewFakeClock(now),
		Activity: act,
		Config:   config.NewStaticEngineConfigHolder(config.DefaultEngineConfig()),
	})

	matches, err := d.Detect(context.Background(), "ent_1", levels())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "elevated", matches[0].Level.ID)
	assert.Equal(t, []activitydomain.Kind{activitydomain.KindProposal}, act.got.Kinds)

	act.err = errors.New("store down")
	_, err = d.Detect(context.Background(), "ent_1", levels())
	assert.Error(t, err)

	matches, err = d.Detect(context.Background(), "ent_1", &registrydomain.Config{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}
