// Package escalation finds stalled proposals and picks the escalation level
// each one has reached.
package escalation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	activitydomain "github.com/smallbiznis/creatorops/internal/activity/domain"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/config"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"go.uber.org/fx"
)

// Values added to the snapshot handed to escalation actions.
const (
	MetricHoursInStatus  = "hours_in_status"
	MetricProposalStatus = "proposal_status"
)

var openCategories = map[string]struct{}{
	registrydomain.CategorySubmitted:         {},
	registrydomain.CategoryUnderReview:       {},
	registrydomain.CategoryRevisionRequested: {},
}

// IsOpen reports whether a proposal in status can stall.
func IsOpen(status string) bool {
	_, ok := openCategories[status]
	return ok
}

// Stall is an open proposal and how long it has waited in its status.
type Stall struct {
	ProposalID string
	Category   string
	Since      time.Time
	Hours      float64
}

// Match is the level a stall has reached.
type Match struct {
	Level     registrydomain.EscalationLevel
	Threshold float64
	Stall     Stall
}

// FindStalls returns open proposals ordered by proposal id. The status
// timestamp falls back to OccurredAt; timestamps in the future are skipped.
func FindStalls(records []activitydomain.Record, now time.Time) []Stall {
	seen := map[string]struct{}{}
	var out []Stall
	for _, r := range records {
		if r.Kind != activitydomain.KindProposal || !IsOpen(r.Status) {
			continue
		}
		// Records arrive most recent first; the first one per proposal is current.
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}

		since := r.OccurredAt
		if r.StatusChangedAt != nil && !r.StatusChangedAt.IsZero() {
			since = *r.StatusChangedAt
		}
		if since.IsZero() || since.After(now) {
			continue
		}
		out = append(out, Stall{
			ProposalID: r.ID,
			Category:   r.Status,
			Since:      since,
			Hours:      now.Sub(since).Hours(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposalID < out[j].ProposalID })
	return out
}

// SelectLevel returns the most severe active level whose effective threshold
// for the stall's category has been reached. Levels without a threshold for
// the category are ignored.
func SelectLevel(cfg *registrydomain.Config, stall Stall) (Match, bool) {
	levels := cfg.ActiveLevels()
	for i := len(levels) - 1; i >= 0; i-- {
		threshold, ok := cfg.EffectiveThresholds(levels[i])[stall.Category]
		if !ok {
			continue
		}
		if stall.Hours >= threshold {
			return Match{Level: levels[i], Threshold: threshold, Stall: stall}, true
		}
	}
	return Match{}, false
}

// Annotate returns a copy of snap carrying the stall's status and hours.
func Annotate(snap snapshotdomain.Snapshot, stall Stall) snapshotdomain.Snapshot {
	out := snap.Clone()
	out.Set(MetricHoursInStatus, snapshotdomain.Number(math.Floor(stall.Hours)))
	out.Set(MetricProposalStatus, snapshotdomain.Text(stall.Category))
	return out
}

type Params struct {
	fx.In

	Clock    clock.Clock
	Activity activitydomain.Store
	Config   *config.EngineConfigHolder
}

// Detector reads an entity's proposals and matches stalls to levels.
type Detector struct {
	clock    clock.Clock
	activity activitydomain.Store
	cfg      *config.EngineConfigHolder
}

func NewDetector(p Params) *Detector {
	return &Detector{
		clock:    p.Clock,
		activity: p.Activity,
		cfg:      p.Config,
	}
}

// Detect returns one match per stalled proposal that reached a level.
func (d *Detector) Detect(ctx context.Context, entityID string, cfg *registrydomain.Config) ([]Match, error) {
	if len(cfg.ActiveLevels()) == 0 {
		return nil, nil
	}
	now := d.clock.Now()
	lookback := time.Duration(d.cfg.Get().Snapshot.LookbackDays) * 24 * time.Hour

	records, err := d.activity.Query(ctx, activitydomain.Query{
		EntityID: entityID,
		Kinds:    []activitydomain.Kind{activitydomain.KindProposal},
		Since:    now.Add(-lookback),
	})
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}

	var matches []Match
	for _, stall := range FindStalls(records, now) {
		if m, ok := SelectLevel(cfg, stall); ok {
			matches = append(matches, m)
		}
	}
	return matches, nil
}
