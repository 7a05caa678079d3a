package service

import (
	"context"
	"math"
	"time"

	activitydomain "github.com/smallbiznis/creatorops/internal/activity/domain"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/config"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	"github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const day = 24 * time.Hour

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Activity activitydomain.Store
	Entities entitydomain.Service
	Config   *config.EngineConfigHolder
	Metrics  *obsmetrics.EngineMetrics `optional:"true"`
}

// Builder computes metrics snapshots from an entity and its activity history.
type Builder struct {
	log      *zap.Logger
	clock    clock.Clock
	activity activitydomain.Store
	entities entitydomain.Service
	cfg      *config.EngineConfigHolder
	metrics  *obsmetrics.EngineMetrics
}

func New(p Params) *Builder {
	return &Builder{
		log:      p.Log.Named("snapshot.builder"),
		clock:    p.Clock,
		activity: p.Activity,
		entities: p.Entities,
		cfg:      p.Config,
		metrics:  p.Metrics,
	}
}

type sourceSpec struct {
	source domain.Source
	kinds  []activitydomain.Kind
	apply  func(s *domain.Snapshot, w window, records []activitydomain.Record)
	dflt   func(s *domain.Snapshot, w window)
}

var sources = []sourceSpec{
	{source: domain.SourceProposals, kinds: []activitydomain.Kind{activitydomain.KindProposal}, apply: applyProposals, dflt: defaultProposals},
	{source: domain.SourcePayments, kinds: []activitydomain.Kind{activitydomain.KindPayment}, apply: applyPayments, dflt: defaultPayments},
	{source: domain.SourceTickets, kinds: []activitydomain.Kind{activitydomain.KindSupportTicket}, apply: applyTickets, dflt: defaultTickets},
	{source: domain.SourceEngagement, kinds: []activitydomain.Kind{activitydomain.KindEngagement}, apply: applyEngagement, dflt: defaultEngagement},
}

// Build returns the snapshot for entityID. Only an entity lookup failure is
// returned; activity source failures default their metrics instead.
func (b *Builder) Build(ctx context.Context, entityID string) (domain.Snapshot, error) {
	entity, err := b.entities.Get(ctx, entityID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return b.BuildFor(ctx, entity), nil
}

// BuildFor computes the snapshot for an already loaded entity.
func (b *Builder) BuildFor(ctx context.Context, entity entitydomain.Entity) domain.Snapshot {
	cfg := b.cfg.Get().Snapshot
	now := b.clock.Now()
	w := newWindow(now, cfg.PeriodDays, cfg.LookbackDays)
	snap := domain.NewSnapshot(entity.ID, now)

	applyEntity(&snap, entity, now)

	var (
		latest      time.Time
		anyActivity bool
		malformed   int
	)
	for _, src := range sources {
		records, err := b.activity.Query(ctx, activitydomain.Query{
			EntityID: entity.ID,
			Kinds:    src.kinds,
			Since:    w.since,
		})
		if err != nil {
			b.log.Warn("activity source unavailable, using defaults",
				zap.String("entity_id", entity.ID),
				zap.String("source", string(src.source)),
				zap.Error(err),
			)
			b.metrics.IncSourceUnavailable(string(src.source))
			snap.MarkUnavailable(src.source, err)
			src.dflt(&snap, w)
			continue
		}
		src.apply(&snap, w, records)
		// Payments and tickets do not count as creator activity.
		countsAsActivity := src.source == domain.SourceProposals || src.source == domain.SourceEngagement
		if countsAsActivity {
			anyActivity = true
		}
		for _, r := range records {
			if !w.valid(r.OccurredAt) {
				malformed++
				continue
			}
			if countsAsActivity && r.OccurredAt.After(latest) {
				latest = r.OccurredAt
			}
		}
	}

	snap.Set(domain.MetricMalformedRecords, domain.Number(float64(malformed)))
	switch {
	case !latest.IsZero():
		snap.Set(domain.MetricDaysSinceLastActivity, domain.Number(math.Floor(now.Sub(latest).Hours()/24)))
	case anyActivity:
		// Readable history with nothing in the lookback window.
		snap.Set(domain.MetricDaysSinceLastActivity, domain.Number(float64(w.lookbackDays)))
	default:
		snap.SetDefault(domain.MetricDaysSinceLastActivity, domain.Number(float64(w.lookbackDays)))
	}
	if malformed > 0 {
		b.log.Debug("skipped malformed activity timestamps",
			zap.String("entity_id", entity.ID),
			zap.Int("count", malformed),
		)
	}
	return snap
}

type window struct {
	now          time.Time
	since        time.Time
	currentStart time.Time
	priorStart   time.Time
	lookbackDays int
}

func newWindow(now time.Time, periodDays, lookbackDays int) window {
	if periodDays <= 0 {
		periodDays = 30
	}
	if lookbackDays < 2*periodDays {
		lookbackDays = 2 * periodDays
	}
	period := time.Duration(periodDays) * day
	return window{
		now:          now,
		since:        now.Add(-time.Duration(lookbackDays) * day),
		currentStart: now.Add(-period),
		priorStart:   now.Add(-2 * period),
		lookbackDays: lookbackDays,
	}
}

// valid rejects zero and future timestamps.
func (w window) valid(t time.Time) bool {
	return !t.IsZero() && !t.After(w.now)
}

func (w window) inCurrent(t time.Time) bool {
	return w.valid(t) && !t.Before(w.currentStart)
}

func (w window) inPrior(t time.Time) bool {
	return w.valid(t) && !t.Before(w.priorStart) && t.Before(w.currentStart)
}
