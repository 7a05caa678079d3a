package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/condition"
	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	"github.com/smallbiznis/creatorops/internal/registry/domain"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const reloadChannel = "creatorops:registry:reload"

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Store     domain.ConfigStore
	Redis     redis.UniversalClient     `optional:"true"`
	Metrics   *obsmetrics.EngineMetrics `optional:"true"`
	Lifecycle fx.Lifecycle              `optional:"true"`
}

// Registry caches rules, escalation levels and lifecycle triggers. Each
// evaluation reads one immutable Config from Snapshot.
type Registry struct {
	log        *zap.Logger
	clock      clock.Clock
	store      domain.ConfigStore
	redis      redis.UniversalClient
	metrics    *obsmetrics.EngineMetrics
	instanceID string

	current atomic.Pointer[domain.Config]
}

func New(p Params) domain.Service {
	r := &Registry{
		log:        p.Log.Named("registry.service"),
		clock:      p.Clock,
		store:      p.Store,
		redis:      p.Redis,
		metrics:    p.Metrics,
		instanceID: uuid.NewString(),
	}
	r.current.Store(&domain.Config{})

	if p.Lifecycle != nil {
		listenCtx, cancel := context.WithCancel(context.Background())
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := r.Load(ctx); err != nil {
					cancel()
					return err
				}
				if r.redis != nil {
					go r.listen(listenCtx)
				}
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}
	return r
}

// Load seeds the default configuration when the store holds no rules, then reloads.
func (r *Registry) Load(ctx context.Context) error {
	n, err := r.store.Count(ctx, domain.KindRule)
	if err != nil {
		return fmt.Errorf("count rule documents: %w", err)
	}
	if n == 0 {
		if err := r.seed(ctx); err != nil {
			return fmt.Errorf("seed registry: %w", err)
		}
		r.log.Info("registry seeded with defaults")
	}
	_, err = r.Reload(ctx)
	return err
}

// Reload rebuilds the cached Config from the store. Invalid documents are
// skipped and logged; the rest are loaded.
func (r *Registry) Reload(ctx context.Context) (*domain.Config, error) {
	rules, rejected, err := r.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	levels, levelRejects, err := r.loadLevels(ctx)
	if err != nil {
		return nil, err
	}
	rejected = append(rejected, levelRejects...)
	overrides, overrideRejects, err := r.loadOverrides(ctx)
	if err != nil {
		return nil, err
	}
	rejected = append(rejected, overrideRejects...)
	triggers, triggerRejects, err := r.loadTriggers(ctx)
	if err != nil {
		return nil, err
	}
	rejected = append(rejected, triggerRejects...)

	levels, orderRejects := checkLevelOrdering(levels, overrides)
	rejected = append(rejected, orderRejects...)

	for _, rejectErr := range rejected {
		var cfgErr *domain.ConfigurationError
		if errors.As(rejectErr, &cfgErr) {
			r.log.Warn("registry document rejected",
				zap.String("kind", cfgErr.Kind),
				zap.String("id", cfgErr.ID),
				zap.String("reason", cfgErr.Reason),
			)
			r.metrics.IncConfigRejection(cfgErr.Kind)
			continue
		}
		r.log.Warn("registry document rejected", zap.Error(rejectErr))
	}
	for _, rule := range rules {
		r.warnUnknownFields(rule)
	}

	cfg := &domain.Config{
		Rules:             rules,
		Levels:            levels,
		Overrides:         overrides,
		LifecycleTriggers: triggers,
		LoadedAt:          r.clock.Now().UTC(),
	}
	r.current.Store(cfg)
	r.log.Info("registry reloaded",
		zap.Int("rules", len(rules)),
		zap.Int("levels", len(levels)),
		zap.Int("lifecycle_triggers", len(triggers)),
		zap.Int("rejected", len(rejected)),
	)
	return cfg, nil
}

// Snapshot returns the Config in effect. Callers must not mutate it.
func (r *Registry) Snapshot() *domain.Config {
	return r.current.Load()
}

// PublishReload asks peer instances to reload. It is a no-op without redis.
func (r *Registry) PublishReload(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.Publish(ctx, reloadChannel, r.instanceID).Err()
}

func (r *Registry) listen(ctx context.Context) {
	sub := r.redis.Subscribe(ctx, reloadChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Payload == r.instanceID {
				continue
			}
			if _, err := r.Reload(ctx); err != nil {
				r.log.Warn("registry reload from broadcast failed", zap.Error(err))
			}
		}
	}
}

func (r *Registry) warnUnknownFields(rule domain.Rule) {
	if rule.Condition == nil {
		return
	}
	for _, field := range condition.Fields(rule.Condition) {
		if !snapshotdomain.IsKnownMetric(field) {
			r.log.Warn("rule references unknown metric, leaf evaluates false",
				zap.String("rule_id", rule.ID),
				zap.String("field", field),
			)
		}
	}
}

func (r *Registry) loadRules(ctx context.Context) ([]domain.Rule, []error, error) {
	docs, err := r.store.List(ctx, domain.KindRule)
	if err != nil {
		return nil, nil, fmt.Errorf("list rules: %w", err)
	}
	var (
		out      []domain.Rule
		rejected []error
	)
	for _, doc := range docs {
		rule, err := domain.DecodeRule(doc.Key, doc.Body)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		out = append(out, rule)
	}
	return out, rejected, nil
}

func (r *Registry) loadLevels(ctx context.Context) ([]domain.EscalationLevel, []error, error) {
	docs, err := r.store.List(ctx, domain.KindEscalationLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("list escalation levels: %w", err)
	}
	var (
		out      []domain.EscalationLevel
		rejected []error
	)
	for _, doc := range docs {
		level, err := domain.DecodeLevel(doc.Key, doc.Body)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		out = append(out, level)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity < out[j].Severity })
	return out, rejected, nil
}

func (r *Registry) loadOverrides(ctx context.Context) (map[string]map[string]float64, []error, error) {
	docs, err := r.store.List(ctx, domain.KindThresholdOverride)
	if err != nil {
		return nil, nil, fmt.Errorf("list threshold overrides: %w", err)
	}
	out := make(map[string]map[string]float64, len(docs))
	var rejected []error
	for _, doc := range docs {
		var thresholds map[string]float64
		if err := json.Unmarshal(doc.Body, &thresholds); err != nil {
			rejected = append(rejected, &domain.ConfigurationError{Kind: string(domain.KindThresholdOverride), ID: doc.Key, Reason: err.Error(), Err: err})
			continue
		}
		if err := domain.ValidateThresholds(thresholds); err != nil {
			rejected = append(rejected, &domain.ConfigurationError{Kind: string(domain.KindThresholdOverride), ID: doc.Key, Reason: err.Error(), Err: err})
			continue
		}
		out[doc.Key] = thresholds
	}
	return out, rejected, nil
}

func (r *Registry) loadTriggers(ctx context.Context) ([]domain.LifecycleTrigger, []error, error) {
	docs, err := r.store.List(ctx, domain.KindLifecycleTrigger)
	if err != nil {
		return nil, nil, fmt.Errorf("list lifecycle triggers: %w", err)
	}
	var (
		out      []domain.LifecycleTrigger
		rejected []error
	)
	for _, doc := range docs {
		trigger, err := domain.DecodeTrigger(doc.Key, doc.Body)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		out = append(out, trigger)
	}
	return out, rejected, nil
}

// checkLevelOrdering drops active levels whose effective threshold for a
// category is not strictly above every less severe active level's.
// levels must be sorted by severity.
func checkLevelOrdering(levels []domain.EscalationLevel, overrides map[string]map[string]float64) ([]domain.EscalationLevel, []error) {
	var (
		kept     = make([]domain.EscalationLevel, 0, len(levels))
		rejected []error
		highest  = map[string]float64{}
		severity = map[int]string{}
	)
	for _, level := range levels {
		if !level.Active {
			kept = append(kept, level)
			continue
		}
		if other, dup := severity[level.Severity]; dup {
			rejected = append(rejected, &domain.ConfigurationError{
				Kind:   string(domain.KindEscalationLevel),
				ID:     level.ID,
				Reason: fmt.Sprintf("severity %d already used by %q", level.Severity, other),
				Err:    domain.ErrInvalidInput,
			})
			continue
		}
		effective := domain.MergeThresholds(level.Thresholds, overrides[level.ID])
		var reason string
		for category, hours := range effective {
			if prev, ok := highest[category]; ok && hours <= prev {
				reason = fmt.Sprintf("threshold %g for %q must exceed less severe level's %g", hours, category, prev)
				break
			}
		}
		if reason != "" {
			rejected = append(rejected, &domain.ConfigurationError{
				Kind:   string(domain.KindEscalationLevel),
				ID:     level.ID,
				Reason: reason,
				Err:    domain.ErrInvalidInput,
			})
			continue
		}
		for category, hours := range effective {
			highest[category] = hours
		}
		severity[level.Severity] = level.ID
		kept = append(kept, level)
	}
	return kept, rejected
}
