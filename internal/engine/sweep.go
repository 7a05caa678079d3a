package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EntityError is one entity that failed during a sweep.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

type SweepResult struct {
	Scanned   int           `json:"scanned"`
	Triggered int           `json:"triggered"`
	Errors    []EntityError `json:"errors"`
	Canceled  bool          `json:"canceled,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Sweep evaluates entityIDs, or every entity when entityIDs is nil, with
// bounded concurrency. A failing entity is recorded and the sweep goes on.
// Once ctx is done no new entity is started; running ones finish on their own.
func (e *Engine) Sweep(ctx context.Context, entityIDs []string) (result SweepResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.sweep")
	defer func() { endSpan(span, err) }()

	started := e.clock.Now()
	sweepCfg := e.cfg.Get().Sweep

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(sweepCfg.Concurrency)

	run := func(ids []string) bool {
		for _, id := range ids {
			if ctx.Err() != nil {
				return false
			}
			entityID := id
			g.Go(func() error {
				res, evalErr := e.Evaluate(ctx, entityID)
				mu.Lock()
				defer mu.Unlock()
				result.Scanned++
				if evalErr != nil {
					e.log.Warn("sweep entity failed",
						zap.String("entity_id", entityID),
						zap.Error(evalErr),
					)
					result.Errors = append(result.Errors, EntityError{EntityID: entityID, Error: evalErr.Error()})
					return nil
				}
				result.Triggered += len(res.Triggered)
				return nil
			})
		}
		return true
	}

	if entityIDs != nil {
		run(entityIDs)
	} else {
		err = e.pageAll(ctx, sweepCfg.BatchSize, run)
	}
	_ = g.Wait()

	result.Canceled = ctx.Err() != nil
	result.Duration = e.clock.Now().Sub(started)
	if result.Errors == nil {
		result.Errors = []EntityError{}
	}

	e.metrics.AddSweepEntities(obsmetrics.SweepOutcomeScanned, result.Scanned)
	e.metrics.AddSweepEntities(obsmetrics.SweepOutcomeTriggered, result.Triggered)
	e.metrics.AddSweepEntities(obsmetrics.SweepOutcomeError, len(result.Errors))
	span.SetAttributes(
		attribute.Int("scanned", result.Scanned),
		attribute.Int("triggered", result.Triggered),
		attribute.Int("errors", len(result.Errors)),
	)
	e.log.Info("engine.sweep.completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("triggered", result.Triggered),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("canceled", result.Canceled),
		zap.Duration("duration", result.Duration),
	)

	if err != nil {
		return result, err
	}
	if result.Canceled {
		return result, ctx.Err()
	}
	return result, nil
}

// pageAll walks the entity store in id order and hands each page to fn.
func (e *Engine) pageAll(ctx context.Context, batchSize int, fn func(ids []string) bool) error {
	after := ""
	for {
		if ctx.Err() != nil {
			return nil
		}
		ids, err := e.entities.ListIDs(ctx, after, batchSize)
		if err != nil {
			return fmt.Errorf("list entities after %q: %w", after, err)
		}
		if len(ids) == 0 {
			return nil
		}
		if !fn(ids) {
			return nil
		}
		if len(ids) < batchSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}
