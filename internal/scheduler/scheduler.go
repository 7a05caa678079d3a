package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/smallbiznis/creatorops/internal/engine"
	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobAutomationSweep = "automation_sweep"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Sweeper is the part of the engine the scheduler drives.
type Sweeper interface {
	Sweep(ctx context.Context, entityIDs []string) (engine.SweepResult, error)
}

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Engine       engine.Service
	EngineConfig *config.EngineConfigHolder
	Metrics      *obsmetrics.EngineMetrics `optional:"true"`
	Config       Config                    `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	sweeper   Sweeper
	engineCfg *config.EngineConfigHolder
	metrics   *obsmetrics.EngineMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Engine == nil || p.EngineConfig == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		sweeper:   p.Engine,
		engineCfg: p.EngineConfig,
		metrics:   p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline or shutdown is a soft stop; the next tick picks up the rest.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobAutomationSweep, s.isJobEnabled(JobAutomationSweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobAutomationSweep, s.engineCfg.Get().Sweep.BatchSize, s.cfg.JobTimeout, s.AutomationSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

// RunForever runs every interval until ctx is done. A changed sweep interval
// in the engine config takes effect after the current run.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.engineCfg.Get().Sweep.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		if current := s.engineCfg.Get().Sweep.Interval; current != interval {
			s.log.Info("sweep interval changed",
				zap.Duration("from", interval),
				zap.Duration("to", current),
			)
			interval = current
			ticker.Reset(interval)
			nextRun = s.clock.Now()
		}
		nextRun = nextRun.Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// No list means every job runs (all-in-one mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// AutomationSweepJob evaluates every entity once. Per-entity failures are
// counted on the run and do not fail the job.
func (s *Scheduler) AutomationSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAutomationSweep, s.engineCfg.Get().Sweep.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.sweeper.Sweep(ctx, nil)
	run.AddProcessed(result.Scanned)
	for _, entityErr := range result.Errors {
		run.IncError()
		s.logger(ctx).Debug("scheduler.entity.failed",
			zap.String("job", JobAutomationSweep),
			zap.String("entity_id", entityErr.EntityID),
			zap.String("error", entityErr.Error),
		)
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.sweep.failed", JobAutomationSweep, err,
			zap.Int("scanned", result.Scanned),
		)
		return err
	}

	s.logger(ctx).Info("scheduler.sweep.summary",
		zap.Int("scanned", result.Scanned),
		zap.Int("triggered", result.Triggered),
		zap.Int("errors", len(result.Errors)),
	)
	return nil
}
