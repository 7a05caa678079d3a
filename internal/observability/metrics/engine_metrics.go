package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ErrorTypeDeadlineExceeded = "deadline_exceeded"
	ErrorTypeDB               = "db"
	ErrorTypeNotFound         = "not_found"
	ErrorTypeBusinessRule     = "business_rule"
	ErrorTypeUnknown          = "unknown"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonConnection           = "connection"
	ReasonUnknown              = "unknown"
)

const (
	SweepOutcomeScanned   = "scanned"
	SweepOutcomeTriggered = "triggered"
	SweepOutcomeError     = "error"
)

// EngineMetrics are the prometheus series scraped from /metrics.
type EngineMetrics struct {
	jobRuns              *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	jobTimeouts          *prometheus.CounterVec
	jobErrors            *prometheus.CounterVec
	runLoopLag           prometheus.Histogram
	sweepEntities        *prometheus.CounterVec
	ruleTriggers         *prometheus.CounterVec
	actionOutcomes       *prometheus.CounterVec
	lifecycleTransitions *prometheus.CounterVec
	defaultedSources     *prometheus.CounterVec
	lockSkips            prometheus.Counter
	configRejections     *prometheus.CounterVec
	logEvents            *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the process-wide engine metrics.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig returns the singleton, registering it on first use with cfg's labels.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = NewEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// NewEngineMetrics registers a fresh set of series on registerer. Tests pass a private registry.
func NewEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "creatorops"
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}
	constLabels := prometheus.Labels{"service": service, "env": env}

	m := &EngineMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "creatorops_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs cut short by their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "creatorops_scheduler_runloop_lag_seconds",
			Help:        "Delay between the planned tick and the actual sweep start.",
			Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			ConstLabels: constLabels,
		}),
		sweepEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_sweep_entities_total",
			Help:        "Entities handled by sweeps, by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		ruleTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_rule_triggers_total",
			Help:        "Audited triggers by source (rule, escalation, lifecycle).",
			ConstLabels: constLabels,
		}, []string{"source"}),
		actionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_action_outcomes_total",
			Help:        "Dispatched actions by kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
		lifecycleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_lifecycle_transitions_total",
			Help:        "Lifecycle stage changes.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		defaultedSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_snapshot_source_unavailable_total",
			Help:        "Snapshot sources that failed and were defaulted.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		lockSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "creatorops_cooldown_lock_skips_total",
			Help:        "Triggers skipped because another worker held the cooldown lock.",
			ConstLabels: constLabels,
		}),
		configRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_registry_rejected_documents_total",
			Help:        "Registry documents skipped at load because they were malformed.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		logEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creatorops_log_event_actions_total",
			Help:        "Events emitted by log_event actions.",
			ConstLabels: constLabels,
		}, []string{"event"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.runLoopLag,
		m.sweepEntities,
		m.ruleTriggers,
		m.actionOutcomes,
		m.lifecycleTransitions,
		m.defaultedSources,
		m.lockSkips,
		m.configRejections,
		m.logEvents,
	)
	return m
}

func (m *EngineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *EngineMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *EngineMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *EngineMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyReason(err)).Inc()
}

func (m *EngineMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.runLoopLag.Observe(d.Seconds())
}

func (m *EngineMetrics) AddSweepEntities(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepEntities.WithLabelValues(outcome).Add(float64(n))
}

func (m *EngineMetrics) IncTrigger(source string) {
	if m == nil {
		return
	}
	m.ruleTriggers.WithLabelValues(source).Inc()
}

func (m *EngineMetrics) IncAction(kind string, success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.actionOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (m *EngineMetrics) IncLifecycleTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.lifecycleTransitions.WithLabelValues(from, to).Inc()
}

func (m *EngineMetrics) IncSourceUnavailable(source string) {
	if m == nil {
		return
	}
	m.defaultedSources.WithLabelValues(source).Inc()
}

func (m *EngineMetrics) IncLockSkip() {
	if m == nil {
		return
	}
	m.lockSkips.Inc()
}

func (m *EngineMetrics) IncConfigRejection(kind string) {
	if m == nil {
		return
	}
	m.configRejections.WithLabelValues(kind).Inc()
}

func (m *EngineMetrics) IncLogEvent(event string) {
	if m == nil {
		return
	}
	m.logEvents.WithLabelValues(event).Inc()
}

// ClassifyErrorType returns a coarse error type for logs.
func ClassifyErrorType(err error) string {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ErrorTypeDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrorTypeNotFound
	case isDBError(err):
		return ErrorTypeDB
	default:
		return ErrorTypeBusinessRule
	}
}

// ClassifyReason maps an error to a low-cardinality metric label.
func ClassifyReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case hasPGClass(err, "08"):
		return ReasonConnection
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether a later sweep may succeed where this one failed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return isDBError(err) && !errors.Is(err, gorm.ErrDuplicatedKey)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func hasPGClass(err error, class string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, class)
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	return errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated)
}
