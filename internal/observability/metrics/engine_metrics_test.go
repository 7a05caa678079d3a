package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, ReasonDeadlineExceeded},
		{"canceled wrapped", fmt.Errorf("sweep: %w", context.Canceled), ReasonDeadlineExceeded},
		{"db_lock_timeout", &pgconn.PgError{Code: "55P03"}, ReasonDBLockTimeout},
		{"serialization_failure", &pgconn.PgError{Code: "40001"}, ReasonSerializationFailure},
		{"unique_violation", gorm.ErrDuplicatedKey, ReasonUniqueViolation},
		{"connection", &pgconn.PgError{Code: "08006"}, ReasonConnection},
		{"unknown", errors.New("boom"), ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyReason(tc.err))
		})
	}
}

func TestClassifyErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeNotFound, ClassifyErrorType(gorm.ErrRecordNotFound))
	assert.Equal(t, ErrorTypeDB, ClassifyErrorType(&pgconn.PgError{Code: "42P01"}))
	assert.Equal(t, ErrorTypeBusinessRule, ClassifyErrorType(errors.New("rule_not_found")))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsRetryable(errors.New("bad input")))
}

func TestEngineMetricsCounters(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry(), Config{ServiceName: "creatorops", Environment: "test"})

	m.AddSweepEntities(SweepOutcomeScanned, 3)
	m.AddSweepEntities(SweepOutcomeScanned, 0)
	m.IncAction("notify_admin", false)
	m.IncAction("notify_admin", true)
	m.IncAction("notify_admin", true)
	m.IncLifecycleTransition("", "onboarding")
	m.IncJobError("automation_sweep", &pgconn.PgError{Code: "40001"})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepEntities.WithLabelValues(SweepOutcomeScanned)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.actionOutcomes.WithLabelValues("notify_admin", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionOutcomes.WithLabelValues("notify_admin", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lifecycleTransitions.WithLabelValues("none", "onboarding")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("automation_sweep", ReasonSerializationFailure)))
}
