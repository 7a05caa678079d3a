// Package domain contains the metrics snapshot computed for one entity per evaluation.
package domain

import (
	"errors"
	"sort"
	"time"
)

// Metric names produced by the snapshot builder.
const (
	MetricTotalProposals        = "total_proposals"
	MetricApprovedProposals     = "approved_proposals"
	MetricRejectedProposals     = "rejected_proposals"
	MetricPendingProposals      = "pending_proposals"
	MetricApprovalRate          = "approval_rate"
	MetricDeclineRate           = "decline_rate"
	MetricConsecutiveRejections = "consecutive_rejections"
	MetricDaysSinceLastActivity = "days_since_last_activity"
	MetricActivityCurrentPeriod = "activity_current_period"
	MetricActivityPriorPeriod   = "activity_prior_period"
	MetricEngagementDrop        = "engagement_drop"
	MetricFailedPayments        = "failed_payments"
	MetricSuccessfulPayments    = "successful_payments"
	MetricOpenSupportTickets    = "open_support_tickets"
	MetricSubscriptionAgeDays   = "subscription_age_days"
	MetricMalformedRecords      = "malformed_records"
	MetricPlan                  = "plan"
	MetricEntityStatus          = "entity_status"
)

// Source names a collaborator that feeds a group of metrics.
type Source string

const (
	SourceProposals  Source = "proposals"
	SourcePayments   Source = "payments"
	SourceTickets    Source = "support_tickets"
	SourceEngagement Source = "engagement"
)

// ErrDataUnavailable marks a metric source that could not be read.
var ErrDataUnavailable = errors.New("data_unavailable")

var knownMetrics = map[string]ValueKind{
	MetricTotalProposals:        KindNumber,
	MetricApprovedProposals:     KindNumber,
	MetricRejectedProposals:     KindNumber,
	MetricPendingProposals:      KindNumber,
	MetricApprovalRate:          KindNumber,
	MetricDeclineRate:           KindNumber,
	MetricConsecutiveRejections: KindNumber,
	MetricDaysSinceLastActivity: KindNumber,
	MetricActivityCurrentPeriod: KindNumber,
	MetricActivityPriorPeriod:   KindNumber,
	MetricEngagementDrop:        KindNumber,
	MetricFailedPayments:        KindNumber,
	MetricSuccessfulPayments:    KindNumber,
	MetricOpenSupportTickets:    KindNumber,
	MetricSubscriptionAgeDays:   KindNumber,
	MetricMalformedRecords:      KindNumber,
	MetricPlan:                  KindText,
	MetricEntityStatus:          KindText,
}

// KnownMetrics returns every metric name the builder can produce, sorted.
func KnownMetrics() []string {
	out := make([]string, 0, len(knownMetrics))
	for name := range knownMetrics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsKnownMetric reports whether name is produced by the builder.
func IsKnownMetric(name string) bool {
	_, ok := knownMetrics[name]
	return ok
}

// ValueKind distinguishes numeric from categorical metric values.
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindText   ValueKind = "text"
)

// Value is a single metric measurement. Defaulted values were substituted
// because the underlying source was unavailable.
type Value struct {
	Kind      ValueKind `json:"kind"`
	Number    float64   `json:"number,omitempty"`
	Text      string    `json:"text,omitempty"`
	Defaulted bool      `json:"defaulted,omitempty"`
}

func Number(v float64) Value {
	return Value{Kind: KindNumber, Number: v}
}

func Text(v string) Value {
	return Value{Kind: KindText, Text: v}
}

// Snapshot is the point-in-time metric set for one entity. It is never
// persisted on its own, only embedded into audit records.
type Snapshot struct {
	EntityID    string            `json:"entity_id"`
	ComputedAt  time.Time         `json:"computed_at"`
	Values      map[string]Value  `json:"values"`
	Unavailable map[Source]string `json:"unavailable,omitempty"`
}

func NewSnapshot(entityID string, at time.Time) Snapshot {
	return Snapshot{
		EntityID:   entityID,
		ComputedAt: at,
		Values:     map[string]Value{},
	}
}

// Get returns the value for name and whether it is present.
func (s Snapshot) Get(name string) (Value, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Float returns the numeric value for name. Categorical or absent values report false.
func (s Snapshot) Float(name string) (float64, bool) {
	v, ok := s.Values[name]
	if !ok || v.Kind != KindNumber {
		return 0, false
	}
	return v.Number, true
}

func (s *Snapshot) Set(name string, v Value) {
	if s.Values == nil {
		s.Values = map[string]Value{}
	}
	s.Values[name] = v
}

// SetDefault stores v flagged as a default substitution.
func (s *Snapshot) SetDefault(name string, v Value) {
	v.Defaulted = true
	s.Set(name, v)
}

// MarkUnavailable records that source failed with err.
func (s *Snapshot) MarkUnavailable(source Source, err error) {
	if s.Unavailable == nil {
		s.Unavailable = map[Source]string{}
	}
	msg := ErrDataUnavailable.Error()
	if err != nil {
		msg = err.Error()
	}
	s.Unavailable[source] = msg
}

// Defaulted lists the metric names that carry a default value, sorted.
func (s Snapshot) Defaulted() []string {
	var out []string
	for name, v := range s.Values {
		if v.Defaulted {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LowConfidence reports whether any activity source could not be read.
// Defaults for attributes the entity simply lacks do not count.
func (s Snapshot) LowConfidence() bool {
	return len(s.Unavailable) > 0
}

// Clone returns a copy whose maps can be modified independently.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Values = make(map[string]Value, len(s.Values))
	for k, v := range s.Values {
		out.Values[k] = v
	}
	if s.Unavailable != nil {
		out.Unavailable = make(map[Source]string, len(s.Unavailable))
		for k, v := range s.Unavailable {
			out.Unavailable[k] = v
		}
	}
	return out
}
