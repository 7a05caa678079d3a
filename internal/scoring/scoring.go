// Package scoring combines weighted risk factors into a 0-100 health score.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
)

// Severity is a threshold tier. Each tier maps to a fixed fraction of a factor's weight.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
)

var severityFractions = map[Severity]float64{
	SeverityCritical: 1.0,
	SeverityHigh:     0.75,
	SeverityMedium:   0.5,
	SeverityLow:      0.25,
}

// Fraction returns the share of a factor's weight contributed at this severity.
func (s Severity) Fraction() float64 {
	return severityFractions[s]
}

func (s Severity) Valid() bool {
	_, ok := severityFractions[s]
	return ok
}

// Direction tells whether larger measurements are worse or better.
type Direction string

const (
	HigherIsWorse Direction = "higher_is_worse"
	LowerIsWorse  Direction = "lower_is_worse"
)

// Status is the bucket a health score falls into.
type Status string

const (
	StatusCritical Status = "critical"
	StatusHigh     Status = "high"
	StatusMedium   Status = "medium"
	StatusHealthy  Status = "healthy"
)

type Threshold struct {
	Severity Severity `json:"severity" mapstructure:"severity"`
	Value    float64  `json:"value" mapstructure:"value"`
}

// Factor is one weighted contributor to risk. Weight is the most points it can add.
type Factor struct {
	Name       string      `json:"name" mapstructure:"name"`
	Metric     string      `json:"metric" mapstructure:"metric"`
	Weight     float64     `json:"weight" mapstructure:"weight"`
	Direction  Direction   `json:"direction" mapstructure:"direction"`
	Thresholds []Threshold `json:"thresholds" mapstructure:"thresholds"`
}

// Bucket maps scores at or below MaxScore to Status.
type Bucket struct {
	Status   Status  `json:"status" mapstructure:"status"`
	MaxScore float64 `json:"max_score" mapstructure:"max_score"`
}

type Config struct {
	Factors []Factor `json:"factors" mapstructure:"factors"`
	Buckets []Bucket `json:"buckets" mapstructure:"buckets"`
}

// FactorResult explains one factor's contribution.
type FactorResult struct {
	Name         string   `json:"name"`
	Metric       string   `json:"metric"`
	Value        float64  `json:"value"`
	Weight       float64  `json:"weight"`
	Severity     Severity `json:"severity"`
	Fraction     float64  `json:"fraction"`
	Contribution float64  `json:"contribution"`
	Defaulted    bool     `json:"defaulted,omitempty"`
	Missing      bool     `json:"missing,omitempty"`
}

type Result struct {
	HealthScore float64        `json:"health_score"`
	RiskPercent float64        `json:"risk_percent"`
	TotalRisk   float64        `json:"total_risk"`
	MaxRisk     float64        `json:"max_risk"`
	Status      Status         `json:"status"`
	Factors     []FactorResult `json:"risk_factors"`
}

var ErrInvalidConfig = errors.New("invalid_scoring_config")

// DefaultConfig is the factor set used when no engine config file overrides it.
func DefaultConfig() Config {
	return Config{
		Factors: []Factor{
			{
				Name:      "inactivity",
				Metric:    snapshotdomain.MetricDaysSinceLastActivity,
				Weight:    30,
				Direction: HigherIsWorse,
				Thresholds: []Threshold{
					{Severity: SeverityCritical, Value: 60},
					{Severity: SeverityHigh, Value: 30},
					{Severity: SeverityMedium, Value: 14},
					{Severity: SeverityLow, Value: 7},
				},
			},
			{
				Name:      "engagement_drop",
				Metric:    snapshotdomain.MetricEngagementDrop,
				Weight:    25,
				Direction: HigherIsWorse,
				Thresholds: []Threshold{
					{Severity: SeverityCritical, Value: 0.75},
					{Severity: SeverityHigh, Value: 0.5},
					{Severity: SeverityMedium, Value: 0.3},
					{Severity: SeverityLow, Value: 0.15},
				},
			},
			{
				Name:      "approval_rate",
				Metric:    snapshotdomain.MetricApprovalRate,
				Weight:    20,
				Direction: LowerIsWorse,
				Thresholds: []Threshold{
					{Severity: SeverityCritical, Value: 20},
					{Severity: SeverityHigh, Value: 35},
					{Severity: SeverityMedium, Value: 50},
					{Severity: SeverityLow, Value: 65},
				},
			},
			{
				Name:      "consecutive_rejections",
				Metric:    snapshotdomain.MetricConsecutiveRejections,
				Weight:    10,
				Direction: HigherIsWorse,
				Thresholds: []Threshold{
					{Severity: SeverityCritical, Value: 5},
					{Severity: SeverityHigh, Value: 3},
					{Severity: SeverityMedium, Value: 2},
					{Severity: SeverityLow, Value: 1},
				},
			},
			{
				Name:      "failed_payments",
				Metric:    snapshotdomain.MetricFailedPayments,
				Weight:    15,
				Direction: HigherIsWorse,
				Thresholds: []Threshold{
					{Severity: SeverityCritical, Value: 3},
					{Severity: SeverityHigh, Value: 2},
					{Severity: SeverityMedium, Value: 1},
				},
			},
		},
		Buckets: DefaultBuckets(),
	}
}

func DefaultBuckets() []Bucket {
	return []Bucket{
		{Status: StatusCritical, MaxScore: 30},
		{Status: StatusHigh, MaxScore: 50},
		{Status: StatusMedium, MaxScore: 70},
	}
}

// Validate checks weights, severities and per-direction threshold ordering.
func (c Config) Validate() error {
	seen := map[string]struct{}{}
	for _, f := range c.Factors {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("%w: factor name is required", ErrInvalidConfig)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate factor %q", ErrInvalidConfig, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(f.Metric) == "" {
			return fmt.Errorf("%w: factor %q has no metric", ErrInvalidConfig, name)
		}
		if f.Weight < 0 || math.IsNaN(f.Weight) || math.IsInf(f.Weight, 0) {
			return fmt.Errorf("%w: factor %q weight must be a non-negative number", ErrInvalidConfig, name)
		}
		switch f.direction() {
		case HigherIsWorse, LowerIsWorse:
		default:
			return fmt.Errorf("%w: factor %q has unknown direction %q", ErrInvalidConfig, name, f.Direction)
		}
		severities := map[Severity]struct{}{}
		for _, t := range f.Thresholds {
			if !t.Severity.Valid() {
				return fmt.Errorf("%w: factor %q has unknown severity %q", ErrInvalidConfig, name, t.Severity)
			}
			if _, dup := severities[t.Severity]; dup {
				return fmt.Errorf("%w: factor %q repeats severity %q", ErrInvalidConfig, name, t.Severity)
			}
			severities[t.Severity] = struct{}{}
		}
	}
	for _, b := range c.Buckets {
		if strings.TrimSpace(string(b.Status)) == "" {
			return fmt.Errorf("%w: bucket status is required", ErrInvalidConfig)
		}
	}
	return nil
}

func (f Factor) direction() Direction {
	if f.Direction == "" {
		return HigherIsWorse
	}
	return f.Direction
}

// orderedThresholds returns thresholds scanned from most to least severe.
func (f Factor) orderedThresholds() []Threshold {
	out := make([]Threshold, len(f.Thresholds))
	copy(out, f.Thresholds)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Fraction() > out[j].Severity.Fraction()
	})
	return out
}

// Classify selects the first threshold value meets (or, for lower-is-worse
// factors, falls below), scanning from most to least severe.
func (f Factor) Classify(value float64) Severity {
	dir := f.direction()
	for _, t := range f.orderedThresholds() {
		switch dir {
		case LowerIsWorse:
			if value <= t.Value {
				return t.Severity
			}
		default:
			if value >= t.Value {
				return t.Severity
			}
		}
	}
	return SeverityNone
}

// Score computes the health score for snap. Identical inputs always produce identical output.
func Score(snap snapshotdomain.Snapshot, cfg Config) Result {
	var (
		totalRisk   float64
		totalWeight float64
		factors     = make([]FactorResult, 0, len(cfg.Factors))
	)

	for _, f := range cfg.Factors {
		weight := f.Weight
		if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		totalWeight += weight

		fr := FactorResult{
			Name:     f.Name,
			Metric:   f.Metric,
			Weight:   weight,
			Severity: SeverityNone,
		}
		value, ok := snap.Get(f.Metric)
		if !ok || value.Kind != snapshotdomain.KindNumber {
			fr.Missing = true
			factors = append(factors, fr)
			continue
		}

		fr.Value = value.Number
		fr.Defaulted = value.Defaulted
		fr.Severity = f.Classify(value.Number)
		// A substituted floor is not a low measurement.
		if value.Defaulted && f.direction() == LowerIsWorse {
			fr.Severity = SeverityNone
		}
		fr.Fraction = fr.Severity.Fraction()
		fr.Contribution = weight * fr.Fraction
		totalRisk += fr.Contribution
		factors = append(factors, fr)
	}

	health := 100.0
	if totalWeight > 0 {
		health = 100 - (totalRisk/totalWeight)*100
	}
	health = round2(clamp(health, 0, 100))

	return Result{
		HealthScore: health,
		RiskPercent: round2(100 - health),
		TotalRisk:   round2(totalRisk),
		MaxRisk:     round2(totalWeight),
		Status:      Bucketize(health, cfg.Buckets),
		Factors:     factors,
	}
}

// Bucketize returns the first bucket (by ascending MaxScore) the score fits in,
// StatusHealthy when none matches.
func Bucketize(score float64, buckets []Bucket) Status {
	if len(buckets) == 0 {
		buckets = DefaultBuckets()
	}
	ordered := make([]Bucket, len(buckets))
	copy(ordered, buckets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MaxScore < ordered[j].MaxScore
	})
	for _, b := range ordered {
		if score <= b.MaxScore {
			return b.Status
		}
	}
	return StatusHealthy
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
