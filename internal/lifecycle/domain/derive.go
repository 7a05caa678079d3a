package domain

import "time"

// Bounds are the stage boundaries from the engine configuration.
type Bounds struct {
	OnboardingDays    int
	ActivationDays    int
	AtRiskMinRisk     float64
	ChurningMinRisk   float64
	ReactivationGrace time.Duration
}

// DeriveInput is everything the computed stage depends on.
type DeriveInput struct {
	Now           time.Time
	Age           time.Duration
	RiskPercent   float64
	Previous      Stage
	CanceledAt    *time.Time
	ReactivatedAt *time.Time
}

// Derive computes the stage top to bottom: cancellation, sticky churn,
// reactivation grace, then age and risk buckets. Overrides are applied by
// the caller.
func Derive(in DeriveInput, b Bounds) Stage {
	if in.CanceledAt != nil && (in.ReactivatedAt == nil || in.CanceledAt.After(*in.ReactivatedAt)) {
		return StageChurned
	}
	if in.Previous == StageChurned {
		return StageChurned
	}
	if in.Previous == StageReactivated && in.ReactivatedAt != nil && in.Now.Sub(*in.ReactivatedAt) < b.ReactivationGrace {
		return StageReactivated
	}

	const day = 24 * time.Hour
	switch {
	case in.Age <= time.Duration(b.OnboardingDays)*day:
		return StageOnboarding
	case in.Age <= time.Duration(b.ActivationDays)*day:
		return StageActivation
	case in.RiskPercent >= b.ChurningMinRisk:
		return StageChurning
	case in.RiskPercent >= b.AtRiskMinRisk:
		return StageAtRisk
	default:
		return StageEngaged
	}
}
