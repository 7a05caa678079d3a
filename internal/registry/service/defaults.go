package service

import (
	"context"
	"time"

	"github.com/smallbiznis/creatorops/internal/condition"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	"github.com/smallbiznis/creatorops/internal/registry/domain"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
)

// EventProposalRejected is emitted by the proposal workflow when a creator's
// proposal is rejected.
const EventProposalRejected = "proposal.rejected"

// DefaultRules are written to an empty store on first Load.
func DefaultRules(now time.Time) []domain.Rule {
	rules := []domain.Rule{
		{
			ID:          "low-approval-rate",
			Name:        "Low approval rate",
			Description: "Creator has enough proposals to judge and most are not approved.",
			Trigger:     domain.TriggerCondition,
			Condition: condition.AllOf(
				condition.NumberLeaf(snapshotdomain.MetricApprovalRate, condition.OpLT, 50),
				condition.NumberLeaf(snapshotdomain.MetricTotalProposals, condition.OpGTE, 5),
			),
			Actions: []dispatch.Action{
				dispatch.NotifyAdmin{
					Subject: "Low approval rate: {{entity_id}}",
					Message: "Approval rate is {{metric:approval_rate}}% over {{metric:total_proposals}} proposals.",
				},
				dispatch.CreateFollowUpTask{
					Title:       "Review proposals with {{entity_id}}",
					Description: "Triggered by {{rule_name}}.",
					Priority:    "normal",
					DueIn:       72 * time.Hour,
				},
			},
			Cooldown: 7 * 24 * time.Hour,
		},
		{
			ID:          "inactive-creator",
			Name:        "Inactive creator",
			Description: "No proposals or engagement for a month.",
			Trigger:     domain.TriggerTimeBased,
			Condition:   condition.NumberLeaf(snapshotdomain.MetricDaysSinceLastActivity, condition.OpGTE, 30),
			Actions: []dispatch.Action{
				dispatch.NotifyEntity{
					Subject: "We miss you",
					Message: "It has been {{metric:days_since_last_activity}} days since your last activity.",
				},
				dispatch.LogEvent{Event: "creator.inactive", Level: "info"},
			},
			Cooldown: 14 * 24 * time.Hour,
		},
		{
			ID:          "engagement-drop",
			Name:        "Engagement drop",
			Description: "Activity halved against the prior period.",
			Trigger:     domain.TriggerCondition,
			Condition: condition.AllOf(
				condition.NumberLeaf(snapshotdomain.MetricEngagementDrop, condition.OpGTE, 0.5),
				condition.NumberLeaf(snapshotdomain.MetricActivityPriorPeriod, condition.OpGTE, 4),
			),
			Actions: []dispatch.Action{
				dispatch.NotifyAdmin{
					Channel: "slack",
					Subject: "Engagement drop: {{entity_id}}",
					Message: "Engagement dropped by {{metric:engagement_drop}} against the prior period.",
				},
				dispatch.BoostPriority{By: 1},
			},
			Cooldown: 7 * 24 * time.Hour,
		},
		{
			ID:          "failed-payments",
			Name:        "Repeated failed payments",
			Description: "Two or more failed payments in the current period.",
			Trigger:     domain.TriggerCondition,
			Condition:   condition.NumberLeaf(snapshotdomain.MetricFailedPayments, condition.OpGTE, 2),
			Actions: []dispatch.Action{
				dispatch.NotifyAdmin{
					Subject: "Failed payments: {{entity_id}}",
					Message: "{{metric:failed_payments}} failed payments this period.",
				},
				dispatch.UpdateEntityStatus{Status: "flagged"},
				dispatch.LogEvent{Event: "billing.payment_failures", Level: "warn"},
			},
			Cooldown: 3 * 24 * time.Hour,
		},
		{
			ID:          "proposal-rejected",
			Name:        "Proposal rejected",
			Description: "Send feedback guidance each time a proposal is rejected.",
			Trigger:     domain.TriggerEvent,
			Event:       EventProposalRejected,
			Actions: []dispatch.Action{
				dispatch.NotifyEntity{
					Subject: "About your proposal",
					Message: "Your proposal was not accepted. You have {{metric:consecutive_rejections}} rejections in a row; our guide can help.",
				},
				dispatch.LogEvent{Event: "proposal.rejected", Level: "info"},
			},
		},
	}
	for i := range rules {
		rules[i].Active = true
		rules[i].CreatedAt = now
		rules[i].UpdatedAt = now
	}
	return rules
}

// DefaultLevels are the seeded proposal-stall escalation tiers. Thresholds are hours.
func DefaultLevels(now time.Time) []domain.EscalationLevel {
	levels := []domain.EscalationLevel{
		{
			ID:       "elevated",
			Name:     "Elevated",
			Severity: 1,
			Thresholds: map[string]float64{
				domain.CategorySubmitted:         48,
				domain.CategoryUnderReview:       72,
				domain.CategoryRevisionRequested: 96,
			},
			Actions: []dispatch.Action{
				dispatch.NotifyAdmin{
					Channel: "slack",
					Subject: "Proposal stalled: {{entity_id}}",
					Message: "A proposal has waited {{metric:hours_in_status}}h in {{metric:proposal_status}}.",
				},
			},
			Cooldown: 24 * time.Hour,
		},
		{
			ID:       "urgent",
			Name:     "Urgent",
			Severity: 2,
			Thresholds: map[string]float64{
				domain.CategorySubmitted:         96,
				domain.CategoryUnderReview:       120,
				domain.CategoryRevisionRequested: 168,
			},
			Actions: []dispatch.Action{
				dispatch.NotifyAdmin{
					Subject: "Urgent: proposal stalled for {{entity_id}}",
					Message: "A proposal has waited {{metric:hours_in_status}}h in {{metric:proposal_status}}.",
				},
				dispatch.CreateFollowUpTask{
					Title:    "Unblock stalled proposal for {{entity_id}}",
					Priority: "high",
					DueIn:    24 * time.Hour,
				},
			},
			Cooldown: 24 * time.Hour,
		},
		{
			ID:       "critical",
			Name:     "Critical",
			Severity: 3,
			Thresholds: map[string]float64{
				domain.CategorySubmitted:         168,
				domain.CategoryUnderReview:       240,
				domain.CategoryRevisionRequested: 336,
			},
			Actions: []dispatch.Action{
				dispatch.NotifyAdmin{
					Subject: "Critical: proposal stalled for {{entity_id}}",
					Message: "A proposal has waited {{metric:hours_in_status}}h in {{metric:proposal_status}}.",
				},
				dispatch.BoostPriority{By: 2},
				dispatch.LogEvent{Event: "escalation.critical", Level: "warn"},
			},
			Cooldown: 12 * time.Hour,
		},
	}
	for i := range levels {
		levels[i].Active = true
		levels[i].CreatedAt = now
		levels[i].UpdatedAt = now
	}
	return levels
}

// DefaultLifecycleTriggers are the seeded stage-entry automations.
func DefaultLifecycleTriggers(now time.Time) []domain.LifecycleTrigger {
	triggers := []domain.LifecycleTrigger{
		{
			ID:    "onboarding-welcome",
			Stage: string(lifecycledomain.StageOnboarding),
			Actions: []dispatch.Action{
				dispatch.NotifyEntity{Subject: "Welcome to CreatorOps", Message: "Your account is ready. Submit your first proposal to get started."},
			},
		},
		{
			ID:    "activation-check-in",
			Stage: string(lifecycledomain.StageActivation),
			Delay: 72 * time.Hour,
			Actions: []dispatch.Action{
				dispatch.NotifyEntity{Subject: "How is it going?", Message: "Tips for getting your proposals approved faster."},
			},
		},
		{
			ID:    "at-risk-outreach",
			Stage: string(lifecycledomain.StageAtRisk),
			Actions: []dispatch.Action{
				dispatch.NotifyAdmin{Subject: "At risk: {{entity_id}}", Message: "{{entity_id}} moved to at risk."},
				dispatch.CreateFollowUpTask{Title: "Reach out to {{entity_id}}", Priority: "normal", DueIn: 48 * time.Hour},
			},
		},
		{
			ID:    "churning-escalation",
			Stage: string(lifecycledomain.StageChurning),
			Actions: []dispatch.Action{
				dispatch.NotifyAdmin{Subject: "Churning: {{entity_id}}", Message: "{{entity_id}} is likely to churn."},
				dispatch.BoostPriority{By: 3},
			},
		},
		{
			ID:    "churned-log",
			Stage: string(lifecycledomain.StageChurned),
			Actions: []dispatch.Action{
				dispatch.LogEvent{Event: "lifecycle.churned", Level: "info"},
			},
		},
		{
			ID:    "reactivated-welcome-back",
			Stage: string(lifecycledomain.StageReactivated),
			Actions: []dispatch.Action{
				dispatch.NotifyEntity{Subject: "Welcome back", Message: "Good to see you again."},
			},
		},
	}
	for i := range triggers {
		triggers[i].Active = true
		triggers[i].CreatedAt = now
		triggers[i].UpdatedAt = now
	}
	return triggers
}

func (r *Registry) seed(ctx context.Context) error {
	now := r.now()
	for _, rule := range DefaultRules(now) {
		if err := r.putRule(ctx, rule); err != nil {
			return err
		}
	}

	levels, err := r.store.Count(ctx, domain.KindEscalationLevel)
	if err != nil {
		return err
	}
	if levels == 0 {
		for _, level := range DefaultLevels(now) {
			if err := r.putLevel(ctx, level); err != nil {
				return err
			}
		}
	}

	triggers, err := r.store.Count(ctx, domain.KindLifecycleTrigger)
	if err != nil {
		return err
	}
	if triggers == 0 {
		for _, trigger := range DefaultLifecycleTriggers(now) {
			if err := r.putTrigger(ctx, trigger); err != nil {
				return err
			}
		}
	}
	return nil
}
