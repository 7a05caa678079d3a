package service

import (
	"math"
	"strings"
	"time"

	activitydomain "github.com/smallbiznis/creatorops/internal/activity/domain"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	"github.com/smallbiznis/creatorops/internal/snapshot/domain"
)

const unknown = "unknown"

func applyEntity(s *domain.Snapshot, e entitydomain.Entity, now time.Time) {
	s.Set(domain.MetricSubscriptionAgeDays, domain.Number(math.Floor(e.SubscriptionAge(now).Hours()/24)))
	if plan := strings.TrimSpace(e.Plan); plan != "" {
		s.Set(domain.MetricPlan, domain.Text(plan))
	} else {
		s.SetDefault(domain.MetricPlan, domain.Text(unknown))
	}
	if e.Status != "" {
		s.Set(domain.MetricEntityStatus, domain.Text(string(e.Status)))
	} else {
		s.SetDefault(domain.MetricEntityStatus, domain.Text(unknown))
	}
}

func isOpenProposal(status string) bool {
	switch status {
	case activitydomain.ProposalSubmitted, activitydomain.ProposalUnderReview, activitydomain.ProposalRevisionRequested:
		return true
	default:
		return false
	}
}

// applyProposals expects records most recent first.
func applyProposals(s *domain.Snapshot, _ window, records []activitydomain.Record) {
	var total, approved, rejected, pending float64
	for _, r := range records {
		total++
		switch {
		case r.Status == activitydomain.ProposalApproved:
			approved++
		case r.Status == activitydomain.ProposalRejected:
			rejected++
		case isOpenProposal(r.Status):
			pending++
		}
	}

	consecutive := 0
	for _, r := range records {
		if r.Status != activitydomain.ProposalRejected {
			break
		}
		consecutive++
	}

	s.Set(domain.MetricTotalProposals, domain.Number(total))
	s.Set(domain.MetricApprovedProposals, domain.Number(approved))
	s.Set(domain.MetricRejectedProposals, domain.Number(rejected))
	s.Set(domain.MetricPendingProposals, domain.Number(pending))
	if total > 0 {
		s.Set(domain.MetricApprovalRate, domain.Number(percent(approved, total)))
		s.Set(domain.MetricDeclineRate, domain.Number(percent(rejected, total)))
	} else {
		// No proposals means neither rate was measured.
		s.SetDefault(domain.MetricApprovalRate, domain.Number(0))
		s.SetDefault(domain.MetricDeclineRate, domain.Number(0))
	}
	s.Set(domain.MetricConsecutiveRejections, domain.Number(float64(consecutive)))
}

func defaultProposals(s *domain.Snapshot, _ window) {
	for _, name := range []string{
		domain.MetricTotalProposals,
		domain.MetricApprovedProposals,
		domain.MetricRejectedProposals,
		domain.MetricPendingProposals,
		domain.MetricApprovalRate,
		domain.MetricDeclineRate,
		domain.MetricConsecutiveRejections,
	} {
		s.SetDefault(name, domain.Number(0))
	}
}

func applyPayments(s *domain.Snapshot, w window, records []activitydomain.Record) {
	var failed, succeeded float64
	for _, r := range records {
		if !w.inCurrent(r.OccurredAt) {
			continue
		}
		switch r.Status {
		case activitydomain.PaymentFailed:
			failed++
		case activitydomain.PaymentSucceeded:
			succeeded++
		}
	}
	s.Set(domain.MetricFailedPayments, domain.Number(failed))
	s.Set(domain.MetricSuccessfulPayments, domain.Number(succeeded))
}

func defaultPayments(s *domain.Snapshot, _ window) {
	s.SetDefault(domain.MetricFailedPayments, domain.Number(0))
	s.SetDefault(domain.MetricSuccessfulPayments, domain.Number(0))
}

func applyTickets(s *domain.Snapshot, _ window, records []activitydomain.Record) {
	var open float64
	for _, r := range records {
		if r.Status == activitydomain.TicketOpen || r.Status == activitydomain.TicketPending {
			open++
		}
	}
	s.Set(domain.MetricOpenSupportTickets, domain.Number(open))
}

func defaultTickets(s *domain.Snapshot, _ window) {
	s.SetDefault(domain.MetricOpenSupportTickets, domain.Number(0))
}

func applyEngagement(s *domain.Snapshot, w window, records []activitydomain.Record) {
	var current, prior float64
	for _, r := range records {
		switch {
		case w.inCurrent(r.OccurredAt):
			current++
		case w.inPrior(r.OccurredAt):
			prior++
		}
	}
	s.Set(domain.MetricActivityCurrentPeriod, domain.Number(current))
	s.Set(domain.MetricActivityPriorPeriod, domain.Number(prior))
	s.Set(domain.MetricEngagementDrop, domain.Number(EngagementDrop(prior, current)))
}

func defaultEngagement(s *domain.Snapshot, _ window) {
	s.SetDefault(domain.MetricActivityCurrentPeriod, domain.Number(0))
	s.SetDefault(domain.MetricActivityPriorPeriod, domain.Number(0))
	s.SetDefault(domain.MetricEngagementDrop, domain.Number(0))
}

// EngagementDrop is the fractional decline from prior to current, 0 without prior activity.
func EngagementDrop(prior, current float64) float64 {
	if prior <= 0 {
		return 0
	}
	return round4(math.Max(0, (prior-current)/prior))
}

func percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(part/total*10000) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
