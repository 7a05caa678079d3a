// Package cooldown decides whether a rule may fire again for an entity.
//
// The gate keeps no state of its own. The audit log is read on every check,
// so a restarted process makes the same decision as the one that crashed.
// Check followed by an audit append is not atomic: two concurrent checks for
// the same key can both pass. Locker narrows that window when redis is
// available.
package cooldown

import (
	"context"
	"fmt"
	"time"

	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/clock"
)

// Key scopes a cooldown. SubjectID is empty for entity-wide rules and carries
// the proposal id for escalation levels.
type Key struct {
	RuleID    string
	EntityID  string
	SubjectID string
}

func (k Key) String() string {
	if k.SubjectID == "" {
		return fmt.Sprintf("%s:%s", k.RuleID, k.EntityID)
	}
	return fmt.Sprintf("%s:%s:%s", k.RuleID, k.EntityID, k.SubjectID)
}

type Decision struct {
	Eligible        bool
	LastTriggeredAt *time.Time
	NextEligibleAt  *time.Time
}

// AuditReader is the part of the audit log the gate needs.
type AuditReader interface {
	Query(ctx context.Context, filter auditdomain.QueryFilter) ([]auditdomain.AuditRecord, error)
}

type Gate struct {
	audit AuditReader
	clock clock.Clock
}

func NewGate(audit AuditReader, clk clock.Clock) *Gate {
	return &Gate{audit: audit, clock: clk}
}

// Check reports whether key may trigger now. A zero or negative cooldown is
// always eligible. Audit read errors are returned as is.
func (g *Gate) Check(ctx context.Context, key Key, cooldown time.Duration) (Decision, error) {
	if cooldown <= 0 {
		return Decision{Eligible: true}, nil
	}

	now := g.clock.Now()
	windowStart := now.Add(-cooldown)
	subject := key.SubjectID
	records, err := g.audit.Query(ctx, auditdomain.QueryFilter{
		EntityID:  key.EntityID,
		RuleID:    key.RuleID,
		SubjectID: &subject,
		Since:     windowStart,
		Limit:     1,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown %s: %w", key, err)
	}
	if len(records) == 0 {
		return Decision{Eligible: true}, nil
	}

	last := records[0].CreatedAt.UTC()
	next := last.Add(cooldown)
	return Decision{
		Eligible:        !last.After(windowStart),
		LastTriggeredAt: &last,
		NextEligibleAt:  &next,
	}, nil
}
