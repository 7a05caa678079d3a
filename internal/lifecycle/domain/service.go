package domain

import (
	"context"
	"time"

	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
)

// FiredTrigger is a zero-delay trigger dispatched on stage entry.
type FiredTrigger struct {
	TriggerID     string `json:"trigger_id"`
	AuditID       string `json:"audit_id"`
	FailedActions int    `json:"failed_actions"`
}

// PendingTrigger is a delayed trigger left for an external scheduler.
type PendingTrigger struct {
	TriggerID string        `json:"trigger_id"`
	Stage     Stage         `json:"stage"`
	Delay     time.Duration `json:"delay"`
	DueAt     time.Time     `json:"due_at"`
}

// Transition is the outcome of a lifecycle operation.
type Transition struct {
	Record  Record           `json:"record"`
	From    Stage            `json:"from,omitempty"`
	To      Stage            `json:"to"`
	Changed bool             `json:"changed"`
	Fired   []FiredTrigger   `json:"fired_triggers,omitempty"`
	Pending []PendingTrigger `json:"pending_triggers,omitempty"`
}

// Assessment is the input to Apply.
type Assessment struct {
	EntityID    string
	Age         time.Duration
	RiskPercent float64
	// CanceledAt is the cancellation known to the entity store, if any.
	CanceledAt *time.Time
	Snapshot   snapshotdomain.Snapshot
}

type Service interface {
	GetStage(ctx context.Context, entityID string) (Record, error)
	SetStage(ctx context.Context, entityID string, stage Stage, reason, actor string) (Transition, error)
	ClearOverride(ctx context.Context, entityID, actor string) (Transition, error)
	Apply(ctx context.Context, a Assessment) (Transition, error)
	Compute(a Assessment) Stage
	Cancel(ctx context.Context, entityID, reason, actor string) (Transition, error)
	Reactivate(ctx context.Context, entityID, reason, actor string) (Transition, error)
	History(ctx context.Context, entityID string, limit int) ([]History, error)
}
