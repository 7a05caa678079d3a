package domain

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

// Kind is the category of a historical activity record.
type Kind string

const (
	KindProposal      Kind = "proposal"
	KindPayment       Kind = "payment"
	KindSupportTicket Kind = "support_ticket"
	KindEngagement    Kind = "engagement"
)

// Proposal statuses.
const (
	ProposalSubmitted         = "submitted"
	ProposalUnderReview       = "under_review"
	ProposalRevisionRequested = "revision_requested"
	ProposalApproved          = "approved"
	ProposalRejected          = "rejected"
	ProposalWithdrawn         = "withdrawn"
)

// Payment statuses.
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// Support ticket statuses.
const (
	TicketOpen     = "open"
	TicketPending  = "pending"
	TicketResolved = "resolved"
	TicketClosed   = "closed"
)

// Record is one historical item owned by an entity.
type Record struct {
	ID              string            `gorm:"primaryKey;size:64" json:"id"`
	EntityID        string            `gorm:"size:64;not null;index:idx_activity_entity_kind_time,priority:1" json:"entity_id"`
	Kind            Kind              `gorm:"size:32;not null;index:idx_activity_entity_kind_time,priority:2" json:"kind"`
	Status          string            `gorm:"size:32" json:"status,omitempty"`
	OccurredAt      time.Time         `gorm:"index:idx_activity_entity_kind_time,priority:3" json:"occurred_at"`
	StatusChangedAt *time.Time        `json:"status_changed_at,omitempty"`
	Amount          int64             `json:"amount,omitempty"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
}

func (Record) TableName() string { return "activity_records" }

// Query selects an entity's records. Zero Since or Until leaves that bound open.
type Query struct {
	EntityID string
	Kinds    []Kind
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Store is the read-only activity history. Records are returned most recent first.
type Store interface {
	Query(ctx context.Context, q Query) ([]Record, error)
}
