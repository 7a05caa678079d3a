package domain

import (
	"errors"
	"time"
)

// Status is the account status of an entity. It is distinct from the lifecycle stage.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusSuspended Status = "suspended"
	StatusFlagged   Status = "flagged"
	StatusCanceled  Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusSuspended, StatusFlagged, StatusCanceled:
		return true
	default:
		return false
	}
}

// Entity is a creator or subscriber evaluated by the engine.
type Entity struct {
	ID                    string     `gorm:"primaryKey;size:64" json:"id"`
	Name                  string     `gorm:"not null" json:"name"`
	Email                 string     `json:"email,omitempty"`
	Status                Status     `gorm:"size:32;not null;default:active;index" json:"status"`
	Priority              int        `gorm:"not null;default:0" json:"priority"`
	Plan                  string     `gorm:"size:64" json:"plan,omitempty"`
	SubscriptionStartedAt *time.Time `json:"subscription_started_at,omitempty"`
	CanceledAt            *time.Time `json:"canceled_at,omitempty"`
	ReactivatedAt         *time.Time `json:"reactivated_at,omitempty"`
	CreatedAt             time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"not null" json:"updated_at"`
}

func (Entity) TableName() string { return "entities" }

// SubscriptionAge is the time since the subscription started, falling back to account creation.
func (e Entity) SubscriptionAge(now time.Time) time.Duration {
	start := e.CreatedAt
	if e.SubscriptionStartedAt != nil && !e.SubscriptionStartedAt.IsZero() {
		start = *e.SubscriptionStartedAt
	}
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return now.Sub(start)
}

var (
	ErrNotFound      = errors.New("entity_not_found")
	ErrInvalidStatus = errors.New("invalid_entity_status")
)
