package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusOpen Status = "open"
	StatusDone Status = "done"
)

// Task is a follow-up created by an automation for a human operator.
type Task struct {
	ID          string            `gorm:"primaryKey;size:32" json:"id"`
	EntityID    string            `gorm:"size:64;not null;index" json:"entity_id"`
	RuleID      string            `gorm:"size:128" json:"rule_id,omitempty"`
	Title       string            `gorm:"not null" json:"title"`
	Description string            `json:"description,omitempty"`
	Assignee    string            `gorm:"size:128" json:"assignee,omitempty"`
	Priority    string            `gorm:"size:16;not null;default:normal" json:"priority"`
	Status      Status            `gorm:"size:16;not null;default:open" json:"status"`
	DueAt       *time.Time        `json:"due_at,omitempty"`
	Payload     datatypes.JSONMap `json:"payload,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
}

func (Task) TableName() string { return "follow_up_tasks" }

var ErrInvalidTask = errors.New("invalid_task")

// Store creates follow-up tasks and returns their id.
type Store interface {
	Create(ctx context.Context, task Task) (string, error)
	ListOpen(ctx context.Context, entityID string) ([]Task, error)
}
