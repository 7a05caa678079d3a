package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Stage is the subscription health stage of an entity.
type Stage string

const (
	StageOnboarding  Stage = "onboarding"
	StageActivation  Stage = "activation"
	StageEngaged     Stage = "engaged"
	StageAtRisk      Stage = "at_risk"
	StageChurning    Stage = "churning"
	StageChurned     Stage = "churned"
	StageReactivated Stage = "reactivated"
)

func (s Stage) Valid() bool {
	switch s {
	case StageOnboarding, StageActivation, StageEngaged, StageAtRisk, StageChurning, StageChurned, StageReactivated:
		return true
	default:
		return false
	}
}

// Record is the current stage of one entity's subscription.
type Record struct {
	EntityID       string     `gorm:"primaryKey;size:64" json:"entity_id"`
	Stage          Stage      `gorm:"size:32;not null;index" json:"stage"`
	ComputedStage  Stage      `gorm:"size:32;not null" json:"computed_stage"`
	PreviousStage  Stage      `gorm:"size:32" json:"previous_stage,omitempty"`
	Override       bool       `gorm:"not null;default:false" json:"override"`
	OverrideReason string     `json:"override_reason,omitempty"`
	ChangedBy      string     `gorm:"size:128" json:"changed_by,omitempty"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
	ReactivatedAt  *time.Time `json:"reactivated_at,omitempty"`
	EnteredAt      time.Time  `gorm:"not null" json:"entered_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (Record) TableName() string { return "lifecycle_records" }

// History is an append-only log of stage changes.
type History struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	EntityID  string       `gorm:"size:64;not null;index" json:"entity_id"`
	FromStage Stage        `gorm:"size:32" json:"from_stage,omitempty"`
	ToStage   Stage        `gorm:"size:32;not null" json:"to_stage"`
	Reason    string       `json:"reason,omitempty"`
	ChangedBy string       `gorm:"size:128" json:"changed_by,omitempty"`
	Manual    bool         `gorm:"not null;default:false" json:"manual"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (History) TableName() string { return "lifecycle_history" }

var (
	ErrNotFound       = errors.New("lifecycle_record_not_found")
	ErrInvalidStage   = errors.New("invalid_lifecycle_stage")
	ErrReasonRequired = errors.New("override_reason_required")
	ErrNotChurned     = errors.New("entity_not_churned")
)
