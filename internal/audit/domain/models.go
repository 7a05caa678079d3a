package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"gorm.io/datatypes"
)

// Source identifies which automation produced a record.
type Source string

const (
	SourceRule       Source = "rule"
	SourceEscalation Source = "escalation"
	SourceLifecycle  Source = "lifecycle"
)

// ActionRecord is the outcome of one dispatched action. It only exists inside an AuditRecord.
type ActionRecord struct {
	Kind       string         `json:"kind"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// AuditRecord is an append-only trigger log entry. Only the resolution fields change after insert.
type AuditRecord struct {
	ID              snowflake.ID                                `gorm:"primaryKey;autoIncrement:false" json:"id"`
	EntityID        string                                      `gorm:"size:64;not null;index:idx_audit_cooldown,priority:1" json:"entity_id"`
	RuleID          string                                      `gorm:"size:128;not null;index:idx_audit_cooldown,priority:2" json:"rule_id"`
	LevelID         string                                      `gorm:"size:128" json:"level_id,omitempty"`
	SubjectID       string                                      `gorm:"size:128;not null;default:'';index:idx_audit_cooldown,priority:3" json:"subject_id,omitempty"`
	Source          Source                                      `gorm:"size:32;not null" json:"source"`
	Snapshot        datatypes.JSONType[snapshotdomain.Snapshot] `json:"snapshot"`
	Actions         datatypes.JSONSlice[ActionRecord]           `json:"actions"`
	Resolved        bool                                        `gorm:"not null;default:false" json:"resolved"`
	ResolvedBy      *string                                     `json:"resolved_by,omitempty"`
	ResolutionNotes *string                                     `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time                                  `json:"resolved_at,omitempty"`
	CreatedAt       time.Time                                   `gorm:"not null;index:idx_audit_cooldown,priority:4" json:"created_at"`
}

func (AuditRecord) TableName() string { return "audit_records" }

// FailedActions counts actions that did not succeed.
func (r AuditRecord) FailedActions() int {
	n := 0
	for _, a := range r.Actions {
		if !a.Success {
			n++
		}
	}
	return n
}

// Resolution is the only mutation allowed on a stored record.
type Resolution struct {
	ResolvedBy string
	Notes      string
	ResolvedAt time.Time
}

// QueryFilter selects trigger history for the cooldown gate. Results are most recent first.
type QueryFilter struct {
	EntityID  string
	RuleID    string
	SubjectID *string
	Since     time.Time
	Limit     int
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	EntityID string
	Source   Source
	Resolved *bool
	Cursor   *AuditCursor
	Limit    int
}

var (
	ErrNotFound        = errors.New("audit_record_not_found")
	ErrAlreadyResolved = errors.New("audit_record_already_resolved")
	ErrInvalidRecord   = errors.New("invalid_audit_record")
	ErrInvalidResolver = errors.New("invalid_resolver")
)
