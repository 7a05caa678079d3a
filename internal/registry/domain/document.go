package domain

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

type DocumentKind string

const (
	KindRule              DocumentKind = "rule"
	KindEscalationLevel   DocumentKind = "escalation_level"
	KindThresholdOverride DocumentKind = "threshold_override"
	KindLifecycleTrigger  DocumentKind = "lifecycle_trigger"
)

// Document is one persisted configuration item keyed by (kind, key).
type Document struct {
	Kind      DocumentKind   `gorm:"primaryKey;size:32" json:"kind"`
	Key       string         `gorm:"column:doc_key;primaryKey;size:128" json:"key"`
	Body      datatypes.JSON `gorm:"not null" json:"body"`
	Version   int            `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string { return "config_documents" }

// ConfigStore persists configuration documents.
type ConfigStore interface {
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, kind DocumentKind, key string) (*Document, error)
	// Put inserts or replaces the document body and bumps its version.
	Put(ctx context.Context, doc Document) error
	List(ctx context.Context, kind DocumentKind) ([]Document, error)
	Count(ctx context.Context, kind DocumentKind) (int64, error)
}
