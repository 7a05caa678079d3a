package domain

import (
	"context"
	"encoding/json"
)

// RuleInput creates a rule. ID is derived from Name when empty.
type RuleInput struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Trigger         TriggerKind     `json:"trigger"`
	Event           string          `json:"event"`
	Condition       json.RawMessage `json:"condition"`
	Actions         json.RawMessage `json:"actions"`
	CooldownSeconds int64           `json:"cooldown_seconds"`
	Active          *bool           `json:"active"`
}

// RulePatch updates a rule. Nil fields are left unchanged; id and created_at
// cannot be patched.
type RulePatch struct {
	Name            *string         `json:"name"`
	Description     *string         `json:"description"`
	Trigger         *TriggerKind    `json:"trigger"`
	Event           *string         `json:"event"`
	Condition       json.RawMessage `json:"condition"`
	Actions         json.RawMessage `json:"actions"`
	CooldownSeconds *int64          `json:"cooldown_seconds"`
	Active          *bool           `json:"active"`
}

type LevelInput struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Severity        int                `json:"severity"`
	Thresholds      map[string]float64 `json:"thresholds"`
	Actions         json.RawMessage    `json:"actions"`
	CooldownSeconds int64              `json:"cooldown_seconds"`
	Active          *bool              `json:"active"`
}

type LevelPatch struct {
	Name            *string            `json:"name"`
	Severity        *int               `json:"severity"`
	Thresholds      map[string]float64 `json:"thresholds"`
	Actions         json.RawMessage    `json:"actions"`
	CooldownSeconds *int64             `json:"cooldown_seconds"`
	Active          *bool              `json:"active"`
}

type TriggerInput struct {
	ID           string          `json:"id"`
	Stage        string          `json:"stage"`
	DelaySeconds int64           `json:"delay_seconds"`
	Actions      json.RawMessage `json:"actions"`
	Active       *bool           `json:"active"`
}

type TriggerPatch struct {
	Stage        *string         `json:"stage"`
	DelaySeconds *int64          `json:"delay_seconds"`
	Actions      json.RawMessage `json:"actions"`
	Active       *bool           `json:"active"`
}

// Service owns the cached registry configuration and its persisted documents.
// Writes reach evaluations only after Reload.
type Service interface {
	Load(ctx context.Context) error
	Reload(ctx context.Context) (*Config, error)
	Snapshot() *Config
	PublishReload(ctx context.Context) error

	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id string) (Rule, error)
	CreateRule(ctx context.Context, in RuleInput) (Rule, error)
	UpdateRule(ctx context.Context, id string, patch RulePatch) (Rule, error)
	DeleteRule(ctx context.Context, id string) error
	ToggleRule(ctx context.Context, id string) (Rule, error)

	ListLevels(ctx context.Context) ([]EscalationLevel, error)
	GetLevel(ctx context.Context, id string) (EscalationLevel, error)
	CreateLevel(ctx context.Context, in LevelInput) (EscalationLevel, error)
	UpdateLevel(ctx context.Context, id string, patch LevelPatch) (EscalationLevel, error)
	DeleteLevel(ctx context.Context, id string) error
	ToggleLevel(ctx context.Context, id string) (EscalationLevel, error)
	SetThresholdOverrides(ctx context.Context, levelID string, overrides map[string]float64) (map[string]float64, error)

	ListTriggers(ctx context.Context) ([]LifecycleTrigger, error)
	CreateTrigger(ctx context.Context, in TriggerInput) (LifecycleTrigger, error)
	UpdateTrigger(ctx context.Context, id string, patch TriggerPatch) (LifecycleTrigger, error)
}
