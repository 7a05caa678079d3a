package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/smallbiznis/creatorops/internal/condition"
	"github.com/smallbiznis/creatorops/internal/dispatch"
)

// TriggerKind says when a rule is evaluated.
type TriggerKind string

const (
	TriggerCondition TriggerKind = "condition"
	TriggerTimeBased TriggerKind = "time_based"
	TriggerEvent     TriggerKind = "event"
)

func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerCondition, TriggerTimeBased, TriggerEvent:
		return true
	default:
		return false
	}
}

// Status categories an open proposal can stall in.
const (
	CategorySubmitted         = "submitted"
	CategoryUnderReview       = "under_review"
	CategoryRevisionRequested = "revision_requested"
)

// Rule is a condition tree plus the actions to run when it holds.
type Rule struct {
	ID          string
	Name        string
	Description string
	Trigger     TriggerKind
	// Event names the entity event an event-kind rule listens to, e.g. proposal.rejected.
	Event     string
	Condition condition.Condition
	Actions   []dispatch.Action
	Cooldown  time.Duration
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EscalationLevel is a severity tier for stalled proposals. Thresholds are
// hours in status per category.
type EscalationLevel struct {
	ID         string
	Name       string
	Severity   int
	Thresholds map[string]float64
	Actions    []dispatch.Action
	Cooldown   time.Duration
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LifecycleTrigger runs actions when an entity enters Stage. Triggers with a
// non-zero Delay are configuration only; an external scheduler fires them.
type LifecycleTrigger struct {
	ID        string
	Stage     string
	Delay     time.Duration
	Actions   []dispatch.Action
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config is an immutable view of the registry used for one evaluation.
type Config struct {
	Rules             []Rule
	Levels            []EscalationLevel
	Overrides         map[string]map[string]float64
	LifecycleTriggers []LifecycleTrigger
	LoadedAt          time.Time
}

// ActiveRules returns active rules of the given trigger kind.
func (c *Config) ActiveRules(kind TriggerKind) []Rule {
	if c == nil {
		return nil
	}
	var out []Rule
	for _, r := range c.Rules {
		if r.Active && r.Trigger == kind {
			out = append(out, r)
		}
	}
	return out
}

// RulesForEvent returns active event rules listening to event.
func (c *Config) RulesForEvent(event string) []Rule {
	var out []Rule
	for _, r := range c.ActiveRules(TriggerEvent) {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

func (c *Config) Rule(id string) (Rule, bool) {
	if c == nil {
		return Rule{}, false
	}
	for _, r := range c.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// ActiveLevels returns active levels ordered least to most severe.
func (c *Config) ActiveLevels() []EscalationLevel {
	if c == nil {
		return nil
	}
	var out []EscalationLevel
	for _, l := range c.Levels {
		if l.Active {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity < out[j].Severity })
	return out
}

// EffectiveThresholds merges the level's overrides over its own thresholds.
func (c *Config) EffectiveThresholds(level EscalationLevel) map[string]float64 {
	var overrides map[string]float64
	if c != nil {
		overrides = c.Overrides[level.ID]
	}
	return MergeThresholds(level.Thresholds, overrides)
}

// TriggersFor returns active lifecycle triggers for stage.
func (c *Config) TriggersFor(stage string) []LifecycleTrigger {
	if c == nil {
		return nil
	}
	var out []LifecycleTrigger
	for _, t := range c.LifecycleTriggers {
		if t.Active && t.Stage == stage {
			out = append(out, t)
		}
	}
	return out
}

// MergeThresholds shallow-merges overrides per category. Categories missing
// from overrides keep their base value.
func MergeThresholds(base, overrides map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// ConfigurationError describes a document that could not be loaded.
type ConfigurationError struct {
	Kind   string
	ID     string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.ID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

var (
	ErrNotFound     = errors.New("registry_item_not_found")
	ErrAlreadyExist = errors.New("registry_item_already_exists")
	ErrInvalidInput = errors.New("invalid_registry_input")
)
