package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/creatorops/internal/condition"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
)

type ruleBody struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Trigger         TriggerKind     `json:"trigger"`
	Event           string          `json:"event,omitempty"`
	Condition       json.RawMessage `json:"condition,omitempty"`
	Actions         json.RawMessage `json:"actions"`
	CooldownSeconds int64           `json:"cooldown_seconds"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type levelBody struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Severity        int                `json:"severity"`
	Thresholds      map[string]float64 `json:"thresholds"`
	Actions         json.RawMessage    `json:"actions"`
	CooldownSeconds int64              `json:"cooldown_seconds"`
	Active          bool               `json:"active"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type triggerBody struct {
	ID           string          `json:"id"`
	Stage        string          `json:"stage"`
	DelaySeconds int64           `json:"delay_seconds"`
	Actions      json.RawMessage `json:"actions"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func configErr(kind DocumentKind, id string, err error) error {
	return &ConfigurationError{Kind: string(kind), ID: id, Reason: err.Error(), Err: err}
}

func EncodeRule(r Rule) ([]byte, error) {
	var cond json.RawMessage
	if r.Condition != nil {
		encoded, err := condition.Encode(r.Condition)
		if err != nil {
			return nil, err
		}
		cond = encoded
	}
	actions, err := dispatch.EncodeActions(r.Actions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleBody{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Trigger:         r.Trigger,
		Event:           r.Event,
		Condition:       cond,
		Actions:         actions,
		CooldownSeconds: int64(r.Cooldown / time.Second),
		Active:          r.Active,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	})
}

// DecodeRule parses and validates a rule document. Failures are ConfigurationErrors.
func DecodeRule(key string, raw []byte) (Rule, error) {
	var body ruleBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Rule{}, configErr(KindRule, key, err)
	}
	if body.ID == "" {
		body.ID = key
	}
	r := Rule{
		ID:          body.ID,
		Name:        body.Name,
		Description: body.Description,
		Trigger:     body.Trigger,
		Event:       body.Event,
		Cooldown:    time.Duration(body.CooldownSeconds) * time.Second,
		Active:      body.Active,
		CreatedAt:   body.CreatedAt,
		UpdatedAt:   body.UpdatedAt,
	}
	if r.Trigger == "" {
		r.Trigger = TriggerCondition
	}
	if len(body.Condition) > 0 && string(body.Condition) != "null" {
		cond, err := condition.Decode(body.Condition)
		if err != nil {
			return Rule{}, configErr(KindRule, r.ID, err)
		}
		r.Condition = cond
	}
	actions, err := dispatch.DecodeActions(body.Actions)
	if err != nil {
		return Rule{}, configErr(KindRule, r.ID, err)
	}
	r.Actions = actions
	if err := ValidateRule(r); err != nil {
		return Rule{}, configErr(KindRule, r.ID, err)
	}
	return r, nil
}

// ValidateRule checks a rule independent of how it was built.
func ValidateRule(r Rule) error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case !r.Trigger.Valid():
		return fmt.Errorf("%w: unknown trigger %q", ErrInvalidInput, r.Trigger)
	case r.Trigger == TriggerEvent && strings.TrimSpace(r.Event) == "":
		return fmt.Errorf("%w: event rules need an event name", ErrInvalidInput)
	case r.Trigger != TriggerEvent && r.Condition == nil:
		return fmt.Errorf("%w: condition is required", ErrInvalidInput)
	case r.Cooldown < 0:
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidInput)
	case len(r.Actions) == 0:
		return fmt.Errorf("%w: at least one action is required", ErrInvalidInput)
	}
	return dispatch.ValidateActions(r.Actions)
}

func EncodeLevel(l EscalationLevel) ([]byte, error) {
	actions, err := dispatch.EncodeActions(l.Actions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(levelBody{
		ID:              l.ID,
		Name:            l.Name,
		Severity:        l.Severity,
		Thresholds:      l.Thresholds,
		Actions:         actions,
		CooldownSeconds: int64(l.Cooldown / time.Second),
		Active:          l.Active,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	})
}

func DecodeLevel(key string, raw []byte) (EscalationLevel, error) {
	var body levelBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return EscalationLevel{}, configErr(KindEscalationLevel, key, err)
	}
	if body.ID == "" {
		body.ID = key
	}
	actions, err := dispatch.DecodeActions(body.Actions)
	if err != nil {
		return EscalationLevel{}, configErr(KindEscalationLevel, body.ID, err)
	}
	l := EscalationLevel{
		ID:         body.ID,
		Name:       body.Name,
		Severity:   body.Severity,
		Thresholds: body.Thresholds,
		Actions:    actions,
		Cooldown:   time.Duration(body.CooldownSeconds) * time.Second,
		Active:     body.Active,
		CreatedAt:  body.CreatedAt,
		UpdatedAt:  body.UpdatedAt,
	}
	if err := ValidateLevel(l); err != nil {
		return EscalationLevel{}, configErr(KindEscalationLevel, l.ID, err)
	}
	return l, nil
}

func ValidateLevel(l EscalationLevel) error {
	switch {
	case strings.TrimSpace(l.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	case strings.TrimSpace(l.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case l.Severity <= 0:
		return fmt.Errorf("%w: severity must be positive", ErrInvalidInput)
	case len(l.Thresholds) == 0:
		return fmt.Errorf("%w: at least one threshold is required", ErrInvalidInput)
	case l.Cooldown < 0:
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidInput)
	}
	if err := ValidateThresholds(l.Thresholds); err != nil {
		return err
	}
	return dispatch.ValidateActions(l.Actions)
}

func ValidateThresholds(thresholds map[string]float64) error {
	for category, hours := range thresholds {
		if strings.TrimSpace(category) == "" {
			return fmt.Errorf("%w: empty status category", ErrInvalidInput)
		}
		if hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
			return fmt.Errorf("%w: threshold for %q must be a non-negative number", ErrInvalidInput, category)
		}
	}
	return nil
}

func EncodeTrigger(t LifecycleTrigger) ([]byte, error) {
	actions, err := dispatch.EncodeActions(t.Actions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(triggerBody{
		ID:           t.ID,
		Stage:        t.Stage,
		DelaySeconds: int64(t.Delay / time.Second),
		Actions:      actions,
		Active:       t.Active,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	})
}

func DecodeTrigger(key string, raw []byte) (LifecycleTrigger, error) {
	var body triggerBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return LifecycleTrigger{}, configErr(KindLifecycleTrigger, key, err)
	}
	if body.ID == "" {
		body.ID = key
	}
	actions, err := dispatch.DecodeActions(body.Actions)
	if err != nil {
		return LifecycleTrigger{}, configErr(KindLifecycleTrigger, body.ID, err)
	}
	t := LifecycleTrigger{
		ID:        body.ID,
		Stage:     body.Stage,
		Delay:     time.Duration(body.DelaySeconds) * time.Second,
		Actions:   actions,
		Active:    body.Active,
		CreatedAt: body.CreatedAt,
		UpdatedAt: body.UpdatedAt,
	}
	if err := ValidateTrigger(t); err != nil {
		return LifecycleTrigger{}, configErr(KindLifecycleTrigger, t.ID, err)
	}
	return t, nil
}

func ValidateTrigger(t LifecycleTrigger) error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	case !lifecycledomain.Stage(t.Stage).Valid():
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, t.Stage)
	case t.Delay < 0:
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidInput)
	case len(t.Actions) == 0:
		return fmt.Errorf("%w: at least one action is required", ErrInvalidInput)
	}
	return dispatch.ValidateActions(t.Actions)
}

func (r Rule) MarshalJSON() ([]byte, error)             { return EncodeRule(r) }
func (l EscalationLevel) MarshalJSON() ([]byte, error)  { return EncodeLevel(l) }
func (t LifecycleTrigger) MarshalJSON() ([]byte, error) { return EncodeTrigger(t) }
