package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/creatorops/internal/condition"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	"github.com/smallbiznis/creatorops/internal/registry/domain"
	"gorm.io/datatypes"
)

func (r *Registry) ListRules(ctx context.Context) ([]domain.Rule, error) {
	rules, _, err := r.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *Registry) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	doc, err := r.store.Get(ctx, domain.KindRule, strings.TrimSpace(id))
	if err != nil {
		return domain.Rule{}, err
	}
	if doc == nil {
		return domain.Rule{}, domain.ErrNotFound
	}
	return domain.DecodeRule(doc.Key, doc.Body)
}

func (r *Registry) CreateRule(ctx context.Context, in domain.RuleInput) (domain.Rule, error) {
	id := makeID(in.ID, in.Name)
	if id == "" {
		return domain.Rule{}, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	if err := r.ensureAbsent(ctx, domain.KindRule, id); err != nil {
		return domain.Rule{}, err
	}

	cond, err := decodeCondition(in.Condition)
	if err != nil {
		return domain.Rule{}, err
	}
	actions, err := decodeActions(in.Actions)
	if err != nil {
		return domain.Rule{}, err
	}

	now := r.now()
	rule := domain.Rule{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Trigger:     in.Trigger,
		Event:       strings.TrimSpace(in.Event),
		Condition:   cond,
		Actions:     actions,
		Cooldown:    seconds(in.CooldownSeconds),
		Active:      boolOr(in.Active, true),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rule.Trigger == "" {
		rule.Trigger = domain.TriggerCondition
	}
	if err := domain.ValidateRule(rule); err != nil {
		return domain.Rule{}, err
	}
	if err := r.putRule(ctx, rule); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

func (r *Registry) UpdateRule(ctx context.Context, id string, patch domain.RulePatch) (domain.Rule, error) {
	rule, err := r.GetRule(ctx, id)
	if err != nil {
		return domain.Rule{}, err
	}

	if patch.Name != nil {
		rule.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		rule.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Trigger != nil {
		rule.Trigger = *patch.Trigger
	}
	if patch.Event != nil {
		rule.Event = strings.TrimSpace(*patch.Event)
	}
	if present(patch.Condition) {
		cond, err := decodeCondition(patch.Condition)
		if err != nil {
			return domain.Rule{}, err
		}
		rule.Condition = cond
	}
	if present(patch.Actions) {
		actions, err := decodeActions(patch.Actions)
		if err != nil {
			return domain.Rule{}, err
		}
		rule.Actions = actions
	}
	if patch.CooldownSeconds != nil {
		rule.Cooldown = seconds(*patch.CooldownSeconds)
	}
	if patch.Active != nil {
		rule.Active = *patch.Active
	}
	rule.UpdatedAt = r.now()

	if err := domain.ValidateRule(rule); err != nil {
		return domain.Rule{}, err
	}
	if err := r.putRule(ctx, rule); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

// DeleteRule deactivates the rule. Rules are never removed from the store.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	active := false
	_, err := r.UpdateRule(ctx, id, domain.RulePatch{Active: &active})
	return err
}

func (r *Registry) ToggleRule(ctx context.Context, id string) (domain.Rule, error) {
	rule, err := r.GetRule(ctx, id)
	if err != nil {
		return domain.Rule{}, err
	}
	active := !rule.Active
	return r.UpdateRule(ctx, id, domain.RulePatch{Active: &active})
}

func (r *Registry) ListLevels(ctx context.Context) ([]domain.EscalationLevel, error) {
	levels, _, err := r.loadLevels(ctx)
	if err != nil {
		return nil, err
	}
	return levels, nil
}

func (r *Registry) GetLevel(ctx context.Context, id string) (domain.EscalationLevel, error) {
	doc, err := r.store.Get(ctx, domain.KindEscalationLevel, strings.TrimSpace(id))
	if err != nil {
		return domain.EscalationLevel{}, err
	}
	if doc == nil {
		return domain.EscalationLevel{}, domain.ErrNotFound
	}
	return domain.DecodeLevel(doc.Key, doc.Body)
}

func (r *Registry) CreateLevel(ctx context.Context, in domain.LevelInput) (domain.EscalationLevel, error) {
	id := makeID(in.ID, in.Name)
	if id == "" {
		return domain.EscalationLevel{}, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	if err := r.ensureAbsent(ctx, domain.KindEscalationLevel, id); err != nil {
		return domain.EscalationLevel{}, err
	}
	actions, err := decodeActions(in.Actions)
	if err != nil {
		return domain.EscalationLevel{}, err
	}

	now := r.now()
	level := domain.EscalationLevel{
		ID:         id,
		Name:       strings.TrimSpace(in.Name),
		Severity:   in.Severity,
		Thresholds: in.Thresholds,
		Actions:    actions,
		Cooldown:   seconds(in.CooldownSeconds),
		Active:     boolOr(in.Active, true),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := domain.ValidateLevel(level); err != nil {
		return domain.EscalationLevel{}, err
	}
	if err := r.checkLevelChange(ctx, level, nil); err != nil {
		return domain.EscalationLevel{}, err
	}
	if err := r.putLevel(ctx, level); err != nil {
		return domain.EscalationLevel{}, err
	}
	return level, nil
}

// UpdateLevel replaces Thresholds wholesale when given. Use
// SetThresholdOverrides for per-category changes.
func (r *Registry) UpdateLevel(ctx context.Context, id string, patch domain.LevelPatch) (domain.EscalationLevel, error) {
	level, err := r.GetLevel(ctx, id)
	if err != nil {
		return domain.EscalationLevel{}, err
	}

	if patch.Name != nil {
		level.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Severity != nil {
		level.Severity = *patch.Severity
	}
	if patch.Thresholds != nil {
		level.Thresholds = patch.Thresholds
	}
	if present(patch.Actions) {
		actions, err := decodeActions(patch.Actions)
		if err != nil {
			return domain.EscalationLevel{}, err
		}
		level.Actions = actions
	}
	if patch.CooldownSeconds != nil {
		level.Cooldown = seconds(*patch.CooldownSeconds)
	}
	if patch.Active != nil {
		level.Active = *patch.Active
	}
	level.UpdatedAt = r.now()

	if err := domain.ValidateLevel(level); err != nil {
		return domain.EscalationLevel{}, err
	}
	if err := r.checkLevelChange(ctx, level, nil); err != nil {
		return domain.EscalationLevel{}, err
	}
	if err := r.putLevel(ctx, level); err != nil {
		return domain.EscalationLevel{}, err
	}
	return level, nil
}

func (r *Registry) DeleteLevel(ctx context.Context, id string) error {
	active := false
	_, err := r.UpdateLevel(ctx, id, domain.LevelPatch{Active: &active})
	return err
}

func (r *Registry) ToggleLevel(ctx context.Context, id string) (domain.EscalationLevel, error) {
	level, err := r.GetLevel(ctx, id)
	if err != nil {
		return domain.EscalationLevel{}, err
	}
	active := !level.Active
	return r.UpdateLevel(ctx, id, domain.LevelPatch{Active: &active})
}

// SetThresholdOverrides merges overrides into the level's stored overrides
// per category and returns the merged set. Categories not named keep their
// previous override or the level's own threshold.
func (r *Registry) SetThresholdOverrides(ctx context.Context, levelID string, overrides map[string]float64) (map[string]float64, error) {
	level, err := r.GetLevel(ctx, levelID)
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return nil, fmt.Errorf("%w: no thresholds given", domain.ErrInvalidInput)
	}
	if err := domain.ValidateThresholds(overrides); err != nil {
		return nil, err
	}

	existing, err := r.storedOverrides(ctx, level.ID)
	if err != nil {
		return nil, err
	}
	merged := domain.MergeThresholds(existing, overrides)
	if err := r.checkLevelChange(ctx, level, merged); err != nil {
		return nil, err
	}

	body, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	now := r.now()
	err = r.store.Put(ctx, domain.Document{
		Kind:      domain.KindThresholdOverride,
		Key:       level.ID,
		Body:      datatypes.JSON(body),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *Registry) ListTriggers(ctx context.Context) ([]domain.LifecycleTrigger, error) {
	triggers, _, err := r.loadTriggers(ctx)
	if err != nil {
		return nil, err
	}
	return triggers, nil
}

func (r *Registry) CreateTrigger(ctx context.Context, in domain.TriggerInput) (domain.LifecycleTrigger, error) {
	id := makeID(in.ID, in.Stage+" "+strconv.FormatInt(in.DelaySeconds, 10)+"s")
	if strings.TrimSpace(in.Stage) == "" {
		return domain.LifecycleTrigger{}, fmt.Errorf("%w: stage is required", domain.ErrInvalidInput)
	}
	if err := r.ensureAbsent(ctx, domain.KindLifecycleTrigger, id); err != nil {
		return domain.LifecycleTrigger{}, err
	}
	actions, err := decodeActions(in.Actions)
	if err != nil {
		return domain.LifecycleTrigger{}, err
	}

	now := r.now()
	trigger := domain.LifecycleTrigger{
		ID:        id,
		Stage:     strings.TrimSpace(in.Stage),
		Delay:     seconds(in.DelaySeconds),
		Actions:   actions,
		Active:    boolOr(in.Active, true),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := domain.ValidateTrigger(trigger); err != nil {
		return domain.LifecycleTrigger{}, err
	}
	if err := r.putTrigger(ctx, trigger); err != nil {
		return domain.LifecycleTrigger{}, err
	}
	return trigger, nil
}

func (r *Registry) UpdateTrigger(ctx context.Context, id string, patch domain.TriggerPatch) (domain.LifecycleTrigger, error) {
	doc, err := r.store.Get(ctx, domain.KindLifecycleTrigger, strings.TrimSpace(id))
	if err != nil {
		return domain.LifecycleTrigger{}, err
	}
	if doc == nil {
		return domain.LifecycleTrigger{}, domain.ErrNotFound
	}
	trigger, err := domain.DecodeTrigger(doc.Key, doc.Body)
	if err != nil {
		return domain.LifecycleTrigger{}, err
	}

	if patch.Stage != nil {
		trigger.Stage = strings.TrimSpace(*patch.Stage)
	}
	if patch.DelaySeconds != nil {
		trigger.Delay = seconds(*patch.DelaySeconds)
	}
	if present(patch.Actions) {
		actions, err := decodeActions(patch.Actions)
		if err != nil {
			return domain.LifecycleTrigger{}, err
		}
		trigger.Actions = actions
	}
	if patch.Active != nil {
		trigger.Active = *patch.Active
	}
	trigger.UpdatedAt = r.now()

	if err := domain.ValidateTrigger(trigger); err != nil {
		return domain.LifecycleTrigger{}, err
	}
	if err := r.putTrigger(ctx, trigger); err != nil {
		return domain.LifecycleTrigger{}, err
	}
	return trigger, nil
}

// checkLevelChange fails when saving candidate (with optional replacement
// overrides) would break threshold ordering for a level that is valid today.
func (r *Registry) checkLevelChange(ctx context.Context, candidate domain.EscalationLevel, candidateOverrides map[string]float64) error {
	levels, _, err := r.loadLevels(ctx)
	if err != nil {
		return err
	}
	overrides, _, err := r.loadOverrides(ctx)
	if err != nil {
		return err
	}
	_, before := checkLevelOrdering(levels, overrides)
	rejectedBefore := map[string]struct{}{}
	for _, e := range before {
		if cfgErr, ok := e.(*domain.ConfigurationError); ok {
			rejectedBefore[cfgErr.ID] = struct{}{}
		}
	}

	next := make([]domain.EscalationLevel, 0, len(levels)+1)
	for _, l := range levels {
		if l.ID != candidate.ID {
			next = append(next, l)
		}
	}
	next = append(next, candidate)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Severity < next[j].Severity })
	if candidateOverrides != nil {
		overrides[candidate.ID] = candidateOverrides
	}

	_, after := checkLevelOrdering(next, overrides)
	for _, e := range after {
		cfgErr, ok := e.(*domain.ConfigurationError)
		if !ok {
			continue
		}
		if _, known := rejectedBefore[cfgErr.ID]; known && cfgErr.ID != candidate.ID {
			continue
		}
		return fmt.Errorf("%w: level %q: %s", domain.ErrInvalidInput, cfgErr.ID, cfgErr.Reason)
	}
	return nil
}

func (r *Registry) storedOverrides(ctx context.Context, levelID string) (map[string]float64, error) {
	doc, err := r.store.Get(ctx, domain.KindThresholdOverride, levelID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return map[string]float64{}, nil
	}
	out := map[string]float64{}
	if err := json.Unmarshal(doc.Body, &out); err != nil {
		// A corrupt override document is replaced by the new one.
		return map[string]float64{}, nil
	}
	return out, nil
}

func (r *Registry) ensureAbsent(ctx context.Context, kind domain.DocumentKind, id string) error {
	doc, err := r.store.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if doc != nil {
		return domain.ErrAlreadyExist
	}
	return nil
}

func (r *Registry) putRule(ctx context.Context, rule domain.Rule) error {
	body, err := domain.EncodeRule(rule)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, domain.Document{
		Kind:      domain.KindRule,
		Key:       rule.ID,
		Body:      datatypes.JSON(body),
		CreatedAt: rule.CreatedAt,
		UpdatedAt: rule.UpdatedAt,
	})
}

func (r *Registry) putLevel(ctx context.Context, level domain.EscalationLevel) error {
	body, err := domain.EncodeLevel(level)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, domain.Document{
		Kind:      domain.KindEscalationLevel,
		Key:       level.ID,
		Body:      datatypes.JSON(body),
		CreatedAt: level.CreatedAt,
		UpdatedAt: level.UpdatedAt,
	})
}

func (r *Registry) putTrigger(ctx context.Context, trigger domain.LifecycleTrigger) error {
	body, err := domain.EncodeTrigger(trigger)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, domain.Document{
		Kind:      domain.KindLifecycleTrigger,
		Key:       trigger.ID,
		Body:      datatypes.JSON(body),
		CreatedAt: trigger.CreatedAt,
		UpdatedAt: trigger.UpdatedAt,
	})
}

func (r *Registry) now() time.Time {
	return r.clock.Now().UTC()
}

func makeID(id, fallback string) string {
	if v := strings.TrimSpace(id); v != "" {
		return slug.Make(v)
	}
	return slug.Make(strings.TrimSpace(fallback))
}

func decodeCondition(raw json.RawMessage) (condition.Condition, error) {
	if !present(raw) {
		return nil, nil
	}
	cond, err := condition.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return cond, nil
}

func decodeActions(raw json.RawMessage) ([]dispatch.Action, error) {
	actions, err := dispatch.DecodeActions(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return actions, nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func seconds(v int64) time.Duration {
	return time.Duration(v) * time.Second
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
