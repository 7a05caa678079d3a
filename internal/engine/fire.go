package engine

import (
	"context"
	"fmt"
	"time"

	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/cooldown"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type firing struct {
	key      cooldown.Key
	cooldown time.Duration
	actions  []dispatch.Action
	source   auditdomain.Source
	ruleName string
	levelID  string
	snapshot snapshotdomain.Snapshot
}

// fire runs gate, dispatch and audit for one matched key. Only gate reads
// and the audit write can fail the evaluation.
func (e *Engine) fire(ctx context.Context, result *EvaluationResult, f firing) error {
	release, locked := e.lock(ctx, f.key)
	if !locked {
		e.metrics.IncLockSkip()
		result.Skipped = append(result.Skipped, Skip{RuleID: f.key.RuleID, SubjectID: f.key.SubjectID, Reason: SkipLocked})
		return nil
	}
	defer release()

	decision, err := e.gate.Check(ctx, f.key, f.cooldown)
	if err != nil {
		return err
	}
	if !decision.Eligible {
		result.Skipped = append(result.Skipped, Skip{
			RuleID:         f.key.RuleID,
			SubjectID:      f.key.SubjectID,
			Reason:         SkipCooldown,
			NextEligibleAt: decision.NextEligibleAt,
		})
		return nil
	}

	dc := dispatch.Context{
		EntityID:  f.key.EntityID,
		RuleID:    f.key.RuleID,
		RuleName:  f.ruleName,
		SubjectID: f.key.SubjectID,
		Source:    f.source,
		Snapshot:  f.snapshot,
	}
	actions := e.dispatcher.Dispatch(ctx, dc, f.actions)

	record := &auditdomain.AuditRecord{
		EntityID:  f.key.EntityID,
		RuleID:    f.key.RuleID,
		LevelID:   f.levelID,
		SubjectID: f.key.SubjectID,
		Source:    f.source,
		Snapshot:  datatypes.NewJSONType(f.snapshot),
		Actions:   datatypes.JSONSlice[auditdomain.ActionRecord](actions),
	}
	if err := e.audit.Append(ctx, record); err != nil {
		e.log.Error("audit write failed after dispatch",
			zap.String("entity_id", f.key.EntityID),
			zap.String("rule_id", f.key.RuleID),
			zap.String("subject_id", f.key.SubjectID),
			zap.Error(err),
		)
		return fmt.Errorf("record trigger %s: %w", f.key, err)
	}

	e.metrics.IncTrigger(string(f.source))
	e.otel.RecordTrigger(ctx, string(f.source), f.key.RuleID)
	e.log.Info("engine.rule.triggered",
		zap.String("entity_id", f.key.EntityID),
		zap.String("rule_id", f.key.RuleID),
		zap.String("subject_id", f.key.SubjectID),
		zap.String("source", string(f.source)),
		zap.Int("failed_actions", record.FailedActions()),
	)
	result.Triggered = append(result.Triggered, Trigger{
		Source:        f.source,
		RuleID:        f.key.RuleID,
		RuleName:      f.ruleName,
		LevelID:       f.levelID,
		SubjectID:     f.key.SubjectID,
		AuditID:       record.ID.String(),
		FailedActions: record.FailedActions(),
	})
	return nil
}

// lock takes the optional cross-process lock for key. It reports false only
// when another worker holds it; redis errors fall back to running unlocked.
func (e *Engine) lock(ctx context.Context, key cooldown.Key) (func(), bool) {
	noop := func() {}
	lockCfg := e.cfg.Get().Lock
	if e.locker == nil || !lockCfg.Enabled {
		return noop, true
	}

	token, ok, err := e.locker.TryLock(ctx, key, lockCfg.TTL)
	if err != nil {
		e.log.Warn("cooldown lock unavailable, continuing without it",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		if err := e.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			e.log.Warn("failed to release cooldown lock", zap.String("key", key.String()), zap.Error(err))
		}
	}, true
}
