// Package dispatch executes a rule's declared actions against external collaborators.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/config"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	"github.com/smallbiznis/creatorops/internal/providers/notify"
	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	taskdomain "github.com/smallbiznis/creatorops/internal/task/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ActionExecutionError is one failed action. It is recorded, never returned by Dispatch.
type ActionExecutionError struct {
	Kind Kind
	Err  error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Kind, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

var (
	ErrNoAdminRecipients = errors.New("no_admin_recipients")
	ErrEntityHasNoEmail  = errors.New("entity_has_no_email")
	ErrUnknownAction     = errors.New("unknown_action_kind")
)

// Context carries what handlers may reference.
type Context struct {
	EntityID  string
	RuleID    string
	RuleName  string
	SubjectID string
	Source    auditdomain.Source
	Snapshot  snapshotdomain.Snapshot
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Notify   notify.Gateway
	Tasks    taskdomain.Store
	Entities entitydomain.Service
	Metrics  *obsmetrics.EngineMetrics `optional:"true"`
	OTel     *obsmetrics.Metrics       `optional:"true"`
}

type Dispatcher struct {
	log      *zap.Logger
	clock    clock.Clock
	admin    config.AdminConfig
	notify   notify.Gateway
	tasks    taskdomain.Store
	entities entitydomain.Service
	metrics  *obsmetrics.EngineMetrics
	otel     *obsmetrics.Metrics
}

func New(p Params) *Dispatcher {
	return &Dispatcher{
		log:      p.Log.Named("dispatch"),
		clock:    p.Clock,
		admin:    p.Config.Admin,
		notify:   p.Notify,
		tasks:    p.Tasks,
		entities: p.Entities,
		metrics:  p.Metrics,
		otel:     p.OTel,
	}
}

// Dispatch runs every action in order and returns one record per action.
// A failing or panicking handler never stops the remaining actions.
// Deduplication is the cooldown gate's job, not the dispatcher's.
func (d *Dispatcher) Dispatch(ctx context.Context, dc Context, actions []Action) []auditdomain.ActionRecord {
	records := make([]auditdomain.ActionRecord, 0, len(actions))
	for _, a := range actions {
		rec := d.run(ctx, dc, a)
		d.metrics.IncAction(rec.Kind, rec.Success)
		d.otel.RecordAction(ctx, rec.Kind, rec.Success)
		if !rec.Success {
			d.log.Warn("action failed",
				zap.String("entity_id", dc.EntityID),
				zap.String("rule_id", dc.RuleID),
				zap.String("action", rec.Kind),
				zap.String("error", rec.Error),
			)
		}
		records = append(records, rec)
	}
	return records
}

func (d *Dispatcher) run(ctx context.Context, dc Context, a Action) (rec auditdomain.ActionRecord) {
	kind := Kind("unknown")
	if a != nil {
		kind = a.Kind()
	}
	rec = auditdomain.ActionRecord{Kind: string(kind), ExecutedAt: d.clock.Now()}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("action panicked",
				zap.String("action", string(kind)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			rec.Success = false
			rec.Result = nil
			rec.Error = (&ActionExecutionError{Kind: kind, Err: fmt.Errorf("panic: %v", r)}).Error()
		}
	}()

	var (
		result map[string]any
		err    error
	)
	switch a := a.(type) {
	case NotifyAdmin:
		result, err = d.notifyAdmin(ctx, dc, a)
	case NotifyEntity:
		result, err = d.notifyEntity(ctx, dc, a)
	case CreateFollowUpTask:
		result, err = d.createTask(ctx, dc, a)
	case LogEvent:
		result, err = d.logEvent(dc, a)
	case UpdateEntityStatus:
		err = d.entities.UpdateStatus(ctx, dc.EntityID, entitydomain.Status(a.Status))
		result = map[string]any{"status": a.Status}
	case BoostPriority:
		var priority int
		priority, err = d.entities.BoostPriority(ctx, dc.EntityID, a.By)
		result = map[string]any{"priority": priority}
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}

	if err != nil {
		rec.Error = (&ActionExecutionError{Kind: kind, Err: err}).Error()
		return rec
	}
	rec.Success = true
	rec.Result = result
	return rec
}

func (d *Dispatcher) notifyAdmin(ctx context.Context, dc Context, a NotifyAdmin) (map[string]any, error) {
	var targets []notify.Target
	if (a.Channel == "" || a.Channel == string(notify.ChannelSlack)) && d.admin.SlackChannel != "" {
		targets = append(targets, notify.Target{Channel: notify.ChannelSlack, Recipients: []string{d.admin.SlackChannel}})
	}
	if (a.Channel == "" || a.Channel == string(notify.ChannelEmail)) && len(d.admin.Emails) > 0 {
		targets = append(targets, notify.Target{Channel: notify.ChannelEmail, Recipients: d.admin.Emails})
	}
	if len(targets) == 0 {
		return nil, ErrNoAdminRecipients
	}

	payload := d.payload(dc, a.Subject, a.Message)
	deliveries := make([]any, 0, len(targets))
	var errs []error
	for _, target := range targets {
		ack, err := d.notify.Send(ctx, target, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Channel, err))
			continue
		}
		deliveries = append(deliveries, ack.DeliveryID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return map[string]any{"deliveries": deliveries}, nil
}

func (d *Dispatcher) notifyEntity(ctx context.Context, dc Context, a NotifyEntity) (map[string]any, error) {
	entity, err := d.entities.Get(ctx, dc.EntityID)
	if err != nil {
		return nil, err
	}
	address := strings.TrimSpace(entity.Email)
	if address == "" {
		return nil, ErrEntityHasNoEmail
	}
	ack, err := d.notify.Send(ctx,
		notify.Target{Channel: notify.ChannelEmail, Recipients: []string{address}},
		d.payload(dc, a.Subject, a.Message),
	)
	if err != nil {
		return nil, err
	}
	return map[string]any{"delivery_id": ack.DeliveryID, "to": address}, nil
}

func (d *Dispatcher) createTask(ctx context.Context, dc Context, a CreateFollowUpTask) (map[string]any, error) {
	task := taskdomain.Task{
		EntityID:    dc.EntityID,
		RuleID:      dc.RuleID,
		Title:       Expand(a.Title, dc),
		Description: Expand(a.Description, dc),
		Assignee:    a.Assignee,
		Priority:    a.Priority,
		Payload: map[string]any{
			"source":     string(dc.Source),
			"subject_id": dc.SubjectID,
		},
	}
	if a.DueIn > 0 {
		due := d.clock.Now().Add(a.DueIn)
		task.DueAt = &due
	}
	id, err := d.tasks.Create(ctx, task)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": id}, nil
}

func (d *Dispatcher) logEvent(dc Context, a LogEvent) (map[string]any, error) {
	fields := []zap.Field{
		zap.String("event", a.Event),
		zap.String("entity_id", dc.EntityID),
		zap.String("rule_id", dc.RuleID),
	}
	msg := Expand(a.Message, dc)
	if msg == "" {
		msg = a.Event
	}
	switch a.Level {
	case "warn":
		d.log.Warn(msg, fields...)
	case "error":
		d.log.Error(msg, fields...)
	default:
		d.log.Info(msg, fields...)
	}
	d.metrics.IncLogEvent(a.Event)
	return map[string]any{"event": a.Event}, nil
}

func (d *Dispatcher) payload(dc Context, subject, message string) notify.Payload {
	subject = Expand(subject, dc)
	if subject == "" {
		subject = dc.RuleName
	}
	return notify.Payload{
		Subject: subject,
		Body:    Expand(message, dc),
		Metadata: map[string]string{
			"entity_id": dc.EntityID,
			"rule_id":   dc.RuleID,
		},
	}
}
