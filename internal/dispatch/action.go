package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names an action type in persisted rule documents.
type Kind string

const (
	KindNotifyAdmin        Kind = "notify_admin"
	KindNotifyEntity       Kind = "notify_entity"
	KindCreateFollowUpTask Kind = "create_follow_up_task"
	KindLogEvent           Kind = "log_event"
	KindUpdateEntityStatus Kind = "update_entity_status"
	KindBoostPriority      Kind = "boost_priority"
)

// Action is one declared side effect. The set of implementations is closed.
type Action interface {
	Kind() Kind
	action()
}

// NotifyAdmin alerts operators. Channel is "email", "slack" or empty for both.
type NotifyAdmin struct {
	Channel string
	Subject string
	Message string
}

// NotifyEntity emails the creator.
type NotifyEntity struct {
	Subject string
	Message string
}

type CreateFollowUpTask struct {
	Title       string
	Description string
	Assignee    string
	Priority    string
	DueIn       time.Duration
}

type LogEvent struct {
	Event   string
	Level   string
	Message string
}

type UpdateEntityStatus struct {
	Status string
}

type BoostPriority struct {
	By int
}

func (NotifyAdmin) Kind() Kind        { return KindNotifyAdmin }
func (NotifyEntity) Kind() Kind       { return KindNotifyEntity }
func (CreateFollowUpTask) Kind() Kind { return KindCreateFollowUpTask }
func (LogEvent) Kind() Kind           { return KindLogEvent }
func (UpdateEntityStatus) Kind() Kind { return KindUpdateEntityStatus }
func (BoostPriority) Kind() Kind      { return KindBoostPriority }

func (NotifyAdmin) action()        {}
func (NotifyEntity) action()       {}
func (CreateFollowUpTask) action() {}
func (LogEvent) action()           {}
func (UpdateEntityStatus) action() {}
func (BoostPriority) action()      {}

var ErrInvalidAction = errors.New("invalid_action")

// wireAction is the persisted shape of every action kind.
type wireAction struct {
	Kind        Kind    `json:"kind"`
	Channel     string  `json:"channel,omitempty"`
	Subject     string  `json:"subject,omitempty"`
	Message     string  `json:"message,omitempty"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Assignee    string  `json:"assignee,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	DueInHours  float64 `json:"due_in_hours,omitempty"`
	Event       string  `json:"event,omitempty"`
	Level       string  `json:"level,omitempty"`
	Status      string  `json:"status,omitempty"`
	By          int     `json:"by,omitempty"`
}

// DecodeActions parses a persisted action list. Unknown kinds and missing
// required fields are rejected.
func DecodeActions(raw []byte) ([]Action, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var wires []wireAction
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wires); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	out := make([]Action, 0, len(wires))
	for i, w := range wires {
		a, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func EncodeActions(actions []Action) ([]byte, error) {
	wires := make([]wireAction, 0, len(actions))
	for i, a := range actions {
		w, err := toWire(a)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		wires = append(wires, w)
	}
	return json.Marshal(wires)
}

// ValidateActions applies the decode-time checks to in-memory actions.
func ValidateActions(actions []Action) error {
	for i, a := range actions {
		w, err := toWire(a)
		if err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
		if _, err := fromWire(w); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}
	return nil
}

func fromWire(w wireAction) (Action, error) {
	switch w.Kind {
	case KindNotifyAdmin:
		switch w.Channel {
		case "", "email", "slack":
		default:
			return nil, fmt.Errorf("%w: unknown notify channel %q", ErrInvalidAction, w.Channel)
		}
		if strings.TrimSpace(w.Message) == "" {
			return nil, fmt.Errorf("%w: notify_admin requires message", ErrInvalidAction)
		}
		return NotifyAdmin{Channel: w.Channel, Subject: w.Subject, Message: w.Message}, nil
	case KindNotifyEntity:
		if strings.TrimSpace(w.Message) == "" {
			return nil, fmt.Errorf("%w: notify_entity requires message", ErrInvalidAction)
		}
		return NotifyEntity{Subject: w.Subject, Message: w.Message}, nil
	case KindCreateFollowUpTask:
		if strings.TrimSpace(w.Title) == "" {
			return nil, fmt.Errorf("%w: create_follow_up_task requires title", ErrInvalidAction)
		}
		if w.DueInHours < 0 {
			return nil, fmt.Errorf("%w: due_in_hours must not be negative", ErrInvalidAction)
		}
		return CreateFollowUpTask{
			Title:       w.Title,
			Description: w.Description,
			Assignee:    w.Assignee,
			Priority:    w.Priority,
			DueIn:       time.Duration(w.DueInHours * float64(time.Hour)),
		}, nil
	case KindLogEvent:
		if strings.TrimSpace(w.Event) == "" {
			return nil, fmt.Errorf("%w: log_event requires event", ErrInvalidAction)
		}
		switch w.Level {
		case "", "info", "warn", "error":
		default:
			return nil, fmt.Errorf("%w: unknown log level %q", ErrInvalidAction, w.Level)
		}
		return LogEvent{Event: w.Event, Level: w.Level, Message: w.Message}, nil
	case KindUpdateEntityStatus:
		if strings.TrimSpace(w.Status) == "" {
			return nil, fmt.Errorf("%w: update_entity_status requires status", ErrInvalidAction)
		}
		return UpdateEntityStatus{Status: w.Status}, nil
	case KindBoostPriority:
		if w.By == 0 {
			return nil, fmt.Errorf("%w: boost_priority requires a non-zero by", ErrInvalidAction)
		}
		return BoostPriority{By: w.By}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, w.Kind)
	}
}

func toWire(a Action) (wireAction, error) {
	switch a := a.(type) {
	case NotifyAdmin:
		return wireAction{Kind: KindNotifyAdmin, Channel: a.Channel, Subject: a.Subject, Message: a.Message}, nil
	case NotifyEntity:
		return wireAction{Kind: KindNotifyEntity, Subject: a.Subject, Message: a.Message}, nil
	case CreateFollowUpTask:
		return wireAction{
			Kind:        KindCreateFollowUpTask,
			Title:       a.Title,
			Description: a.Description,
			Assignee:    a.Assignee,
			Priority:    a.Priority,
			DueInHours:  a.DueIn.Hours(),
		}, nil
	case LogEvent:
		return wireAction{Kind: KindLogEvent, Event: a.Event, Level: a.Level, Message: a.Message}, nil
	case UpdateEntityStatus:
		return wireAction{Kind: KindUpdateEntityStatus, Status: a.Status}, nil
	case BoostPriority:
		return wireAction{Kind: KindBoostPriority, By: a.By}, nil
	default:
		return wireAction{}, fmt.Errorf("%w: unsupported action %T", ErrInvalidAction, a)
	}
}
