// Package notify delivers engine notifications over email and Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/providers/email"
	"github.com/smallbiznis/creatorops/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
)

var (
	ErrNoRecipients       = errors.New("notify_no_recipients")
	ErrUnsupportedChannel = errors.New("notify_unsupported_channel")
	ErrRateLimited        = errors.New("notify_rate_limited")
)

type Target struct {
	Channel    Channel  `json:"channel"`
	Recipients []string `json:"recipients"`
}

type Payload struct {
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type DeliveryAck struct {
	DeliveryID string    `json:"delivery_id"`
	Channel    Channel   `json:"channel"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Gateway sends one payload to one target.
type Gateway interface {
	Send(ctx context.Context, target Target, payload Payload) (DeliveryAck, error)
}

// Limiter throttles deliveries per channel.
type Limiter interface {
	Allow(ctx context.Context, channel string) (bool, time.Duration, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Email   email.Provider
	Slack   slack.Provider
	Limiter Limiter `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	email   email.Provider
	slack   slack.Provider
	limiter Limiter
}

func New(p Params) Gateway {
	return &Service{
		log:     p.Log.Named("notify.gateway"),
		clock:   p.Clock,
		email:   p.Email,
		slack:   p.Slack,
		limiter: p.Limiter,
	}
}

func (s *Service) Send(ctx context.Context, target Target, payload Payload) (DeliveryAck, error) {
	recipients := compact(target.Recipients)
	if len(recipients) == 0 {
		return DeliveryAck{}, ErrNoRecipients
	}
	if err := s.allow(ctx, target.Channel); err != nil {
		return DeliveryAck{}, err
	}

	var err error
	switch target.Channel {
	case ChannelEmail:
		data := map[string]any{
			"subject":   payload.Subject,
			"body":      payload.Body,
			"entity_id": payload.Metadata["entity_id"],
		}
		err = s.email.SendTemplate(ctx, recipients, "notification", data)
	case ChannelSlack:
		text := payload.Body
		if payload.Subject != "" {
			text = fmt.Sprintf("*%s*\n%s", payload.Subject, payload.Body)
		}
		for _, channel := range recipients {
			if err = s.slack.PostMessage(ctx, channel, text); err != nil {
				break
			}
		}
	default:
		return DeliveryAck{}, fmt.Errorf("%w: %q", ErrUnsupportedChannel, target.Channel)
	}
	if err != nil {
		s.log.Warn("notification delivery failed",
			zap.String("channel", string(target.Channel)),
			zap.Int("recipients", len(recipients)),
			zap.Error(err),
		)
		return DeliveryAck{}, err
	}

	return DeliveryAck{
		DeliveryID: uuid.NewString(),
		Channel:    target.Channel,
		AcceptedAt: s.clock.Now(),
	}, nil
}

// allow fails open when the limiter itself errors.
func (s *Service) allow(ctx context.Context, channel Channel) error {
	if s.limiter == nil {
		return nil
	}
	ok, retryAfter, err := s.limiter.Allow(ctx, string(channel))
	if err != nil {
		s.log.Warn("notification rate limiter unavailable", zap.String("channel", string(channel)), zap.Error(err))
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, retryAfter)
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
