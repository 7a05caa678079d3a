package slack

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("slack_not_configured")

// Provider posts a plain-text message to a channel.
type Provider interface {
	PostMessage(ctx context.Context, channelID string, message string) error
}

// Disabled is used when no webhook URL is set. Every post fails so the
// notify action is audited as undelivered.
type Disabled struct{}

func (Disabled) PostMessage(context.Context, string, string) error {
	return ErrNotConfigured
}
