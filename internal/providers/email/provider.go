package email

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("email_not_configured")

// Provider delivers html mail, either raw or from an embedded template.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error
}

// Disabled is used when SMTP is not configured. Deliveries fail with
// ErrNotConfigured instead of being dropped.
type Disabled struct{}

func (Disabled) Send(context.Context, []string, string, string) error {
	return ErrNotConfigured
}

func (Disabled) SendTemplate(context.Context, []string, string, map[string]any) error {
	return ErrNotConfigured
}
