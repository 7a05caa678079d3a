package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockEmail struct{ mock.Mock }

func (m *mockEmail) Send(ctx context.Context, to []string, subject, body string) error {
	return m.Called(to, subject, body).Error(0)
}

func (m *mockEmail) SendTemplate(ctx context.Context, to []string, name string, data map[string]any) error {
	return m.Called(to, name, data).Error(0)
}

type mockSlack struct{ mock.Mock }

func (m *mockSlack) PostMessage(ctx context.Context, channel, message string) error {
	return m.Called(channel, message).Error(0)
}

func newGateway(e *mockEmail, s *mockSlack) Gateway {
	return New(Params{
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Email: e,
		Slack: s,
	})
}

func TestSendEmail(t *testing.T) {
	e := &mockEmail{}
	e.On("SendTemplate", []string{"ops@example.com"}, "notification", mock.MatchedBy(func(d map[string]any) bool {
		return d["subject"] == "Stalled proposal" && d["entity_id"] == "ent_1"
	})).Return(nil)

	ack, err := newGateway(e, &mockSlack{}).Send(context.Background(),
		Target{Channel: ChannelEmail, Recipients: []string{" ops@example.com ", ""}},
		Payload{Subject: "Stalled proposal", Body: "50h in submitted", Metadata: map[string]string{"entity_id": "ent_1"}},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.DeliveryID)
	assert.Equal(t, ChannelEmail, ack.Channel)
	e.AssertExpectations(t)
}

func TestSendSlackFailure(t *testing.T) {
	s := &mockSlack{}
	s.On("PostMessage", "#ops", "*Alert*\nbody").Return(errors.New("rate_limited"))

	_, err := newGateway(&mockEmail{}, s).Send(context.Background(),
		Target{Channel: ChannelSlack, Recipients: []string{"#ops"}},
		Payload{Subject: "Alert", Body: "body"},
	)
	assert.EqualError(t, err, "rate_limited")
}

func TestSendRejectsBadTargets(t *testing.T) {
	g := newGateway(&mockEmail{}, &mockSlack{})

	_, err := g.Send(context.Background(), Target{Channel: ChannelEmail}, Payload{})
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = g.Send(context.Background(), Target{Channel: "sms", Recipients: []string{"+1"}}, Payload{})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}

type fixedLimiter struct {
	ok  bool
	err error
}

func (l fixedLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return l.ok, time.Second, l.err
}

func TestSendRespectsLimiter(t *testing.T) {
	s := &mockSlack{}
	s.On("PostMessage", "#ops", "body").Return(nil)

	g := New(Params{
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Email:   &mockEmail{},
		Slack:   s,
		Limiter: fixedLimiter{ok: false},
	})
	_, err := g.Send(context.Background(), Target{Channel: ChannelSlack, Recipients: []string{"#ops"}}, Payload{Body: "body"})
	assert.ErrorIs(t, err, ErrRateLimited)
	s.AssertNotCalled(t, "PostMessage", "#ops", "body")

	g = New(Params{
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Email:   &mockEmail{},
		Slack:   s,
		Limiter: fixedLimiter{err: errors.New("redis down")},
	})
	_, err = g.Send(context.Background(), Target{Channel: ChannelSlack, Recipients: []string{"#ops"}}, Payload{Body: "body"})
	require.NoError(t, err, "limiter errors fail open")
	s.AssertExpectations(t)
}
