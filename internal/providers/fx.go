package providers

import (
	"github.com/smallbiznis/creatorops/internal/providers/email"
	"github.com/smallbiznis/creatorops/internal/providers/notify"
	"github.com/smallbiznis/creatorops/internal/providers/slack"
	"github.com/smallbiznis/creatorops/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	slack.Module,
	ratelimit.Module,
	fx.Provide(func(l *ratelimit.NotificationLimiter) notify.Limiter {
		if l == nil {
			return nil
		}
		return l
	}),
	fx.Provide(notify.New),
)
