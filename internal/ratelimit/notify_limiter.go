package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creatorops/internal/config"
)

const keyNotifyChannel = "creatorops:notify:%s"

// NotificationLimiter caps outbound notifications per channel across all sweepers.
type NotificationLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewNotificationLimiter returns nil when rate limiting is disabled or redis is absent.
func NewNotificationLimiter(cfg config.Config, client redis.UniversalClient) *NotificationLimiter {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil
	}
	perMinute := cfg.RateLimit.NotifyPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := cfg.RateLimit.NotifyBurst
	if burst <= 0 {
		burst = 1
	}
	return &NotificationLimiter{
		bucket: NewTokenBucket(client),
		rate:   float64(perMinute) / 60,
		burst:  burst,
	}
}

func (l *NotificationLimiter) Allow(ctx context.Context, channel string) (bool, time.Duration, error) {
	if l == nil {
		return true, 0, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyNotifyChannel, strings.TrimSpace(channel)), l.rate, l.burst)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}
