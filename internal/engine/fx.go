package engine

import (
	redis "github.com/redis/go-redis/v9"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/cooldown"
	"github.com/smallbiznis/creatorops/internal/escalation"
	snapshotservice "github.com/smallbiznis/creatorops/internal/snapshot/service"
	"go.uber.org/fx"
)

var Module = fx.Module("engine",
	fx.Provide(
		provideGate,
		provideLocker,
		escalation.NewDetector,
		func(b *snapshotservice.Builder) SnapshotBuilder { return b },
		New,
	),
)

func provideGate(audit auditdomain.Service, clk clock.Clock) *cooldown.Gate {
	return cooldown.NewGate(audit, clk)
}

type lockerParams struct {
	fx.In

	Redis redis.UniversalClient `optional:"true"`
}

func provideLocker(p lockerParams) cooldown.Locker {
	if l := cooldown.NewRedisLocker(p.Redis); l != nil {
		return l
	}
	return nil
}
