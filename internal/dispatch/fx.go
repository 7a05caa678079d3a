package dispatch

import (
	"context"

	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"go.uber.org/fx"
)

// Executor runs declared actions. *Dispatcher is the production implementation.
type Executor interface {
	Dispatch(ctx context.Context, dc Context, actions []Action) []auditdomain.ActionRecord
}

var Module = fx.Module("dispatch",
	fx.Provide(New),
	fx.Provide(func(d *Dispatcher) Executor { return d }),
)
