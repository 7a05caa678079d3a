package snapshot

import (
	"github.com/smallbiznis/creatorops/internal/snapshot/service"
	"go.uber.org/fx"
)

var Module = fx.Module("snapshot.builder",
	fx.Provide(service.New),
)
