package activity

import (
	"github.com/smallbiznis/creatorops/internal/activity/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("activity.store",
	fx.Provide(repository.NewStore),
)
