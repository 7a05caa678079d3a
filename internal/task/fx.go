package task

import (
	"github.com/smallbiznis/creatorops/internal/task/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("task.store",
	fx.Provide(repository.NewStore),
)
