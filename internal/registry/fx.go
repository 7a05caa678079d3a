package registry

import (
	"github.com/smallbiznis/creatorops/internal/registry/repository"
	"github.com/smallbiznis/creatorops/internal/registry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registry.service",
	fx.Provide(repository.NewStore),
	fx.Provide(service.New),
)
