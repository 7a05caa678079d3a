package entity

import (
	"github.com/smallbiznis/creatorops/internal/entity/repository"
	"github.com/smallbiznis/creatorops/internal/entity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
