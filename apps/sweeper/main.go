package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorops/internal/activity"
	"github.com/smallbiznis/creatorops/internal/audit"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/smallbiznis/creatorops/internal/dispatch"
	"github.com/smallbiznis/creatorops/internal/engine"
	"github.com/smallbiznis/creatorops/internal/entity"
	"github.com/smallbiznis/creatorops/internal/lifecycle"
	"github.com/smallbiznis/creatorops/internal/observability"
	"github.com/smallbiznis/creatorops/internal/providers"
	"github.com/smallbiznis/creatorops/internal/registry"
	"github.com/smallbiznis/creatorops/internal/scheduler"
	"github.com/smallbiznis/creatorops/internal/snapshot"
	"github.com/smallbiznis/creatorops/internal/task"
	"github.com/smallbiznis/creatorops/pkg/db"
	"github.com/smallbiznis/creatorops/pkg/redisclient"
	"go.uber.org/fx"
)

// The sweeper runs the periodic jobs without the admin API. Schema
// migrations are left to the main binary.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisclient.Module,

		entity.Module,
		activity.Module,
		task.Module,
		audit.Module,
		registry.Module,
		lifecycle.Module,

		snapshot.Module,
		providers.Module,
		dispatch.Module,
		engine.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

// Node 2 keeps audit ids from colliding with the main binary's node.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
