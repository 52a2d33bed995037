package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/config"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/observability"
	"github.com/smallbiznis/repairpay/internal/scheduler"
	"github.com/smallbiznis/repairpay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
