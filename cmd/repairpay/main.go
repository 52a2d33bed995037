package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/adjustment"
	"github.com/smallbiznis/repairpay/internal/audit"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/config"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/lock"
	"github.com/smallbiznis/repairpay/internal/migration"
	"github.com/smallbiznis/repairpay/internal/observability"
	"github.com/smallbiznis/repairpay/internal/order"
	"github.com/smallbiznis/repairpay/internal/providers/pdf"
	"github.com/smallbiznis/repairpay/internal/ratelimit"
	"github.com/smallbiznis/repairpay/internal/report"
	"github.com/smallbiznis/repairpay/internal/returns"
	"github.com/smallbiznis/repairpay/internal/scheduler"
	"github.com/smallbiznis/repairpay/internal/server"
	"github.com/smallbiznis/repairpay/internal/settlement"
	"github.com/smallbiznis/repairpay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		events.Module,
		lock.Module,
		ratelimit.Module,

		// Functional Domains
		audit.Module,
		authorization.Module,
		order.Module,
		adjustment.Module,
		returns.Module,
		pdf.Module,
		settlement.Module,
		report.Module,

		// Background outbox relay; disable with SCHEDULER_ENABLED=false when cmd/scheduler runs it.
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
