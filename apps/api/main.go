package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/studiodesk/internal/audit"
	"github.com/smallbiznis/studiodesk/internal/clock"
	"github.com/smallbiznis/studiodesk/internal/config"
	"github.com/smallbiznis/studiodesk/internal/customer"
	"github.com/smallbiznis/studiodesk/internal/ledger"
	"github.com/smallbiznis/studiodesk/internal/locks"
	"github.com/smallbiznis/studiodesk/internal/logger"
	"github.com/smallbiznis/studiodesk/internal/migration"
	"github.com/smallbiznis/studiodesk/internal/observability/metrics"
	"github.com/smallbiznis/studiodesk/internal/order"
	"github.com/smallbiznis/studiodesk/internal/payment"
	"github.com/smallbiznis/studiodesk/internal/providers/email"
	"github.com/smallbiznis/studiodesk/internal/providers/pdf"
	"github.com/smallbiznis/studiodesk/internal/server"
	"github.com/smallbiznis/studiodesk/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		locks.Module,
		metrics.Module,
		migration.Module,

		ledger.Module,
		customer.Module,
		order.Module,
		audit.Module,
		email.Module,
		pdf.Module,
		payment.Module,

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
