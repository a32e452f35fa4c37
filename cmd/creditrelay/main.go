package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/clock"
	"github.com/creditrelay/creditrelay/internal/config"
	"github.com/creditrelay/creditrelay/internal/gateway"
	"github.com/creditrelay/creditrelay/internal/ledger"
	"github.com/creditrelay/creditrelay/internal/metrics"
	"github.com/creditrelay/creditrelay/internal/migration"
	"github.com/creditrelay/creditrelay/internal/payment"
	"github.com/creditrelay/creditrelay/internal/pricing"
	"github.com/creditrelay/creditrelay/internal/proxypool"
	"github.com/creditrelay/creditrelay/internal/ratelimit"
	"github.com/creditrelay/creditrelay/internal/registry"
	"github.com/creditrelay/creditrelay/internal/scheduler"
	"github.com/creditrelay/creditrelay/internal/server"
	"github.com/creditrelay/creditrelay/pkg/db"
	"github.com/creditrelay/creditrelay/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		migration.Module,
		metrics.Module,
		ratelimit.Module,

		ledger.Module,
		registry.Module,
		proxypool.Module,
		gateway.Module,
		pricing.Module,
		payment.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
