package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/microsaas/internal/clock"
	"github.com/smallbiznis/microsaas/internal/config"
	"github.com/smallbiznis/microsaas/internal/migration"
	"github.com/smallbiznis/microsaas/internal/observability"
	"github.com/smallbiznis/microsaas/internal/server"
	"github.com/smallbiznis/microsaas/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
