package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/admin"
	"github.com/smallbiznis/tenantry/internal/audit"
	"github.com/smallbiznis/tenantry/internal/auth"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/config"
	"github.com/smallbiznis/tenantry/internal/impersonation"
	"github.com/smallbiznis/tenantry/internal/invitation"
	"github.com/smallbiznis/tenantry/internal/migration"
	"github.com/smallbiznis/tenantry/internal/observability"
	"github.com/smallbiznis/tenantry/internal/onboarding"
	"github.com/smallbiznis/tenantry/internal/outbox"
	"github.com/smallbiznis/tenantry/internal/ratelimit"
	"github.com/smallbiznis/tenantry/internal/server"
	"github.com/smallbiznis/tenantry/internal/workspace"
	"github.com/smallbiznis/tenantry/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Functional Domains
		auth.Module,
		audit.Module,
		authorization.Module,
		outbox.Module,
		workspace.Module,
		invitation.Module,
		impersonation.Module,
		ratelimit.Module,
		onboarding.Module,
		admin.Module,
		migration.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
