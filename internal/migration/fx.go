package migration

import (
	"context"
	"strings"

	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, auth authdomain.Service, log *zap.Logger) error {
		if err := Migrate(conn); err != nil {
			return err
		}
		return EnsureBootstrapAdmin(context.Background(), cfg, auth, log)
	}),
)

// EnsureBootstrapAdmin creates or promotes the configured platform admin.
func EnsureBootstrapAdmin(ctx context.Context, cfg config.Config, auth authdomain.Service, log *zap.Logger) error {
	email := strings.TrimSpace(cfg.BootstrapAdminEmail)
	if email == "" {
		return nil
	}
	user, err := auth.EnsureAdmin(ctx, email, cfg.BootstrapAdminPassword)
	if err != nil {
		return err
	}
	log.Info("bootstrap admin ready", zap.String("user_id", user.ID.String()))
	return nil
}
