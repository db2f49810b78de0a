// Package impersonation lets a platform admin act as another user. The
// active impersonation lives only in a signed cookie; nothing is persisted
// besides the audit trail.
package impersonation

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/internal/observability/metrics"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:generate mockgen -source=guard.go -destination=mocks/mock_user_reader.go -package=mocks

// UserReader loads accounts referenced by a marker.
type UserReader interface {
	FindByID(ctx context.Context, id snowflake.ID) (*authdomain.User, error)
}

var (
	ErrNotPlatformAdmin     = apperr.New(apperr.KindForbidden, "not_platform_admin", "only platform admins can impersonate")
	ErrAlreadyImpersonating = apperr.New(apperr.KindConflict, "already_impersonating", "stop the current impersonation first")
	ErrTargetNotFound       = apperr.New(apperr.KindNotFound, "user_not_found", "user not found")
	ErrTargetNotAllowed     = apperr.New(apperr.KindForbidden, "target_not_allowed", "this user cannot be impersonated")
	ErrInvalidTarget        = apperr.Validation("user_id", "invalid_user_id", "user_id is required")
)

type Status struct {
	IsImpersonating  bool                    `json:"is_impersonating"`
	ImpersonatedUser *authdomain.UserSummary `json:"impersonated_user,omitempty"`
	AdminUser        *authdomain.UserSummary `json:"admin_user,omitempty"`
}

type StartResult struct {
	Marker    string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    Status    `json:"status"`
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Signer   *Signer
	Users    UserReader
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type Guard struct {
	log      *zap.Logger
	signer   *Signer
	users    UserReader
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewGuard(p Params) *Guard {
	return &Guard{
		log:      p.Log.Named("impersonation.guard"),
		signer:   p.Signer,
		users:    p.Users,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// Start begins impersonating targetID. A still valid current marker is
// rejected so only one target is active per session.
func (g *Guard) Start(ctx context.Context, real identity.Identity, current string, targetID snowflake.ID) (*StartResult, error) {
	if !real.Valid() || !real.RealAdmin {
		return nil, ErrNotPlatformAdmin
	}
	if targetID == 0 {
		return nil, ErrInvalidTarget
	}
	if _, _, ok := g.resolve(ctx, real, current); ok {
		return nil, ErrAlreadyImpersonating
	}

	target, err := g.users.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, authdomain.ErrUserNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	if target.Status == authdomain.UserStatusDeleted {
		return nil, ErrTargetNotFound
	}
	if target.ID == real.RealUserID || target.IsPlatformAdmin() {
		return nil, ErrTargetNotAllowed
	}
	admin, err := g.users.FindByID(ctx, real.RealUserID)
	if err != nil {
		return nil, err
	}

	signed, expiresAt, err := g.signer.Sign(real.RealUserID, target.ID, real.SessionID)
	if err != nil {
		return nil, err
	}

	g.log.Info("impersonation started",
		zap.String("admin_user_id", real.RealUserID.String()),
		zap.String("target_user_id", target.ID.String()),
	)
	g.metrics.RecordImpersonation(ctx, "started")
	g.audit(ctx, real, auditdomain.ActionImpersonationStarted, target.ID, expiresAt)

	return &StartResult{
		Marker:    signed,
		ExpiresAt: expiresAt,
		Status:    activeStatus(admin, target),
	}, nil
}

// Stop ends the current impersonation. It succeeds when nothing is active.
func (g *Guard) Stop(ctx context.Context, real identity.Identity, current string) Status {
	if _, target, ok := g.resolve(ctx, real, current); ok {
		g.log.Info("impersonation stopped",
			zap.String("admin_user_id", real.RealUserID.String()),
			zap.String("target_user_id", target.ID.String()),
		)
		g.metrics.RecordImpersonation(ctx, "stopped")
		g.audit(ctx, real, auditdomain.ActionImpersonationStopped, target.ID, time.Time{})
	}
	return Status{}
}

// Resolve returns base acting as the marker's target, or base unchanged
// when the marker does not hold up.
func (g *Guard) Resolve(ctx context.Context, base identity.Identity, current string) (identity.Identity, bool) {
	_, target, ok := g.resolve(ctx, base, current)
	if !ok {
		return base, false
	}
	return base.As(target.ID, target.IsPlatformAdmin()), true
}

func (g *Guard) Status(ctx context.Context, base identity.Identity, current string) Status {
	admin, target, ok := g.resolve(ctx, base, current)
	if !ok {
		return Status{}
	}
	return activeStatus(admin, target)
}

func (g *Guard) resolve(ctx context.Context, base identity.Identity, current string) (*authdomain.User, *authdomain.User, bool) {
	if current == "" || !base.Valid() {
		return nil, nil, false
	}
	m, err := g.signer.parse(current)
	if err != nil {
		g.log.Debug("ignoring impersonation marker", zap.Error(err))
		return nil, nil, false
	}
	if m.adminID != base.RealUserID || m.sessionID != base.SessionID {
		return nil, nil, false
	}

	admin, err := g.users.FindByID(ctx, m.adminID)
	if err != nil || !admin.IsActive() || !admin.IsPlatformAdmin() {
		return nil, nil, false
	}
	target, err := g.users.FindByID(ctx, m.targetID)
	if err != nil || target.Status == authdomain.UserStatusDeleted || target.IsPlatformAdmin() {
		return nil, nil, false
	}
	return admin, target, true
}

func (g *Guard) audit(ctx context.Context, real identity.Identity, action string, targetID snowflake.ID, expiresAt time.Time) {
	if g.auditSvc == nil {
		return
	}
	metadata := map[string]any{}
	if !expiresAt.IsZero() {
		metadata["expires_at"] = expiresAt.Format(time.RFC3339)
	}
	// Recorded against the admin alone, without acting_user_id.
	ctx = identity.WithIdentity(ctx, identity.ForUser(real.SessionID, real.RealUserID, real.RealAdmin))
	target := targetID.String()
	if err := g.auditSvc.AuditLog(ctx, nil, "", nil, action, "user", &target, metadata); err != nil {
		g.log.Warn("failed to audit", zap.String("action", action), zap.Error(err))
	}
}

func activeStatus(admin, target *authdomain.User) Status {
	adminSummary := admin.Summary()
	targetSummary := target.Summary()
	return Status{
		IsImpersonating:  true,
		ImpersonatedUser: &targetSummary,
		AdminUser:        &adminSummary,
	}
}
