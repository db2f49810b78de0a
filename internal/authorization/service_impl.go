package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

// NewEnforcer loads the capability table through the gorm adapter and seeds
// the built-in role policies.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, id identity.Identity, workspaceID snowflake.ID, action string) error {
	decision, err := s.Decide(ctx, id, workspaceID, action)
	if err != nil {
		return err
	}
	if decision.Allowed {
		return nil
	}

	s.auditDenied(ctx, workspaceID, action, decision)
	s.metrics.RecordAuthorizationDenied(ctx, action, decision.Reason)

	if decision.Reason == ReasonNotMember {
		return ErrNotMember
	}
	return ErrInsufficientRole
}

func (s *ServiceImpl) Decide(ctx context.Context, id identity.Identity, workspaceID snowflake.ID, action string) (Decision, error) {
	if !id.Valid() {
		return Decision{}, ErrUnauthenticated
	}
	if workspaceID == 0 {
		return Decision{}, ErrInvalidWorkspace
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return Decision{}, ErrInvalidAction
	}

	role, err := s.RoleOf(ctx, workspaceID, id.ActingUserID)
	if err != nil {
		return Decision{}, err
	}

	if id.ActingAdmin {
		return Decision{Allowed: true, Role: role, Reason: ReasonPlatformAdmin}, nil
	}
	if role == "" {
		return Decision{Allowed: false, Reason: ReasonNotMember}, nil
	}

	allowed, err := s.enforcer.Enforce(subjectForRole(role), ObjectWorkspace, action)
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		return Decision{Allowed: false, Role: role, Reason: ReasonInsufficientRole}, nil
	}
	return Decision{Allowed: true, Role: role, Reason: ReasonGranted}, nil
}

// RoleOf returns the member's role, or "" when userID is not a member.
func (s *ServiceImpl) RoleOf(ctx context.Context, workspaceID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM workspace_members
		 WHERE workspace_id = ? AND user_id = ?
		 LIMIT 1`,
		workspaceID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role, ok := NormalizeRole(row.Role)
	if !ok {
		return "", nil
	}
	return role, nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, workspaceID snowflake.ID, action string, decision Decision) {
	s.log.Debug("authorization denied",
		zap.String("workspace_id", workspaceID.String()),
		zap.String("action", action),
		zap.String("reason", decision.Reason),
	)
	if s.auditSvc == nil {
		return
	}
	targetID := workspaceID.String()
	_ = s.auditSvc.AuditLog(ctx, &workspaceID, "", nil, auditdomain.ActionAuthorizationDenied, ObjectWorkspace, &targetID, map[string]any{
		"action": action,
		"reason": decision.Reason,
		"role":   decision.Role,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:viewer", ObjectWorkspace, ActionWorkspaceView},
		{"role:viewer", ObjectWorkspace, ActionMemberList},

		{"role:admin", ObjectWorkspace, ActionWorkspaceUpdate},
		{"role:admin", ObjectWorkspace, ActionMemberInvite},
		{"role:admin", ObjectWorkspace, ActionMemberRemove},
		{"role:admin", ObjectWorkspace, ActionMemberChangeRole},
		{"role:admin", ObjectWorkspace, ActionInvitationList},
		{"role:admin", ObjectWorkspace, ActionInvitationCancel},
		{"role:admin", ObjectWorkspace, ActionAuditLogView},

		{"role:owner", ObjectWorkspace, ActionWorkspaceDelete},
		{"role:owner", ObjectWorkspace, ActionMemberAdd},
		{"role:owner", ObjectWorkspace, ActionOwnerManage},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}

	inheritance := [][]string{
		{"role:owner", "role:admin"},
		{"role:admin", "role:member"},
		{"role:member", "role:viewer"},
	}
	for _, rule := range inheritance {
		if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}
	return nil
}
