package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/admin/domain"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/identity"
	workspacedomain "github.com/smallbiznis/tenantry/internal/workspace/domain"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxUserNameLength = 120

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	UserRepo      authdomain.Repository
	SessionRepo   authdomain.SessionRepository
	WorkspaceRepo workspacedomain.Repository
	WorkspaceSvc  workspacedomain.Service
	AuditSvc      auditdomain.Service
	Clock         clock.Clock
}

type service struct {
	db            *gorm.DB
	log           *zap.Logger
	userRepo      authdomain.Repository
	sessionRepo   authdomain.SessionRepository
	workspaceRepo workspacedomain.Repository
	workspaceSvc  workspacedomain.Service
	auditSvc      auditdomain.Service
	clock         clock.Clock
}

func NewService(p Params) domain.Service {
	return &service{
		db:            p.DB,
		log:           p.Log.Named("admin.service"),
		userRepo:      p.UserRepo,
		sessionRepo:   p.SessionRepo,
		workspaceRepo: p.WorkspaceRepo,
		workspaceSvc:  p.WorkspaceSvc,
		auditSvc:      p.AuditSvc,
		clock:         p.Clock,
	}
}

func (s *service) ListUsers(ctx context.Context, actor identity.Identity, req domain.ListUsersRequest) (pagination.Page[domain.UserResponse], error) {
	if err := requireAdmin(actor); err != nil {
		return pagination.Page[domain.UserResponse]{}, err
	}

	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status != "" && !authdomain.ValidUserStatus(status) {
		return pagination.Page[domain.UserResponse]{}, domain.ErrInvalidStatusFilter
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != "" && !authdomain.ValidPlatformRole(role) {
		return pagination.Page[domain.UserResponse]{}, domain.ErrInvalidRoleFilter
	}

	q := req.Normalize(authdomain.UserSortSpec)
	users, total, err := s.userRepo.List(ctx, authdomain.UserFilter{Query: q, Status: status, Role: role})
	if err != nil {
		return pagination.Page[domain.UserResponse]{}, err
	}

	items := make([]domain.UserResponse, 0, len(users))
	for _, u := range users {
		items = append(items, domain.NewUserResponse(u))
	}
	return pagination.NewPage(items, total, q), nil
}

func (s *service) GetUser(ctx context.Context, actor identity.Identity, userID snowflake.ID) (*domain.UserDetail, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.workspaceRepo.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	memberships := make([]domain.MembershipResponse, 0, len(rows))
	for _, row := range rows {
		memberships = append(memberships, domain.MembershipResponse{
			WorkspaceID:   row.WorkspaceID.String(),
			WorkspaceName: row.WorkspaceName,
			WorkspaceSlug: row.WorkspaceSlug,
			Role:          row.Role,
			JoinedAt:      row.JoinedAt,
		})
	}
	return &domain.UserDetail{
		UserResponse: domain.NewUserResponse(*user),
		Memberships:  memberships,
	}, nil
}

func (s *service) UpdateUser(ctx context.Context, actor identity.Identity, userID snowflake.ID, req domain.UpdateUserRequest) (*domain.UserResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if req.Empty() {
		return nil, domain.ErrEmptyUpdate
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	metadata := map[string]any{}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxUserNameLength {
			return nil, authdomain.ErrInvalidName
		}
		if name != user.Name {
			fields["name"] = name
			metadata["old_name"] = user.Name
			metadata["new_name"] = name
		}
	}
	if req.PlatformRole != nil {
		role := strings.ToLower(strings.TrimSpace(*req.PlatformRole))
		if !authdomain.ValidPlatformRole(role) {
			return nil, authdomain.ErrInvalidRole
		}
		if role != user.PlatformRole {
			fields["platform_role"] = role
			metadata["old_platform_role"] = user.PlatformRole
			metadata["new_platform_role"] = role
		}
	}
	if req.Status != nil {
		status := strings.ToUpper(strings.TrimSpace(*req.Status))
		// Deletion also drops memberships and goes through DeleteUser.
		if status != authdomain.UserStatusActive && status != authdomain.UserStatusSuspended {
			return nil, authdomain.ErrInvalidStatus
		}
		if status != user.Status {
			fields["status"] = status
			metadata["old_status"] = user.Status
			metadata["new_status"] = status
		}
	}

	_, roleChanged := fields["platform_role"]
	_, statusChanged := fields["status"]
	if userID == actor.ActingUserID && (roleChanged || statusChanged) {
		return nil, domain.ErrSelfModification
	}

	if len(fields) == 0 {
		resp := domain.NewUserResponse(*user)
		return &resp, nil
	}

	now := s.clock.Now()
	fields["updated_at"] = now
	if err := s.userRepo.UpdateFields(ctx, userID, fields); err != nil {
		return nil, err
	}
	if statusChanged && fields["status"] != authdomain.UserStatusActive {
		if err := s.sessionRepo.RevokeUserSessions(ctx, userID, now); err != nil {
			return nil, err
		}
	}

	s.log.Info("user updated", zap.String("user_id", userID.String()), zap.Any("fields", metadata))
	s.audit(ctx, actor, auditdomain.ActionUserUpdated, userID, metadata)

	updated, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := domain.NewUserResponse(*updated)
	return &resp, nil
}

// DeleteUser soft-deletes the account. It refuses while the user is the only
// owner of any workspace so no workspace is left ownerless.
func (s *service) DeleteUser(ctx context.Context, actor identity.Identity, userID snowflake.ID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if userID == actor.ActingUserID {
		return domain.ErrSelfModification
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status == authdomain.UserStatusDeleted {
		return nil
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workspaces := s.workspaceRepo.WithTx(tx)
		if _, err := workspaces.LockOwnersOfUserWorkspaces(ctx, userID); err != nil {
			return err
		}
		owned, err := workspaces.CountSoleOwnerships(ctx, userID)
		if err != nil {
			return err
		}
		if owned > 0 {
			return domain.ErrUserOwnsWorkspaces
		}
		if err := workspaces.RemoveUserMemberships(ctx, userID); err != nil {
			return err
		}
		return s.userRepo.WithTx(tx).UpdateFields(ctx, userID, map[string]any{
			"status":               authdomain.UserStatusDeleted,
			"default_workspace_id": nil,
			"updated_at":           now,
		})
	})
	if err != nil {
		return err
	}

	if err := s.sessionRepo.RevokeUserSessions(ctx, userID, now); err != nil {
		return err
	}

	s.log.Info("user deleted", zap.String("user_id", userID.String()))
	s.audit(ctx, actor, auditdomain.ActionUserDeleted, userID, map[string]any{
		"email":      user.Email,
		"old_status": user.Status,
	})
	return nil
}

func (s *service) ListWorkspaces(ctx context.Context, actor identity.Identity, req pagination.Request) (pagination.Page[domain.WorkspaceResponse], error) {
	if err := requireAdmin(actor); err != nil {
		return pagination.Page[domain.WorkspaceResponse]{}, err
	}

	q := req.Normalize(workspacedomain.WorkspaceSortSpec)
	rows, total, err := s.workspaceRepo.ListWorkspaces(ctx, q)
	if err != nil {
		return pagination.Page[domain.WorkspaceResponse]{}, err
	}

	items := make([]domain.WorkspaceResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.NewWorkspaceResponse(row))
	}
	return pagination.NewPage(items, total, q), nil
}

func (s *service) GetWorkspace(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) (*domain.WorkspaceDetail, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	ws, err := s.workspaceRepo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	q := pagination.Request{PageSize: pagination.MaxPageSize}.Normalize(workspacedomain.MemberSortSpec)
	rows, total, err := s.workspaceRepo.ListMembers(ctx, workspaceID, q)
	if err != nil {
		return nil, err
	}
	members := make([]workspacedomain.MemberResponse, 0, len(rows))
	for _, row := range rows {
		members = append(members, workspacedomain.NewMemberResponse(row))
	}

	return &domain.WorkspaceDetail{
		WorkspaceResponse: domain.WorkspaceResponse{
			ID:          ws.ID.String(),
			Name:        ws.Name,
			Slug:        ws.Slug,
			MemberCount: total,
			CreatedAt:   ws.CreatedAt,
			UpdatedAt:   ws.UpdatedAt,
		},
		Members: members,
	}, nil
}

// DeleteWorkspace goes through the workspace service, which lets platform
// admins past the role policy and records the audit entry.
func (s *service) DeleteWorkspace(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.workspaceSvc.Delete(ctx, actor, workspaceID)
}

func (s *service) ListAuditLogs(ctx context.Context, actor identity.Identity, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	return s.auditSvc.List(ctx, req)
}

func requireAdmin(actor identity.Identity) error {
	if !actor.Valid() {
		return authorization.ErrUnauthenticated
	}
	if !actor.ActingAdmin {
		return domain.ErrPlatformAdminRequired
	}
	return nil
}

func (s *service) audit(ctx context.Context, actor identity.Identity, action string, userID snowflake.ID, metadata map[string]any) {
	if _, ok := identity.FromContext(ctx); !ok {
		ctx = identity.WithIdentity(ctx, actor)
	}
	targetID := userID.String()
	if err := s.auditSvc.AuditLog(ctx, nil, "", nil, action, "user", &targetID, metadata); err != nil {
		s.log.Warn("failed to audit", zap.String("action", action), zap.Error(err))
	}
}
