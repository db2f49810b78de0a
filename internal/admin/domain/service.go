// Package domain defines the platform admin console.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/identity"
	workspacedomain "github.com/smallbiznis/tenantry/internal/workspace/domain"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
)

// Service exposes cross-tenant user and workspace management. Every call
// requires the acting identity to be a platform admin.
type Service interface {
	ListUsers(ctx context.Context, actor identity.Identity, req ListUsersRequest) (pagination.Page[UserResponse], error)
	GetUser(ctx context.Context, actor identity.Identity, userID snowflake.ID) (*UserDetail, error)
	UpdateUser(ctx context.Context, actor identity.Identity, userID snowflake.ID, req UpdateUserRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, actor identity.Identity, userID snowflake.ID) error

	ListWorkspaces(ctx context.Context, actor identity.Identity, req pagination.Request) (pagination.Page[WorkspaceResponse], error)
	GetWorkspace(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) (*WorkspaceDetail, error)
	DeleteWorkspace(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) error

	ListAuditLogs(ctx context.Context, actor identity.Identity, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error)
}

type ListUsersRequest struct {
	pagination.Request
	Status string `form:"status"`
	Role   string `form:"role"`
}

// UpdateUserRequest applies only the fields that are set.
type UpdateUserRequest struct {
	Name         *string `json:"name"`
	PlatformRole *string `json:"platform_role"`
	Status       *string `json:"status"`
}

func (r UpdateUserRequest) Empty() bool {
	return r.Name == nil && r.PlatformRole == nil && r.Status == nil
}

type UserResponse struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	PlatformRole        string     `json:"platform_role"`
	Status              string     `json:"status"`
	OnboardingCompleted bool       `json:"onboarding_completed"`
	DefaultWorkspaceID  *string    `json:"default_workspace_id,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func NewUserResponse(u authdomain.User) UserResponse {
	resp := UserResponse{
		ID:                  u.ID.String(),
		Email:               u.Email,
		Name:                u.Name,
		PlatformRole:        u.PlatformRole,
		Status:              u.Status,
		OnboardingCompleted: u.OnboardingCompleted,
		LastLoginAt:         u.LastLoginAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
	if u.DefaultWorkspaceID != nil {
		id := u.DefaultWorkspaceID.String()
		resp.DefaultWorkspaceID = &id
	}
	return resp
}

type MembershipResponse struct {
	WorkspaceID   string    `json:"workspace_id"`
	WorkspaceName string    `json:"workspace_name"`
	WorkspaceSlug string    `json:"workspace_slug"`
	Role          string    `json:"role"`
	JoinedAt      time.Time `json:"joined_at"`
}

type UserDetail struct {
	UserResponse
	Memberships []MembershipResponse `json:"memberships"`
}

type WorkspaceResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	MemberCount int64     `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewWorkspaceResponse(w workspacedomain.WorkspaceSummary) WorkspaceResponse {
	return WorkspaceResponse{
		ID:          w.ID.String(),
		Name:        w.Name,
		Slug:        w.Slug,
		MemberCount: w.MemberCount,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

// WorkspaceDetail carries the first page of members; MemberCount is the total.
type WorkspaceDetail struct {
	WorkspaceResponse
	Members []workspacedomain.MemberResponse `json:"members"`
}

var (
	ErrPlatformAdminRequired = apperr.New(apperr.KindForbidden, "platform_admin_required", "platform admin access required")
	ErrSelfModification      = apperr.New(apperr.KindForbidden, "self_modification", "admins cannot change their own role or status")
	ErrUserOwnsWorkspaces    = apperr.New(apperr.KindConflict, "user_owns_workspaces", "user is the last owner of one or more workspaces")
	ErrEmptyUpdate           = apperr.Validation("body", "empty_update", "at least one of name, platform_role or status is required")
	ErrInvalidStatusFilter   = apperr.Validation("status", "invalid_status", "status must be ACTIVE, SUSPENDED or DELETED")
	ErrInvalidRoleFilter     = apperr.Validation("role", "invalid_platform_role", "platform role must be user or admin")
)
