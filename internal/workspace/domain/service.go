package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
)

const (
	RoleOwner  = authorization.RoleOwner
	RoleAdmin  = authorization.RoleAdmin
	RoleMember = authorization.RoleMember
	RoleViewer = authorization.RoleViewer
)

const MaxNameLength = 100

var MemberSortSpec = pagination.SortSpec{
	Columns: map[string]string{
		"joined_at": "m.joined_at",
		"email":     "u.email",
		"name":      "u.name",
		"role":      "CASE m.role WHEN 'OWNER' THEN 1 WHEN 'ADMIN' THEN 2 WHEN 'MEMBER' THEN 3 ELSE 4 END",
	},
	DefaultField: "joined_at",
	DefaultOrder: pagination.SortAsc,
}

var WorkspaceSortSpec = pagination.SortSpec{
	Columns: map[string]string{
		"created_at":   "w.created_at",
		"name":         "w.name",
		"slug":         "w.slug",
		"member_count": "member_count",
	},
	DefaultField: "created_at",
	DefaultOrder: pagination.SortDesc,
}

type Service interface {
	Create(ctx context.Context, actor identity.Identity, req CreateWorkspaceRequest) (*WorkspaceResponse, error)
	Get(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) (*WorkspaceResponse, error)
	ListForUser(ctx context.Context, actor identity.Identity) ([]WorkspaceResponse, error)
	Update(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req UpdateWorkspaceRequest) (*WorkspaceResponse, error)
	Delete(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) error
	SetDefault(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) error

	ListMembers(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req pagination.Request) (pagination.Page[MemberResponse], error)
	AddMember(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req AddMemberRequest) (*MemberResponse, error)
	ChangeMemberRole(ctx context.Context, actor identity.Identity, workspaceID, userID snowflake.ID, role string) (*MemberResponse, error)
	RemoveMember(ctx context.Context, actor identity.Identity, workspaceID, userID snowflake.ID) error
	Leave(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) error
}

type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

type UpdateWorkspaceRequest struct {
	Name string `json:"name"`
}

type AddMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type WorkspaceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MemberResponse struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func NewMemberResponse(v MemberView) MemberResponse {
	return MemberResponse{
		UserID:   v.UserID.String(),
		Email:    v.Email,
		Name:     v.Name,
		Role:     v.Role,
		JoinedAt: v.JoinedAt,
	}
}

var (
	ErrInvalidName       = apperr.Validation("name", "invalid_name", "workspace name is required and must be at most 100 characters")
	ErrInvalidSlug       = apperr.Validation("name", "invalid_slug", "workspace name must contain letters or digits")
	ErrInvalidRole       = apperr.Validation("role", "invalid_role", "role must be one of OWNER, ADMIN, MEMBER, VIEWER")
	ErrInvalidEmail      = apperr.Validation("email", "invalid_email", "a valid email address is required")
	ErrSlugTaken         = apperr.New(apperr.KindConflict, "slug_taken", "a workspace with this name already exists")
	ErrAlreadyMember     = apperr.New(apperr.KindConflict, "already_member", "user is already a member of this workspace")
	ErrWorkspaceNotFound = apperr.New(apperr.KindNotFound, "workspace_not_found", "workspace not found")
	ErrMemberNotFound    = apperr.New(apperr.KindNotFound, "member_not_found", "member not found")
	ErrUserNotFound      = apperr.New(apperr.KindNotFound, "user_not_found", "user not found")
	ErrLastOwner         = apperr.New(apperr.KindForbidden, "last_owner", "a workspace must keep at least one owner")
	ErrRoleNotGrantable  = apperr.New(apperr.KindForbidden, "role_not_grantable", "you cannot grant a role above your own")
)
