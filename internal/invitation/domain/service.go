package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
)

var SortSpec = pagination.SortSpec{
	Columns: map[string]string{
		"created_at": "created_at",
		"expires_at": "expires_at",
		"email":      "email",
	},
	DefaultField: "created_at",
	DefaultOrder: pagination.SortDesc,
}

type Service interface {
	Create(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req CreateRequest) (*CreateResult, error)
	Accept(ctx context.Context, actor identity.Identity, token string) (*AcceptResult, error)
	Cancel(ctx context.Context, actor identity.Identity, workspaceID, invitationID snowflake.ID) error
	ListPending(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req ListRequest) (pagination.Page[InvitationResponse], error)
	Lookup(ctx context.Context, token string) (*Preview, error)
}

type CreateRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type ListRequest struct {
	pagination.Request
	IncludeExpired bool `form:"include_expired"`
}

type InvitationResponse struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	InvitedBy   string    `json:"invited_by"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewInvitationResponse(inv Invitation, now time.Time) InvitationResponse {
	return InvitationResponse{
		ID:          inv.ID.String(),
		WorkspaceID: inv.WorkspaceID.String(),
		Email:       inv.Email,
		Role:        inv.Role,
		Status:      inv.EffectiveStatus(now),
		InvitedBy:   inv.InvitedBy.String(),
		ExpiresAt:   inv.ExpiresAt,
		CreatedAt:   inv.CreatedAt,
	}
}

// CreateResult carries the raw token. It is never retrievable again.
type CreateResult struct {
	Invitation InvitationResponse `json:"invitation"`
	Token      string             `json:"token"`
	AcceptURL  string             `json:"accept_url"`
}

type AcceptResult struct {
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name"`
	WorkspaceSlug string `json:"workspace_slug"`
	Role          string `json:"role"`
}

type Preview struct {
	WorkspaceName string    `json:"workspace_name"`
	WorkspaceSlug string    `json:"workspace_slug"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}

var (
	ErrInvalidEmail     = apperr.Validation("email", "invalid_email", "a valid email address is required")
	ErrInvalidRole      = apperr.Validation("role", "invalid_role", "role must be one of OWNER, ADMIN, MEMBER, VIEWER")
	ErrInvalidToken     = apperr.Validation("token", "invalid_token", "invitation token is required")
	ErrNotFound         = apperr.New(apperr.KindNotFound, "invitation_not_found", "invitation not found")
	ErrExpired          = apperr.New(apperr.KindExpired, "invitation_expired", "invitation has expired")
	ErrAlreadyAccepted  = apperr.New(apperr.KindConflict, "already_accepted", "invitation was already accepted")
	ErrCancelled        = apperr.New(apperr.KindConflict, "invitation_cancelled", "invitation was cancelled")
	ErrPending          = apperr.New(apperr.KindConflict, "invitation_pending", "an invitation for this email is already pending")
	ErrResolved         = apperr.New(apperr.KindConflict, "invitation_resolved", "invitation is no longer pending")
	ErrTooManyPending   = apperr.New(apperr.KindConflict, "too_many_pending_invitations", "this workspace has too many pending invitations")
	ErrRoleNotGrantable = apperr.New(apperr.KindForbidden, "role_not_grantable", "you cannot grant a role above your own")
)
