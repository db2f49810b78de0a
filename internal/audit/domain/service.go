package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
)

const (
	ActionWorkspaceCreated     = "workspace.created"
	ActionWorkspaceUpdated     = "workspace.updated"
	ActionWorkspaceDeleted     = "workspace.deleted"
	ActionMemberAdded          = "member.added"
	ActionMemberRoleChanged    = "member.role_changed"
	ActionMemberRemoved        = "member.removed"
	ActionInvitationCreated    = "invitation.created"
	ActionInvitationAccepted   = "invitation.accepted"
	ActionInvitationCancelled  = "invitation.cancelled"
	ActionImpersonationStarted = "impersonation.started"
	ActionImpersonationStopped = "impersonation.stopped"
	ActionAuthorizationDenied  = "authorization.denied"
	ActionUserUpdated          = "user.updated"
	ActionUserDeleted          = "user.deleted"
	ActionUserLogin            = "user.login"
	ActionUserLoginFailed      = "user.login_failed"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	// WorkspaceID scopes the listing; nil lists across all workspaces.
	WorkspaceID *snowflake.ID
	Action      string
	TargetType  string
	TargetID    string
	ActorID     string
	StartAt     *time.Time
	EndAt       *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, workspaceID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = apperr.Validation("page_token", "invalid_page_token", "page token is malformed")
	ErrInvalidTimeRange = apperr.Validation("start_at", "invalid_time_range", "start_at must not be after end_at")
	ErrInvalidAction    = apperr.Validation("action", "invalid_action", "audit action is required")
)
