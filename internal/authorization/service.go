package authorization

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/pkg/apperr"
)

const ObjectWorkspace = "workspace"

const (
	ActionWorkspaceView   = "workspace.view"
	ActionWorkspaceUpdate = "workspace.update"
	ActionWorkspaceDelete = "workspace.delete"

	ActionMemberList       = "member.list"
	ActionMemberInvite     = "member.invite"
	ActionMemberAdd        = "member.add"
	ActionMemberRemove     = "member.remove"
	ActionMemberChangeRole = "member.change_role"
	ActionOwnerManage      = "owner.manage"

	ActionInvitationList   = "invitation.list"
	ActionInvitationCancel = "invitation.cancel"

	ActionAuditLogView = "audit_log.view"
)

const (
	ReasonPlatformAdmin    = "platform_admin"
	ReasonGranted          = "granted"
	ReasonNotMember        = "not_member"
	ReasonInsufficientRole = "insufficient_role"
)

// Decision is the outcome of a policy check. Role is empty for non-members
// and for platform admins acting outside their memberships.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Role    string `json:"role,omitempty"`
	Reason  string `json:"reason"`
}

type Service interface {
	// Authorize returns nil when the acting user may perform action.
	Authorize(ctx context.Context, id identity.Identity, workspaceID snowflake.ID, action string) error
	Decide(ctx context.Context, id identity.Identity, workspaceID snowflake.ID, action string) (Decision, error)
	RoleOf(ctx context.Context, workspaceID, userID snowflake.ID) (string, error)
}

var (
	ErrUnauthenticated  = apperr.New(apperr.KindUnauthorized, "unauthenticated", "authentication required")
	ErrInvalidAction    = apperr.Validation("action", "invalid_action", "action is required")
	ErrInvalidWorkspace = apperr.Validation("workspace_id", "invalid_workspace", "workspace id is required")
	ErrNotMember        = apperr.New(apperr.KindForbidden, ReasonNotMember, "you are not a member of this workspace")
	ErrInsufficientRole = apperr.New(apperr.KindForbidden, ReasonInsufficientRole, "your role does not allow this action")
)
