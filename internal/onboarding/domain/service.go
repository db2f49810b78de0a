package domain

import (
	"context"
	"time"

	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/identity"
	invitationdomain "github.com/smallbiznis/tenantry/internal/invitation/domain"
	workspacedomain "github.com/smallbiznis/tenantry/internal/workspace/domain"
	"github.com/smallbiznis/tenantry/pkg/apperr"
)

type Service interface {
	Signup(ctx context.Context, req SignupRequest) (*SignupResult, error)
	Status(ctx context.Context, actor identity.Identity) (*Status, error)
	Complete(ctx context.Context, actor identity.Identity, req CompleteRequest) (*workspacedomain.WorkspaceResponse, error)
}

type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	InviteToken string `json:"invite_token"`
	UserAgent   string `json:"-"`
	IPAddress   string `json:"-"`
}

// SignupResult carries the new session. InvitationError is set when the
// invite could not be redeemed after the account was created.
type SignupResult struct {
	User            authdomain.UserSummary         `json:"user"`
	Invitation      *invitationdomain.AcceptResult `json:"invitation,omitempty"`
	InvitationError string                         `json:"invitation_error,omitempty"`
	Redirect        string                         `json:"redirect"`

	RawToken  string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

type CompleteRequest struct {
	WorkspaceName string `json:"workspace_name"`
}

type Status struct {
	OnboardingCompleted bool   `json:"onboarding_completed"`
	DefaultWorkspaceID  string `json:"default_workspace_id,omitempty"`
	WorkspaceCount      int    `json:"workspace_count"`
	Redirect            string `json:"redirect"`
}

const (
	RedirectOnboarding = "/onboarding"
	RedirectWorkspaces = "/workspaces"
)

var (
	ErrAlreadyOnboarded = apperr.New(apperr.KindConflict, "already_onboarded", "onboarding is already complete")
	ErrInvalidRequest   = apperr.Validation("email", "invalid_signup", "email and password are required")
)
