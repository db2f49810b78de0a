package onboarding

import (
	"context"
	"errors"
	"strings"

	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/identity"
	invitationdomain "github.com/smallbiznis/tenantry/internal/invitation/domain"
	"github.com/smallbiznis/tenantry/internal/onboarding/domain"
	workspacedomain "github.com/smallbiznis/tenantry/internal/workspace/domain"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	AuthSvc       authdomain.Service
	WorkspaceSvc  workspacedomain.Service
	InvitationSvc invitationdomain.Service
	Clock         clock.Clock
}

type service struct {
	log           *zap.Logger
	authsvc       authdomain.Service
	workspacesvc  workspacedomain.Service
	invitationsvc invitationdomain.Service
	clock         clock.Clock
}

func NewService(p Params) domain.Service {
	return &service{
		log:           p.Log.Named("onboarding.service"),
		authsvc:       p.AuthSvc,
		workspacesvc:  p.WorkspaceSvc,
		invitationsvc: p.InvitationSvc,
		clock:         p.Clock,
	}
}

// Signup creates an account, opens a session and, when an invite token is
// supplied, redeems it for the new user. A token that is no longer pending
// fails the signup before any account is created.
func (s *service) Signup(ctx context.Context, req domain.SignupRequest) (*domain.SignupResult, error) {
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidRequest
	}

	token := strings.TrimSpace(req.InviteToken)
	if token != "" {
		preview, err := s.invitationsvc.Lookup(ctx, token)
		if err != nil {
			return nil, err
		}
		if preview.Status != invitationdomain.StatusPending {
			return nil, rejectionFor(preview.Status)
		}
	}

	user, err := s.authsvc.CreateUser(ctx, authdomain.CreateUserRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.authsvc.Login(ctx, authdomain.LoginRequest{
		Email:     user.Email,
		Password:  req.Password,
		UserAgent: req.UserAgent,
		IPAddress: req.IPAddress,
	})
	if err != nil {
		return nil, err
	}

	result := &domain.SignupResult{
		User:      user.Summary(),
		Redirect:  domain.RedirectOnboarding,
		RawToken:  session.RawToken,
		ExpiresAt: session.ExpiresAt,
	}

	if token != "" {
		actor := identity.ForUser(session.SessionID, user.ID, user.IsPlatformAdmin())
		accepted, err := s.invitationsvc.Accept(ctx, actor, token)
		if err != nil {
			var appErr *apperr.Error
			if !errors.As(err, &appErr) {
				return nil, err
			}
			s.log.Warn("invitation not redeemed at signup",
				zap.String("user_id", user.ID.String()),
				zap.String("code", appErr.Code),
			)
			result.InvitationError = appErr.Code
			return result, nil
		}
		result.Invitation = accepted
		result.Redirect = domain.RedirectWorkspaces + "/" + accepted.WorkspaceID
	}

	s.log.Info("user signed up", zap.String("user_id", user.ID.String()), zap.Bool("invited", token != ""))
	return result, nil
}

func (s *service) Status(ctx context.Context, actor identity.Identity) (*domain.Status, error) {
	if !actor.Valid() {
		return nil, authorization.ErrUnauthenticated
	}
	user, err := s.authsvc.GetUser(ctx, actor.ActingUserID)
	if err != nil {
		return nil, err
	}
	workspaces, err := s.workspacesvc.ListForUser(ctx, actor)
	if err != nil {
		return nil, err
	}

	status := &domain.Status{
		OnboardingCompleted: user.OnboardingCompleted,
		WorkspaceCount:      len(workspaces),
		Redirect:            domain.RedirectOnboarding,
	}
	if user.DefaultWorkspaceID != nil {
		status.DefaultWorkspaceID = user.DefaultWorkspaceID.String()
	}
	if user.OnboardingCompleted {
		status.Redirect = domain.RedirectWorkspaces
		if status.DefaultWorkspaceID != "" {
			status.Redirect += "/" + status.DefaultWorkspaceID
		}
	}
	return status, nil
}

// Complete creates the first workspace for a user who has not onboarded.
func (s *service) Complete(ctx context.Context, actor identity.Identity, req domain.CompleteRequest) (*workspacedomain.WorkspaceResponse, error) {
	if !actor.Valid() {
		return nil, authorization.ErrUnauthenticated
	}
	user, err := s.authsvc.GetUser(ctx, actor.ActingUserID)
	if err != nil {
		return nil, err
	}
	if user.OnboardingCompleted {
		return nil, domain.ErrAlreadyOnboarded
	}
	return s.workspacesvc.Create(ctx, actor, workspacedomain.CreateWorkspaceRequest{Name: req.WorkspaceName})
}

func rejectionFor(status string) error {
	switch status {
	case invitationdomain.StatusAccepted:
		return invitationdomain.ErrAlreadyAccepted
	case invitationdomain.StatusCancelled:
		return invitationdomain.ErrCancelled
	case invitationdomain.StatusExpired:
		return invitationdomain.ErrExpired
	default:
		return invitationdomain.ErrNotFound
	}
}
