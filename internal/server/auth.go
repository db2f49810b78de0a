package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/impersonation"
	onboardingdomain "github.com/smallbiznis/tenantry/internal/onboarding/domain"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User     userView `json:"user"`
	Redirect string   `json:"redirect"`
}

type userView struct {
	authdomain.UserSummary
	PlatformRole        string  `json:"platform_role"`
	OnboardingCompleted bool    `json:"onboarding_completed"`
	DefaultWorkspaceID  *string `json:"default_workspace_id,omitempty"`
}

type meResponse struct {
	User          userView             `json:"user"`
	Impersonation impersonation.Status `json:"impersonation"`
}

func newUserView(u *authdomain.User) userView {
	view := userView{
		UserSummary:         u.Summary(),
		PlatformRole:        u.PlatformRole,
		OnboardingCompleted: u.OnboardingCompleted,
	}
	if u.DefaultWorkspaceID != nil {
		id := u.DefaultWorkspaceID.String()
		view.DefaultWorkspaceID = &id
	}
	return view
}

func redirectFor(u *authdomain.User) string {
	if u.OnboardingCompleted {
		return onboardingdomain.RedirectWorkspaces
	}
	return onboardingdomain.RedirectOnboarding
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	email := strings.TrimSpace(req.Email)
	result, err := s.authsvc.Login(ctx, authdomain.LoginRequest{
		Email:     email,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		s.auditLogin(ctx, nil, auditdomain.ActionUserLoginFailed, map[string]any{
			"email": email,
		})
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, result.RawToken, result.ExpiresAt)
	s.markers.Clear(c)

	userID := result.User.ID.String()
	s.auditLogin(ctx, &userID, auditdomain.ActionUserLogin, map[string]any{
		"email": result.User.Email,
	})

	respondOK(c, loginResponse{
		User:     newUserView(result.User),
		Redirect: redirectFor(result.User),
	})
}

func (s *Server) auditLogin(ctx context.Context, userID *string, action string, metadata map[string]any) {
	err := s.auditSvc.AuditLog(ctx, nil, string(auditdomain.ActorTypeUser), userID, action, "user", userID, metadata)
	if err != nil {
		s.log.Warn("failed to audit", zap.String("action", action), zap.Error(err))
	}
}

// Logout is idempotent: a missing or stale session still clears the cookies.
func (s *Server) Logout(c *gin.Context) {
	if token, ok := s.sessions.ReadToken(c); ok {
		if err := s.authsvc.Logout(c.Request.Context(), token); err != nil {
			s.log.Debug("logout of unknown session", zap.Error(err))
		}
	}

	s.sessions.Clear(c)
	s.markers.Clear(c)
	respondOK(c, nil)
}

// Me reports the acting user together with the impersonation banner state.
func (s *Server) Me(c *gin.Context) {
	id, _ := currentIdentity(c)
	ctx := c.Request.Context()

	user, err := s.authsvc.GetUser(ctx, id.ActingUserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := impersonation.Status{}
	if marker, ok := s.markers.ReadToken(c); ok {
		status = s.guard.Status(ctx, realIdentity(id), marker)
	}

	respondOK(c, meResponse{
		User:          newUserView(user),
		Impersonation: status,
	})
}
