package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	onboardingdomain "github.com/smallbiznis/tenantry/internal/onboarding/domain"
)

func (s *Server) Signup(c *gin.Context) {
	var req onboardingdomain.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.UserAgent = c.Request.UserAgent()
	req.IPAddress = c.ClientIP()

	result, err := s.onboardingSvc.Signup(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.RawToken != "" {
		s.sessions.Set(c, result.RawToken, result.ExpiresAt)
	}
	s.markers.Clear(c)

	respond(c, http.StatusCreated, result)
}

func (s *Server) GetOnboarding(c *gin.Context) {
	id, _ := currentIdentity(c)
	status, err := s.onboardingSvc.Status(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, status)
}

func (s *Server) CompleteOnboarding(c *gin.Context) {
	var req onboardingdomain.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	ws, err := s.onboardingSvc.Complete(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, ws)
}
