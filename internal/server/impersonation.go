package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantry/internal/impersonation"
)

type startImpersonationRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) ImpersonationStatus(c *gin.Context) {
	id, _ := currentIdentity(c)
	status := impersonation.Status{}
	if marker, ok := s.markers.ReadToken(c); ok {
		status = s.guard.Status(c.Request.Context(), realIdentity(id), marker)
	}
	respondOK(c, status)
}

func (s *Server) StartImpersonation(c *gin.Context) {
	var req startImpersonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	targetID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, impersonation.ErrInvalidTarget)
		return
	}

	id, _ := currentIdentity(c)
	marker, _ := s.markers.ReadToken(c)
	result, err := s.guard.Start(c.Request.Context(), realIdentity(id), marker, targetID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.markers.Set(c, result.Marker, result.ExpiresAt)
	respond(c, http.StatusCreated, result)
}

// StopImpersonation always clears the marker, even when it no longer resolves.
func (s *Server) StopImpersonation(c *gin.Context) {
	id, _ := currentIdentity(c)
	marker, _ := s.markers.ReadToken(c)
	status := s.guard.Stop(c.Request.Context(), realIdentity(id), marker)

	s.markers.Clear(c)
	respondOK(c, status)
}
