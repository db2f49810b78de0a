package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantry/internal/identity"
	invitationdomain "github.com/smallbiznis/tenantry/internal/invitation/domain"
)

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

type invitationPreviewResponse struct {
	Invitation    *invitationdomain.Preview `json:"invitation"`
	Authenticated bool                      `json:"authenticated"`
	Redirect      string                    `json:"redirect,omitempty"`
}

func (s *Server) ListInvitations(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req invitationdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	page, err := s.invitationSvc.ListPending(c.Request.Context(), id, workspaceID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, page)
}

func (s *Server) CreateInvitation(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req invitationdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	result, err := s.invitationSvc.Create(c.Request.Context(), id, workspaceID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, result)
}

func (s *Server) CancelInvitation(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	invitationID, err := parseIDParam(c, "invitationId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	if err := s.invitationSvc.Cancel(c.Request.Context(), id, workspaceID, invitationID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, nil)
}

// PreviewInvitation backs the accept landing page. Visitors without a
// session are sent to signup with the token carried along.
func (s *Server) PreviewInvitation(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		AbortWithError(c, invitationdomain.ErrInvalidToken)
		return
	}

	preview, err := s.invitationSvc.Lookup(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := invitationPreviewResponse{Invitation: preview}
	if _, ok := identity.FromContext(c.Request.Context()); ok {
		resp.Authenticated = true
	} else {
		resp.Redirect = "/signup?invite_token=" + url.QueryEscape(token)
	}
	respondOK(c, resp)
}

func (s *Server) AcceptInvitation(c *gin.Context) {
	var req acceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	result, err := s.invitationSvc.Accept(c.Request.Context(), id, req.Token)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, result)
}
