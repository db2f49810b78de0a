package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	workspacedomain "github.com/smallbiznis/tenantry/internal/workspace/domain"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
)

type changeRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) ListWorkspaces(c *gin.Context) {
	id, _ := currentIdentity(c)
	items, err := s.workspaceSvc.ListForUser(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, items)
}

func (s *Server) CreateWorkspace(c *gin.Context) {
	var req workspacedomain.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	ws, err := s.workspaceSvc.Create(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, ws)
}

func (s *Server) GetWorkspace(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	ws, err := s.workspaceSvc.Get(c.Request.Context(), id, workspaceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, ws)
}

func (s *Server) UpdateWorkspace(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req workspacedomain.UpdateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	ws, err := s.workspaceSvc.Update(c.Request.Context(), id, workspaceID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, ws)
}

func (s *Server) DeleteWorkspace(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	if err := s.workspaceSvc.Delete(c.Request.Context(), id, workspaceID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, nil)
}

func (s *Server) SetDefaultWorkspace(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	if err := s.workspaceSvc.SetDefault(c.Request.Context(), id, workspaceID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, nil)
}

func (s *Server) ListMembers(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req pagination.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	page, err := s.workspaceSvc.ListMembers(c.Request.Context(), id, workspaceID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, page)
}

func (s *Server) AddMember(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req workspacedomain.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	member, err := s.workspaceSvc.AddMember(c.Request.Context(), id, workspaceID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, member)
}

func (s *Server) ChangeMemberRole(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := parseIDParam(c, "userId")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	member, err := s.workspaceSvc.ChangeMemberRole(c.Request.Context(), id, workspaceID, userID, req.Role)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, member)
}

func (s *Server) RemoveMember(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := parseIDParam(c, "userId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	if err := s.workspaceSvc.RemoveMember(c.Request.Context(), id, workspaceID, userID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, nil)
}

func (s *Server) LeaveWorkspace(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	if err := s.workspaceSvc.Leave(c.Request.Context(), id, workspaceID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, nil)
}
