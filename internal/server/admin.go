package server

import (
	"github.com/gin-gonic/gin"
	admindomain "github.com/smallbiznis/tenantry/internal/admin/domain"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
)

func (s *Server) AdminListUsers(c *gin.Context) {
	var req admindomain.ListUsersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	page, err := s.adminSvc.ListUsers(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, page)
}

func (s *Server) AdminGetUser(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	user, err := s.adminSvc.GetUser(c.Request.Context(), id, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, user)
}

func (s *Server) AdminUpdateUser(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req admindomain.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	user, err := s.adminSvc.UpdateUser(c.Request.Context(), id, userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, user)
}

func (s *Server) AdminDeleteUser(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	if err := s.adminSvc.DeleteUser(c.Request.Context(), id, userID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, nil)
}

func (s *Server) AdminListWorkspaces(c *gin.Context) {
	var req pagination.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, _ := currentIdentity(c)
	page, err := s.adminSvc.ListWorkspaces(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, page)
}

func (s *Server) AdminGetWorkspace(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	ws, err := s.adminSvc.GetWorkspace(c.Request.Context(), id, workspaceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, ws)
}

func (s *Server) AdminDeleteWorkspace(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	if err := s.adminSvc.DeleteWorkspace(c.Request.Context(), id, workspaceID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, nil)
}
