package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	PageToken   string `form:"page_token"`
	PageSize    int    `form:"page_size"`
	WorkspaceID string `form:"workspace_id"`
	Action      string `form:"action"`
	TargetType  string `form:"target_type"`
	TargetID    string `form:"target_id"`
	ActorID     string `form:"actor_id"`
	StartAt     string `form:"start_at"`
	EndAt       string `form:"end_at"`
}

func (s *Server) ListWorkspaceAuditLogs(c *gin.Context) {
	workspaceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req, err := bindAuditLogQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, id, workspaceID, authorization.ActionAuditLogView); err != nil {
		AbortWithError(c, err)
		return
	}

	req.WorkspaceID = &workspaceID
	resp, err := s.auditSvc.List(ctx, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, resp)
}

// AdminListAuditLogs lists across workspaces; workspace_id narrows it down.
func (s *Server) AdminListAuditLogs(c *gin.Context) {
	req, err := bindAuditLogQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, _ := currentIdentity(c)
	resp, err := s.adminSvc.ListAuditLogs(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, resp)
}

func bindAuditLogQuery(c *gin.Context) (auditdomain.ListAuditLogRequest, error) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return auditdomain.ListAuditLogRequest{}, ErrInvalidRequest
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		return auditdomain.ListAuditLogRequest{}, apperr.Validation("start_at", "invalid_start_at", "start_at must be RFC3339 or YYYY-MM-DD")
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		return auditdomain.ListAuditLogRequest{}, apperr.Validation("end_at", "invalid_end_at", "end_at must be RFC3339 or YYYY-MM-DD")
	}

	req := auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorID:    strings.TrimSpace(query.ActorID),
		StartAt:    startAt,
		EndAt:      endAt,
	}

	if raw := strings.TrimSpace(query.WorkspaceID); raw != "" {
		workspaceID, err := snowflake.ParseString(raw)
		if err != nil || workspaceID <= 0 {
			return auditdomain.ListAuditLogRequest{}, apperr.Validation("workspace_id", "invalid_workspace_id", "invalid workspace_id")
		}
		req.WorkspaceID = &workspaceID
	}
	return req, nil
}
