package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/pkg/db/pagination"
)

type listEntityAuditQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Source    string `form:"source"`
	Resolved  string `form:"resolved"`
}

type resolveAuditRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
}

func (s *Server) ListEntityAudit(c *gin.Context) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	var query listEntityAuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	source := auditdomain.Source(strings.TrimSpace(query.Source))
	switch source {
	case "", auditdomain.SourceRule, auditdomain.SourceEscalation, auditdomain.SourceLifecycle:
	default:
		AbortWithError(c, newValidationError("source", "invalid_source", "invalid source"))
		return
	}

	var resolved *bool
	if raw := strings.TrimSpace(query.Resolved); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("resolved", "invalid_resolved", "invalid resolved"))
			return
		}
		resolved = &parsed
	}

	resp, err := s.auditSvc.ListByEntity(c.Request.Context(), auditdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		EntityID: id,
		Source:   source,
		Resolved: resolved,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Records, "page_info": resp.PageInfo})
}

func (s *Server) GetAuditRecord(c *gin.Context) {
	record, err := s.auditSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ResolveAuditRecord(c *gin.Context) {
	var req resolveAuditRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	id := strings.TrimSpace(c.Param("id"))
	resolved, err := s.automation.Resolve(c.Request.Context(), id, actorOr(c, req.ResolvedBy), req.Notes)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "resolved": resolved}})
}
