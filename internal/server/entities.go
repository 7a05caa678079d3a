package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creatorops/internal/engine"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
)

const defaultHistoryLimit = 50

type entityEventRequest struct {
	Name      string `json:"name"`
	SubjectID string `json:"subject_id"`
}

type setStageRequest struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type stageChangeRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type sweepRequest struct {
	EntityIDs []string `json:"entity_ids"`
}

func entityID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return "", false
	}
	return id, true
}

func (s *Server) EvaluateEntity(c *gin.Context) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	result, err := s.automation.Evaluate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetEntityScore(c *gin.Context) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	result, err := s.automation.Score(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) HandleEntityEvent(c *gin.Context) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	var req entityEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.automation.HandleEvent(c.Request.Context(), id, engine.Event{
		Name:      strings.TrimSpace(req.Name),
		SubjectID: strings.TrimSpace(req.SubjectID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetEntityStage(c *gin.Context) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	view, err := s.automation.GetStage(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) SetEntityStage(c *gin.Context) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	var req setStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	transition, err := s.automation.SetStage(
		c.Request.Context(),
		id,
		lifecycledomain.Stage(strings.TrimSpace(req.Stage)),
		strings.TrimSpace(req.Reason),
		actorOr(c, req.Actor),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transition})
}

func (s *Server) ClearStageOverride(c *gin.Context) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	transition, err := s.lifecycleSvc.ClearOverride(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transition})
}

func (s *Server) ListStageHistory(c *gin.Context) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		limit = parsed
	}

	history, err := s.lifecycleSvc.History(c.Request.Context(), id, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

func (s *Server) CancelEntity(c *gin.Context) {
	s.changeStage(c, s.lifecycleSvc.Cancel)
}

func (s *Server) ReactivateEntity(c *gin.Context) {
	s.changeStage(c, s.lifecycleSvc.Reactivate)
}

func (s *Server) changeStage(c *gin.Context, fn func(ctx context.Context, entityID, reason, actor string) (lifecycledomain.Transition, error)) {
	id, ok := entityID(c)
	if !ok {
		return
	}

	var req stageChangeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	transition, err := fn(c.Request.Context(), id, strings.TrimSpace(req.Reason), actorOr(c, req.Actor))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transition})
}

func (s *Server) RunSweep(c *gin.Context) {
	var req sweepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	var ids []string
	for _, id := range req.EntityIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}

	result, err := s.automation.Sweep(c.Request.Context(), ids)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
