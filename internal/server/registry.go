package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	"go.uber.org/zap"
)

type thresholdsRequest struct {
	Thresholds map[string]float64 `json:"thresholds"`
}

func registryID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

// -------- Rules --------

func (s *Server) ListRules(c *gin.Context) {
	rules, err := s.registrySvc.ListRules(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

func (s *Server) GetRule(c *gin.Context) {
	rule, err := s.registrySvc.GetRule(c.Request.Context(), registryID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) CreateRule(c *gin.Context) {
	var req registrydomain.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule, err := s.registrySvc.CreateRule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": rule})
}

func (s *Server) UpdateRule(c *gin.Context) {
	var req registrydomain.RulePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule, err := s.registrySvc.UpdateRule(c.Request.Context(), registryID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) DeleteRule(c *gin.Context) {
	if err := s.registrySvc.DeleteRule(c.Request.Context(), registryID(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ToggleRule(c *gin.Context) {
	rule, err := s.registrySvc.ToggleRule(c.Request.Context(), registryID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rule})
}

// -------- Escalation levels --------

func (s *Server) ListLevels(c *gin.Context) {
	levels, err := s.registrySvc.ListLevels(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": levels})
}

func (s *Server) GetLevel(c *gin.Context) {
	level, err := s.registrySvc.GetLevel(c.Request.Context(), registryID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": level})
}

func (s *Server) CreateLevel(c *gin.Context) {
	var req registrydomain.LevelInput
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	level, err := s.registrySvc.CreateLevel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": level})
}

func (s *Server) UpdateLevel(c *gin.Context) {
	var req registrydomain.LevelPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	level, err := s.registrySvc.UpdateLevel(c.Request.Context(), registryID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": level})
}

func (s *Server) DeleteLevel(c *gin.Context) {
	if err := s.registrySvc.DeleteLevel(c.Request.Context(), registryID(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ToggleLevel(c *gin.Context) {
	level, err := s.registrySvc.ToggleLevel(c.Request.Context(), registryID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": level})
}

func (s *Server) SetLevelThresholds(c *gin.Context) {
	var req thresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	levelID := registryID(c)
	overrides, err := s.registrySvc.SetThresholdOverrides(c.Request.Context(), levelID, req.Thresholds)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"level_id": levelID, "overrides": overrides}})
}

// -------- Lifecycle triggers --------

func (s *Server) ListTriggers(c *gin.Context) {
	triggers, err := s.registrySvc.ListTriggers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": triggers})
}

func (s *Server) CreateTrigger(c *gin.Context) {
	var req registrydomain.TriggerInput
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	trigger, err := s.registrySvc.CreateTrigger(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": trigger})
}

func (s *Server) UpdateTrigger(c *gin.Context) {
	var req registrydomain.TriggerPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	trigger, err := s.registrySvc.UpdateTrigger(c.Request.Context(), registryID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trigger})
}

// ReloadRegistry swaps in the stored documents and tells other processes to
// do the same. A failed broadcast does not undo the local reload.
func (s *Server) ReloadRegistry(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, err := s.registrySvc.Reload(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	published := true
	if err := s.registrySvc.PublishReload(ctx); err != nil {
		published = false
		s.log.Warn("registry reload broadcast failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"rules":              len(cfg.Rules),
		"escalation_levels":  len(cfg.Levels),
		"lifecycle_triggers": len(cfg.LifecycleTriggers),
		"loaded_at":          cfg.LoadedAt,
		"published":          published,
	}})
}
