package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/smallbiznis/creatorops/internal/engine"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	"github.com/smallbiznis/creatorops/internal/observability"
	obsmiddleware "github.com/smallbiznis/creatorops/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creatorops/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creatorops/internal/observability/tracing"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	automation   engine.Service
	registrySvc  registrydomain.Service
	lifecycleSvc lifecycledomain.Service
	auditSvc     auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Engine       engine.Service
	RegistrySvc  registrydomain.Service
	LifecycleSvc lifecycledomain.Service
	AuditSvc     auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http"),
		automation:   p.Engine,
		registrySvc:  p.RegistrySvc,
		lifecycleSvc: p.LifecycleSvc,
		auditSvc:     p.AuditSvc,
	}

	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin/v1")
	admin.Use(ActorContext())

	// -------- Entities --------
	admin.POST("/entities/:id/evaluate", s.EvaluateEntity)
	admin.GET("/entities/:id/score", s.GetEntityScore)
	admin.POST("/entities/:id/events", s.HandleEntityEvent)
	admin.GET("/entities/:id/audit", s.ListEntityAudit)

	// -------- Lifecycle --------
	admin.GET("/entities/:id/stage", s.GetEntityStage)
	admin.PUT("/entities/:id/stage", s.SetEntityStage)
	admin.DELETE("/entities/:id/stage/override", s.ClearStageOverride)
	admin.GET("/entities/:id/stage/history", s.ListStageHistory)
	admin.POST("/entities/:id/cancel", s.CancelEntity)
	admin.POST("/entities/:id/reactivate", s.ReactivateEntity)

	// -------- Sweeps & audit --------
	admin.POST("/sweeps", s.RunSweep)
	admin.GET("/audit/:id", s.GetAuditRecord)
	admin.POST("/audit/:id/resolve", s.ResolveAuditRecord)

	// -------- Rules --------
	admin.GET("/rules", s.ListRules)
	admin.POST("/rules", s.CreateRule)
	admin.GET("/rules/:id", s.GetRule)
	admin.PATCH("/rules/:id", s.UpdateRule)
	admin.DELETE("/rules/:id", s.DeleteRule)
	admin.POST("/rules/:id/toggle", s.ToggleRule)

	// -------- Escalation levels --------
	admin.GET("/escalation-levels", s.ListLevels)
	admin.POST("/escalation-levels", s.CreateLevel)
	admin.GET("/escalation-levels/:id", s.GetLevel)
	admin.PATCH("/escalation-levels/:id", s.UpdateLevel)
	admin.DELETE("/escalation-levels/:id", s.DeleteLevel)
	admin.POST("/escalation-levels/:id/toggle", s.ToggleLevel)
	admin.PUT("/escalation-levels/:id/thresholds", s.SetLevelThresholds)

	// -------- Lifecycle triggers --------
	admin.GET("/lifecycle-triggers", s.ListTriggers)
	admin.POST("/lifecycle-triggers", s.CreateTrigger)
	admin.PATCH("/lifecycle-triggers/:id", s.UpdateTrigger)

	admin.POST("/registry/reload", s.ReloadRegistry)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
