package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	admindomain "github.com/smallbiznis/tenantry/internal/admin/domain"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/auth/session"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/config"
	"github.com/smallbiznis/tenantry/internal/impersonation"
	invitationdomain "github.com/smallbiznis/tenantry/internal/invitation/domain"
	"github.com/smallbiznis/tenantry/internal/observability"
	obsmiddleware "github.com/smallbiznis/tenantry/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tenantry/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tenantry/internal/observability/tracing"
	onboardingdomain "github.com/smallbiznis/tenantry/internal/onboarding/domain"
	"github.com/smallbiznis/tenantry/internal/ratelimit"
	workspacedomain "github.com/smallbiznis/tenantry/internal/workspace/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-Id"},
			ExposeHeaders:    []string{"X-Request-Id", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
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

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	authsvc       authdomain.Service
	sessions      *session.Manager
	markers       impersonation.MarkerCookie
	guard         *impersonation.Guard
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	workspaceSvc  workspacedomain.Service
	invitationSvc invitationdomain.Service
	onboardingSvc onboardingdomain.Service
	adminSvc      admindomain.Service
	limiter       ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Authsvc       authdomain.Service
	Sessions      *session.Manager
	Markers       impersonation.MarkerCookie
	Guard         *impersonation.Guard
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	WorkspaceSvc  workspacedomain.Service
	InvitationSvc invitationdomain.Service
	OnboardingSvc onboardingdomain.Service
	AdminSvc      admindomain.Service
	Limiter       ratelimit.Limiter
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authsvc:       p.Authsvc,
		sessions:      p.Sessions,
		markers:       p.Markers,
		guard:         p.Guard,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		workspaceSvc:  p.WorkspaceSvc,
		invitationSvc: p.InvitationSvc,
		onboardingSvc: p.OnboardingSvc,
		adminSvc:      p.AdminSvc,
		limiter:       p.Limiter,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerPublicRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.RateLimit(ratelimit.EndpointSignup), s.Signup)
	auth.POST("/login", s.RateLimit(ratelimit.EndpointLogin), s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	api.GET("/onboarding", s.GetOnboarding)
	api.POST("/onboarding", s.CompleteOnboarding)

	// -------- Workspaces --------
	api.GET("/workspaces", s.ListWorkspaces)
	api.POST("/workspaces", s.CreateWorkspace)
	api.GET("/workspaces/:id", s.GetWorkspace)
	api.PATCH("/workspaces/:id", s.UpdateWorkspace)
	api.DELETE("/workspaces/:id", s.DeleteWorkspace)
	api.POST("/workspaces/:id/default", s.SetDefaultWorkspace)

	// -------- Members --------
	api.GET("/workspaces/:id/members", s.ListMembers)
	api.POST("/workspaces/:id/members", s.AddMember)
	api.PATCH("/workspaces/:id/members/:userId", s.ChangeMemberRole)
	api.DELETE("/workspaces/:id/members/:userId", s.RemoveMember)
	api.POST("/workspaces/:id/leave", s.LeaveWorkspace)

	// -------- Invitations --------
	api.GET("/workspaces/:id/invitations", s.ListInvitations)
	api.POST("/workspaces/:id/invitations", s.CreateInvitation)
	api.DELETE("/workspaces/:id/invitations/:invitationId", s.CancelInvitation)
	api.POST("/invitations/accept", s.RateLimit(ratelimit.EndpointInvitationAccept), s.AcceptInvitation)

	api.GET("/workspaces/:id/audit-logs", s.ListWorkspaceAuditLogs)

	// Impersonation is gated on the real user so an admin can always stop.
	imp := api.Group("/admin/impersonation", s.RealAdminRequired())
	imp.GET("", s.ImpersonationStatus)
	imp.POST("", s.StartImpersonation)
	imp.DELETE("", s.StopImpersonation)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.AuthRequired(), s.AdminRequired())

	admin.GET("/users", s.AdminListUsers)
	admin.GET("/users/:id", s.AdminGetUser)
	admin.PATCH("/users/:id", s.AdminUpdateUser)
	admin.DELETE("/users/:id", s.AdminDeleteUser)

	admin.GET("/workspaces", s.AdminListWorkspaces)
	admin.GET("/workspaces/:id", s.AdminGetWorkspace)
	admin.DELETE("/workspaces/:id", s.AdminDeleteWorkspace)

	admin.GET("/audit-logs", s.AdminListAuditLogs)
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/invitations/accept", s.OptionalAuth(), s.PreviewInvitation)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrRouteNotFound)
	})
}
