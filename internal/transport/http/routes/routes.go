package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/infra/config"
	"github.com/koshcoop/society-security/internal/infra/security"
	"github.com/koshcoop/society-security/internal/transport/http/handlers"
	"github.com/koshcoop/society-security/internal/transport/http/middleware"
	"github.com/koshcoop/society-security/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Login     *usecase.LoginService
	TwoFactor *usecase.TwoFactorService
	Unlock    *usecase.UnlockService
	Sessions  *usecase.SessionService
	Audit     *usecase.AuditService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	TokenIssuer *security.TokenIssuer
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))

	if metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{}); err == nil {
		r.Use(metrics.Handler())
	} else if deps.Logger != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
	}

	authMiddleware := middleware.RequireAuth(deps.TokenIssuer, deps.Services.Sessions)

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		authHandler := handlers.NewAuthHandler(deps.Services.Login, deps.Services.TwoFactor, deps.Services.Sessions)
		authHandler.RegisterRoutes(authGroup, authMiddleware, loginRateLimit(deps)...)

		unlockGroup := api.Group("/unlock")
		unlockHandler := handlers.NewUnlockHandler(deps.Services.Unlock)
		unlockHandler.RegisterMemberRoutes(unlockGroup, unlockRateLimit(deps)...)

		adminGroup := api.Group("/admin")
		adminGroup.Use(authMiddleware, middleware.RequireRank(domain.RoleBranchAdmin))
		unlockHandler.RegisterAdminRoutes(adminGroup)

		auditHandler := handlers.NewAuditHandler(deps.Services.Audit)
		auditHandler.RegisterRoutes(adminGroup)

		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(authMiddleware)
		sessionHandler := handlers.NewSessionHandler(deps.Services.Sessions)
		sessionHandler.RegisterRoutes(sessionGroup)
	}

	return r
}

func loginRateLimit(deps Dependencies) []gin.HandlerFunc {
	return rateLimitFor(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts)
}

func unlockRateLimit(deps Dependencies) []gin.HandlerFunc {
	return rateLimitFor(deps, "unlock_ip", deps.Config.RateLimit.UnlockMaxAttempts)
}

func rateLimitFor(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
