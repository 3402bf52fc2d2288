package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/gateway"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
	"github.com/abdulhad-eng/home-fair-share/internal/ratelimit"
	"github.com/abdulhad-eng/home-fair-share/internal/transport/http/handlers"
	"github.com/abdulhad-eng/home-fair-share/internal/transport/http/middleware"
	"github.com/abdulhad-eng/home-fair-share/internal/verification"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config        *config.AppConfig
	Logger        *zap.Logger
	Gateway       *gateway.Gateway
	Flows         *verification.Registry
	Consents      handlers.ConsentCompleter
	Limiter       *ratelimit.Limiter
	HTTPMetrics   *middleware.HTTPMetrics
	MetricsSource prometheus.Gatherer
	Database      DatabaseChecker
	Cache         CacheChecker
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
	r.Use(otelgin.Middleware(deps.Config.Telemetry.ServiceName))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	r.Use(deps.HTTPMetrics.Handler())

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

	gatherer := deps.MetricsSource
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if deps.Gateway == nil {
		return r
	}

	authGroup := r.Group("/api/v1/auth")
	authGroup.Use(middleware.SessionCookie(deps.Config.Session))

	limiter := middleware.NewRateLimiter(deps.Limiter, deps.Logger)

	handlers.NewAuthHandler(deps.Gateway).RegisterRoutes(authGroup, buildCredentialMiddlewares(deps, limiter)...)
	handlers.NewPasswordHandler(deps.Gateway).RegisterRoutes(authGroup, buildPasswordResetMiddlewares(deps, limiter)...)

	if deps.Consents != nil {
		handlers.NewSocialHandler(deps.Gateway, deps.Consents).RegisterRoutes(authGroup)
	}
	if deps.Flows != nil {
		handlers.NewVerificationHandler(deps.Gateway, deps.Flows, deps.Logger).
			RegisterRoutes(authGroup, buildDispatchMiddlewares(deps, limiter)...)
	}

	return r
}

func ipRule(name string, limit int, window, fallback time.Duration) middleware.RateLimitRule {
	if window <= 0 {
		window = fallback
	}
	if window <= 0 {
		window = time.Minute
	}
	return middleware.RateLimitRule{
		Rule:       ratelimit.Rule{Name: name, Limit: limit, Window: window},
		Identifier: middleware.ClientIPIdentifier(),
	}
}

func buildCredentialMiddlewares(deps Dependencies, limiter *middleware.RateLimiter) []gin.HandlerFunc {
	if deps.Limiter == nil {
		return nil
	}
	rl := deps.Config.RateLimit
	rule := ipRule("auth_credentials_ip", rl.SignInMaxAttempts+rl.RegisterMaxAttempts, rl.WindowDuration, time.Minute)
	return []gin.HandlerFunc{limiter.RateLimit(rule)}
}

func buildPasswordResetMiddlewares(deps Dependencies, limiter *middleware.RateLimiter) []gin.HandlerFunc {
	if deps.Limiter == nil {
		return nil
	}
	rl := deps.Config.RateLimit
	rule := ipRule("password_reset_ip", rl.PasswordResetMaxAttempts, rl.WindowDuration, time.Hour)
	return []gin.HandlerFunc{limiter.RateLimit(rule)}
}

func buildDispatchMiddlewares(deps Dependencies, limiter *middleware.RateLimiter) []gin.HandlerFunc {
	if deps.Limiter == nil {
		return nil
	}
	rl := deps.Config.RateLimit
	rule := ipRule("code_dispatch_ip", rl.PhoneSendMaxAttempts, rl.PhoneSendWindow, rl.WindowDuration)
	return []gin.HandlerFunc{limiter.RateLimit(rule)}
}
