package handler

import (
	"net/http"

	"mindwell-platform/internal/adapter/http/middleware"
	redisStore "mindwell-platform/internal/adapter/storage/redis"
	"mindwell-platform/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	SessionSvc     ports.SessionService
	WebhookSvc     ports.WebhookService
	UserRepo       ports.UserRepository
	BillingSvc     ports.BillingProvider          // nil = billing disabled
	RateLimitStore *redisStore.RateLimitStore     // nil = request rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep, verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Request-level rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	sessionAuth := middleware.SessionAuth(deps.SessionSvc, deps.UserRepo, deps.Logger)
	adminOnly := middleware.RequireAdmin()

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("sensitive"), authHandler.Register)
		auth.POST("/login", rl("sensitive"), authHandler.Login)
		auth.POST("/forgot-password", rl("sensitive"), authHandler.ForgotPassword)
		auth.POST("/reset-password", rl("sensitive"), authHandler.ResetPassword)
		auth.POST("/verify-email", rl("sensitive"), authHandler.VerifyEmail)
	}

	// --- Session-authenticated routes ---
	authed := v1.Group("/auth", sessionAuth)
	{
		authed.POST("/logout", rl("api"), authHandler.Logout)
		authed.GET("/me", rl("api"), authHandler.Me)
	}

	mfaHandler := NewMFAHandler(deps.AuthSvc)
	mfa := v1.Group("/auth/mfa", sessionAuth)
	{
		mfa.POST("/setup", rl("sensitive"), mfaHandler.Setup)
		mfa.POST("/enable", rl("sensitive"), mfaHandler.Enable)
		mfa.POST("/disable", rl("sensitive"), mfaHandler.Disable)
	}

	// --- Webhook pipeline ---
	webhookHandler := NewWebhookHandler(deps.WebhookSvc, deps.Logger)
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/ingest", rl("api"), webhookHandler.Ingest)
		webhooks.GET("/:id", sessionAuth, adminOnly, rl("api"), webhookHandler.Get)
		webhooks.GET("/:id/logs", sessionAuth, adminOnly, rl("api"), webhookHandler.Logs)
		webhooks.POST("/:id/retry", sessionAuth, adminOnly, rl("api"), webhookHandler.Retry)
	}

	// --- Billing portal ---
	billingHandler := NewBillingHandler(deps.BillingSvc, deps.Logger)
	billing := v1.Group("/billing", sessionAuth)
	{
		billing.POST("/portal", rl("api"), billingHandler.Portal)
	}

	return r
}

// HealthCheck handles GET /health, verifying every registered dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
