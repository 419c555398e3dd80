package http

import (
	"time"

	"points_ledger/internal/http/handlers"
	"points_ledger/internal/http/middleware"
	"points_ledger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the collaborators and limits the routes need.
type Options struct {
	Handler        *handlers.Handler
	Health         *handlers.HealthHandler
	Hub            *ws.Hub
	Limiter        *middleware.RateLimiter
	AdminToken     string
	AllowedOrigins []string
	APIRateLimit   int
	APIRateWindow  time.Duration
}

func RegisterRoutes(r *gin.Engine, o Options) {
	r.Use(middleware.RequestLogger(), middleware.Metrics())

	// Health checks (no rate limiting)
	r.GET("/health", o.Health.Health)
	r.GET("/healthz", o.Health.Liveness)
	r.GET("/readyz", o.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := o.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil)
	}
	rateLimit := o.APIRateLimit
	if rateLimit <= 0 {
		rateLimit = 60
	}
	rateWindow := o.APIRateWindow
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}

	// API v1 routes
	registerAPIRoutes(r.Group("/api/v1"), o.Handler, limiter.Limit(rateLimit, rateWindow))
	registerAdminRoutes(r.Group("/api/v1/admin", middleware.AdminToken(o.AdminToken)), o.Handler)

	// WebSocket account push
	r.GET("/ws/account", ws.HandleAccount(o.Hub, o.AllowedOrigins))
}

func registerAPIRoutes(api *gin.RouterGroup, h *handlers.Handler, rl gin.HandlerFunc) {
	// JWT first so the limiter keys on the account
	api.Use(middleware.JWT(), rl)

	api.GET("/me", h.Me)
	api.GET("/me/ledger", h.History)

	// Claims
	api.POST("/farming/start", h.StartFarming)
	api.POST("/farming/claim", h.ClaimFarming)
	api.POST("/daily/claim", h.ClaimDaily)
	api.POST("/tasks/:id/complete", h.CompleteTask)
	api.POST("/tasks/:id/claim", h.ClaimTask)

	// Withdrawals
	api.POST("/withdrawals", h.CreateWithdrawal)
	api.POST("/withdrawals/estimate", h.EstimateWithdrawal)
	api.GET("/withdrawals", h.ListWithdrawals)

	// Referral system
	referral := api.Group("/referral")
	{
		referral.POST("/apply", h.ApplyReferral)
		referral.GET("/stats", h.ReferralStats)
	}
}

func registerAdminRoutes(admin *gin.RouterGroup, h *handlers.Handler) {
	admin.POST("/accounts", h.RegisterAccount)
	admin.POST("/accounts/:id/delta", h.ApplyDelta)
	admin.POST("/accounts/:id/vip", h.ActivateVIP)
	admin.PATCH("/withdrawals/:id", h.UpdateWithdrawal)
}
