package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"labbook-backend/config"
	"labbook-backend/internal/auth"
	"labbook-backend/internal/model"
	"labbook-backend/internal/mw"
	"labbook-backend/internal/usage"
)

// NewRouter creates and configures a new Gin router. The limiter is owned by
// the caller so that it can be swept periodically.
func NewRouter(h *Handler, cfg config.ServerConfig, limiter *mw.IPRateLimiter, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.RequestLogger(log))

	if limiter == nil {
		limiter = mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	}
	caching := mw.Cache(mw.NewCacheStore(cfg.CacheTTL), cfg.CacheTTL)
	requireAuth := auth.JWTAuth(h.accounts)
	adminOnly := auth.RequireRole(model.RoleAdmin)

	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	api.Use(mw.RateLimiter(limiter))
	{
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)
	}

	authed := api.Group("")
	authed.Use(requireAuth)
	{
		authed.GET("/me", h.Profile)

		authed.POST("/usage/start", h.StartUsage)
		authed.POST("/usage/stop", h.StopUsage)
		authed.GET("/usage/active/me", h.ActiveUsage(usage.ScopeSelf))
		authed.GET("/usage/history/me", h.UsageHistory(usage.ScopeSelf))
		authed.GET("/usage/stats", h.UsageStats)

		authed.GET("/instruments", h.ListInstruments)
		authed.GET("/instruments/:id", h.GetInstrument)
	}

	admin := authed.Group("")
	admin.Use(adminOnly)
	{
		admin.POST("/usage/force-stop", h.ForceStopUsage)
		admin.GET("/usage/active", h.ActiveUsage(usage.ScopeAll))
		admin.GET("/usage/history/all", h.UsageHistory(usage.ScopeAll))

		admin.POST("/instruments", h.CreateInstrument)
		admin.PUT("/instruments/:id", h.UpdateInstrument)
		admin.DELETE("/instruments/:id", h.DeleteInstrument)
		admin.GET("/instruments/:id/stats", h.InstrumentStats)

		admin.GET("/users", h.ListUsers)
		admin.GET("/users/:id", h.GetUser)
		admin.PATCH("/users/:id/status", h.SetUserStatus)
		admin.PATCH("/users/:id/role", h.SetUserRole)

		admin.GET("/admin/dashboard", caching, h.Dashboard)
	}

	return r
}
