package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"labbook-backend/internal/auth"
	"labbook-backend/internal/catalog"
	"labbook-backend/internal/model"
	"labbook-backend/internal/response"
	"labbook-backend/internal/session"
	"labbook-backend/internal/store"
	"labbook-backend/internal/usage"
)

// Services bundles the application services the handlers call into.
type Services struct {
	Store    store.Store
	Sessions *session.Controller
	Catalog  *catalog.Service
	Reports  *usage.Reporter
	Accounts *auth.Service
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	sessions *session.Controller
	catalog  *catalog.Service
	reports  *usage.Reporter
	accounts *auth.Service
	log      *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, log *slog.Logger) *Handler {
	return &Handler{
		store:    svc.Store,
		sessions: svc.Sessions,
		catalog:  svc.Catalog,
		reports:  svc.Reports,
		accounts: svc.Accounts,
		log:      log,
	}
}

// actor returns the authenticated caller. Routes using it sit behind auth.JWTAuth.
func actor(c *gin.Context) (model.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
	}
	return p, ok
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.log.Error("health check failed", "error", err)
		response.Error(c, http.StatusServiceUnavailable, "UNHEALTHY", "database unreachable")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}
