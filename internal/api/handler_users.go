package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"labbook-backend/internal/auth"
	"labbook-backend/internal/model"
	"labbook-backend/internal/parse"
	"labbook-backend/internal/response"
	"labbook-backend/internal/store"
)

type statusRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

type roleRequest struct {
	Role model.Role `json:"role" binding:"required"`
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(c *gin.Context) {
	var in auth.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.accounts.Register(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, sess)
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var in auth.LoginInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.accounts.Login(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// Profile handles GET /api/me: the caller's account and lifetime usage.
func (h *Handler) Profile(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	u, err := h.accounts.User(c.Request.Context(), p.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	stats, err := h.reports.UserStats(c.Request.Context(), p.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": u, "stats": stats})
}

// ListUsers handles GET /api/users.
func (h *Handler) ListUsers(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	page, err := parse.Page(c.Query("page"), c.Query("limit"))
	if err != nil {
		badRequest(c, err)
		return
	}
	active, err := parse.OptionalBool(c.Query("isActive"))
	if err != nil {
		badRequest(c, err)
		return
	}
	list, err := h.accounts.List(c.Request.Context(), p, store.UserFilter{
		Search: c.Query("search"),
		Role:   model.Role(c.Query("role")),
		Active: active,
		Page:   page,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, list)
}

// GetUser handles GET /api/users/:id, including the user's usage stats and
// the instruments they are using right now.
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	u, err := h.accounts.User(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	stats, err := h.reports.UserStats(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	current, err := h.reports.CurrentlyUsing(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": u, "stats": stats, "currentlyUsing": current})
}

// SetUserStatus handles PATCH /api/users/:id/status.
func (h *Handler) SetUserStatus(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.accounts.SetActive(c.Request.Context(), p, id, *req.IsActive)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, u)
}

// SetUserRole handles PATCH /api/users/:id/role.
func (h *Handler) SetUserRole(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.accounts.SetRole(c.Request.Context(), p, id, req.Role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, u)
}

// Dashboard handles GET /api/admin/dashboard.
func (h *Handler) Dashboard(c *gin.Context) {
	d, err := h.reports.Dashboard(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, d)
}
