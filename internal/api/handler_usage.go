package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"labbook-backend/internal/catalog"
	"labbook-backend/internal/model"
	"labbook-backend/internal/parse"
	"labbook-backend/internal/response"
	"labbook-backend/internal/usage"
)

type startRequest struct {
	InstrumentID uuid.UUID `json:"instrumentId" binding:"required"`
	Quantity     *int      `json:"quantity"`
}

type stopRequest struct {
	InstrumentID uuid.UUID `json:"instrumentId" binding:"required"`
	Notes        string    `json:"notes" binding:"max=1000"`
}

type forceStopRequest struct {
	InstrumentID uuid.UUID `json:"instrumentId" binding:"required"`
	UserID       uuid.UUID `json:"userId" binding:"required"`
	Reason       string    `json:"reason" binding:"max=500"`
}

type sessionResponse struct {
	Session    *model.UsageSession `json:"session"`
	Instrument catalog.View        `json:"instrument"`
	Duration   *int                `json:"duration,omitempty"`
}

// StartUsage handles POST /api/usage/start.
func (h *Handler) StartUsage(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	res, err := h.sessions.Start(c.Request.Context(), p, req.InstrumentID, quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, sessionResponse{
		Session:    res.Session,
		Instrument: catalog.NewView(res.Instrument),
	})
}

// StopUsage handles POST /api/usage/stop.
func (h *Handler) StopUsage(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.sessions.Stop(c.Request.Context(), p, req.InstrumentID, req.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, sessionResponse{
		Session:    res.Session,
		Instrument: catalog.NewView(res.Instrument),
		Duration:   &res.DurationMinutes,
	})
}

// ForceStopUsage handles POST /api/usage/force-stop.
func (h *Handler) ForceStopUsage(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	var req forceStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.sessions.ForceStop(c.Request.Context(), p, req.InstrumentID, req.UserID, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, sessionResponse{
		Session:    res.Session,
		Instrument: catalog.NewView(res.Instrument),
		Duration:   &res.DurationMinutes,
	})
}

// ActiveUsage returns a handler for the active session listings.
func (h *Handler) ActiveUsage(scope usage.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := actor(c)
		if !ok {
			return
		}
		page, err := parse.Page(c.Query("page"), c.Query("limit"))
		if err != nil {
			badRequest(c, err)
			return
		}

		sessions, total, err := h.reports.Active(c.Request.Context(), p, scope, page)
		if err != nil {
			h.writeError(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{
			"sessions": sessions,
			"total":    total,
			"page":     page.Page,
			"limit":    page.Limit,
		})
	}
}

// UsageHistory returns a handler for the session history listings.
func (h *Handler) UsageHistory(scope usage.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := actor(c)
		if !ok {
			return
		}
		page, err := parse.Page(c.Query("page"), c.Query("limit"))
		if err != nil {
			badRequest(c, err)
			return
		}
		instrumentID, err := parse.OptionalID(c.Query("instrumentId"))
		if err != nil {
			badRequest(c, err)
			return
		}
		userID, err := parse.OptionalID(c.Query("userId"))
		if err != nil {
			badRequest(c, err)
			return
		}

		hist, err := h.reports.History(c.Request.Context(), p, usage.HistoryQuery{
			Scope:        scope,
			Status:       model.SessionStatus(c.Query("status")),
			InstrumentID: instrumentID,
			UserID:       userID,
			Page:         page,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		response.Success(c, http.StatusOK, hist)
	}
}

// UsageStats handles GET /api/usage/stats?scope=self|all&window=30d.
func (h *Handler) UsageStats(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	window, err := parse.Window(c.Query("window"), usage.DefaultWindow)
	if err != nil {
		badRequest(c, err)
		return
	}
	scope := usage.Scope(c.DefaultQuery("scope", string(usage.ScopeSelf)))

	stats, err := h.reports.Stats(c.Request.Context(), p, scope, window)
	if err != nil {
		h.writeError(c, err)
		return
	}
	data := gin.H{"scope": scope, "windowHours": int(window.Hours()), "stats": stats}
	if scope == usage.ScopeAll {
		top, err := h.reports.TopInstruments(c.Request.Context(), window, usage.DefaultTopLimit)
		if err != nil {
			h.writeError(c, err)
			return
		}
		data["topInstruments"] = top
	}
	response.Success(c, http.StatusOK, data)
}
