package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"labbook-backend/internal/catalog"
	"labbook-backend/internal/model"
	"labbook-backend/internal/parse"
	"labbook-backend/internal/response"
	"labbook-backend/internal/store"
)

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// ListInstruments handles GET /api/instruments.
func (h *Handler) ListInstruments(c *gin.Context) {
	page, err := parse.Page(c.Query("page"), c.Query("limit"))
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.catalog.List(c.Request.Context(), store.InstrumentFilter{
		Category: c.Query("category"),
		Status:   model.InstrumentStatus(c.Query("status")),
		Search:   c.Query("search"),
		Page:     page,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetInstrument handles GET /api/instruments/:id.
func (h *Handler) GetInstrument(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// CreateInstrument handles POST /api/instruments.
func (h *Handler) CreateInstrument(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	var in catalog.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	view, err := h.catalog.Create(c.Request.Context(), p, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, view)
}

// UpdateInstrument handles PUT /api/instruments/:id.
func (h *Handler) UpdateInstrument(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in catalog.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	view, err := h.catalog.Update(c.Request.Context(), p, id, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// DeleteInstrument handles DELETE /api/instruments/:id.
func (h *Handler) DeleteInstrument(c *gin.Context) {
	p, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.catalog.Remove(c.Request.Context(), p, id); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id})
}

// InstrumentStats handles GET /api/instruments/:id/stats.
func (h *Handler) InstrumentStats(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	report, err := h.reports.InstrumentStats(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}
