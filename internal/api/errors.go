package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"labbook-backend/internal/auth"
	"labbook-backend/internal/ledger"
	"labbook-backend/internal/response"
)

// writeError translates err into the error envelope. Unknown errors are
// logged and reported as 500 without leaking details.
func (h *Handler) writeError(c *gin.Context, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	switch le.Kind {
	case ledger.KindCapacityExceeded:
		response.ErrorWithDetails(c, http.StatusConflict, le.Code, le.Message, gin.H{"available": le.Available})
	case ledger.KindConflict:
		response.ErrorWithDetails(c, http.StatusConflict, le.Code, le.Message, gin.H{"retryable": true})
	default:
		response.Error(c, statusOf(le), le.Code, le.Message)
	}
}

func statusOf(e *ledger.Error) int {
	switch e.Kind {
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInvalidState, ledger.KindCapacityExceeded, ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindUnauthorized:
		if errors.Is(e, auth.ErrInvalidCredentials) || errors.Is(e, auth.ErrInactive) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case ledger.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// badRequest reports a malformed request body, path or query value.
func badRequest(c *gin.Context, err error) {
	response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
}
