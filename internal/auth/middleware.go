package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"labbook-backend/internal/model"
	"labbook-backend/internal/response"
)

const principalKey = "principal"

// JWTAuth requires a valid bearer token and stores the caller's principal
// in the gin context.
func JWTAuth(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}

		p, err := svc.Authenticate(c.Request.Context(), token)
		switch {
		case errors.Is(err, ErrInactive):
			response.Error(c, http.StatusUnauthorized, ErrInactive.Code, ErrInactive.Message)
			return
		case errors.Is(err, ErrInvalidToken):
			response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		case err != nil:
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to authenticate")
			return
		}

		c.Set(principalKey, p)
		c.Set("user_id", p.UserID.String())
		c.Next()
	}
}

// RequireRole rejects callers without the given role. It must run after JWTAuth.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok || p.Role != role {
			response.Error(c, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by JWTAuth.
func PrincipalFrom(c *gin.Context) (model.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return model.Principal{}, false
	}
	p, ok := v.(model.Principal)
	return p, ok
}
