package mw

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"labbook-backend/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 2)
	r := gin.New()
	r.Use(RateLimiter(limiter))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", nil).Code)
	rec := do(r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":{"code":"RATE_LIMITED","message":"too many requests, slow down"}}`, rec.Body.String())
}

func TestIPRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(rate.Limit(1), 1)
	limiter.now = func() time.Time { return now }

	limiter.Allow("10.0.0.1")
	now = now.Add(10 * time.Minute)
	limiter.Allow("10.0.0.2")

	assert.Equal(t, 1, limiter.Sweep(5*time.Minute))
	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "10.0.0.2")
}

func TestCache(t *testing.T) {
	calls := 0
	r := gin.New()
	r.GET("/stats", Cache(NewCacheStore(time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.GET("/broken", Cache(NewCacheStore(time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusInternalServerError, gin.H{"calls": calls})
	})

	first := do(r, http.MethodGet, "/stats", nil)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":1}`, first.Body.String())

	second := do(r, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":1}`, second.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))

	// A different query string is a different key.
	assert.JSONEq(t, `{"calls":2}`, do(r, http.MethodGet, "/stats?window=7d", nil).Body.String())

	do(r, http.MethodGet, "/broken", nil)
	rec := do(r, http.MethodGet, "/broken", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 4, calls)
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestID(), RequestLogger(logging.New(&buf, "info", "json")))
	r.GET("/items/:id", func(c *gin.Context) {
		c.Set("user_id", "u-1")
		c.Status(http.StatusNotFound)
	})

	rec := do(r, http.MethodGet, "/items/7", nil)
	id := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)

	line := buf.String()
	assert.Contains(t, line, `"msg":"request rejected"`)
	assert.Contains(t, line, `"path":"/items/:id"`)
	assert.Contains(t, line, `"status":404`)
	assert.Contains(t, line, `"request_id":"`+id+`"`)
	assert.Contains(t, line, `"user_id":"u-1"`)

	incoming := "0b9f3a4c-2f4e-4a8e-9d55-0f0c7a1f2b3c"
	rec = do(r, http.MethodGet, "/items/8", http.Header{RequestIDHeader: []string{incoming}})
	assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))

	rec = do(r, http.MethodGet, "/items/9", http.Header{RequestIDHeader: []string{"not-a-uuid"}})
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}
