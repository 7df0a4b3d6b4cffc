package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func router(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/v1/raffle", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	router(HeadersMiddleware()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/raffle", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  bool
		credentials string
	}{
		{"listed origin", []string{"https://raffle.example"}, "https://raffle.example", true, "true"},
		{"wildcard", []string{"*"}, "https://anything.example", true, ""},
		{"empty list allows any", nil, "https://anything.example", true, ""},
		{"unlisted origin", []string{"https://raffle.example"}, "https://evil.example", false, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/raffle", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			router(CORSMiddleware(tc.allowed)).ServeHTTP(w, req)

			assert.Equal(t, tc.wantOrigin, w.Header().Get("Access-Control-Allow-Origin") != "")
			assert.Equal(t, tc.credentials, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/raffle", nil)
	req.Header.Set("Origin", "https://raffle.example")
	w := httptest.NewRecorder()
	router(CORSMiddleware([]string{"*"})).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Admin-Secret")
}
