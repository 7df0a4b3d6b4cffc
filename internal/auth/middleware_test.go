package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(secret string, header, value string) (*httptest.ResponseRecorder, bool) {
	var admin bool
	r := gin.New()
	r.POST("/v1/raffle/upkeep", RequireAdmin(secret), func(c *gin.Context) {
		admin = IsAdmin(c)
		c.Status(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/raffle/upkeep", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, admin
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		value  string
		want   int
	}{
		{"bearer", "s3cret", "Authorization", "Bearer s3cret", http.StatusAccepted},
		{"bearer lowercase scheme", "s3cret", "Authorization", "bearer s3cret", http.StatusAccepted},
		{"admin header", "s3cret", HeaderAdminSecret, "s3cret", http.StatusAccepted},
		{"missing", "s3cret", "", "", http.StatusUnauthorized},
		{"basic scheme ignored", "s3cret", "Authorization", "Basic s3cret", http.StatusUnauthorized},
		{"wrong", "s3cret", "Authorization", "Bearer nope", http.StatusForbidden},
		{"no secret configured", "", "", "", http.StatusAccepted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, admin := serve(tc.secret, tc.header, tc.value)
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, tc.want == http.StatusAccepted, admin)
		})
	}
}
