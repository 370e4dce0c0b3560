package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type staticAuth map[string]string

func (a staticAuth) ParseAuthContext(token string) (string, string, error) {
	userID, ok := a[token]
	if !ok {
		return "", "", errors.New("unknown token")
	}
	return userID, "USER", nil
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthRequired(staticAuth{"good": "alice"}), func(c *gin.Context) {
		userID, _ := UserID(c)
		c.String(http.StatusOK, userID)
	})
	r.GET("/token", func(c *gin.Context) {
		c.String(http.StatusOK, BearerToken(c))
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	r := newEngine()
	cases := []struct {
		header string
		status int
		body   string
	}{
		{"", http.StatusUnauthorized, `{"error":"bearer token is required"}`},
		{"Basic abc", http.StatusUnauthorized, `{"error":"bearer token is required"}`},
		{"Bearer bad", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"Bearer good", http.StatusOK, "alice"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, tc.header)
		assert.Equal(t, tc.body, w.Body.String(), tc.header)
	}
}

func TestBearerTokenFallsBackToQuery(t *testing.T) {
	r := newEngine()

	req := httptest.NewRequest(http.MethodGet, "/token?token=from-query", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "from-query", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/token?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "from-header", w.Body.String())
}
