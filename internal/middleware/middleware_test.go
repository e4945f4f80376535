package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) {
		id, _ := c.Get(ContextRequestIDKey)
		c.String(http.StatusOK, "%v", id)
	})
	return r
}

func TestCORSAllowlist(t *testing.T) {
	r := newTestEngine(CORS([]string{"https://lab.example"}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://lab.example")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, "https://lab.example", resp.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/ping", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)
}

func TestCORSAllowAll(t *testing.T) {
	r := newTestEngine(CORS(nil))
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	r := newTestEngine(RequestID())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, "abc-123", resp.Header().Get(HeaderRequestID))
	require.Equal(t, "abc-123", resp.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	generated := resp.Header().Get(HeaderRequestID)
	require.Len(t, generated, 36)
	require.Equal(t, generated, resp.Body.String())
}
