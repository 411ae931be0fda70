package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "masterselector/pkg/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestServiceKeyMiddleware(t *testing.T) {
	router := gin.New()
	router.GET("/masters/:service/:version", ServiceKeyMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, ServiceKey(c))
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/masters/billing/v2", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "billing:v2", w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/masters/"+strings.Repeat("x", 300)+"/v2", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRequestIDKey))
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	id := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err, "generated id must be a uuid")
	assert.Equal(t, id, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	w = serve(router, req)
	assert.Equal(t, "caller-id", w.Header().Get(RequestIDHeader))
}

func TestBodySizeLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(BodySizeLimitMiddleware(8))
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(router, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"address":"10.0.0.1:80"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeadersMiddleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
