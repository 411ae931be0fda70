package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"masterselector/pkg/master"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"
	// ContextRequestIDKey is the gin context key holding the request id.
	ContextRequestIDKey = "request_id"
	// ContextServiceKey is the gin context key holding the validated service key.
	ContextServiceKey = "service_key"

	maxParamLength = 256
)

// ServiceKeyMiddleware validates the :service and :version route parameters
// and stores the joined service key in the context.
func ServiceKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		service, version := c.Param("service"), c.Param("version")
		if len(service) > maxParamLength || len(version) > maxParamLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "service key exceeds maximum length"})
			return
		}

		key := master.ServiceKey(service, version)
		if service == "" || version == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "service and version are required"})
			return
		}
		if err := master.ValidateKey(key); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Set(ContextServiceKey, key)
		c.Next()
	}
}

// ServiceKey returns the key stored by ServiceKeyMiddleware.
func ServiceKey(c *gin.Context) string {
	return c.GetString(ContextServiceKey)
}

// BodySizeLimitMiddleware limits request body size
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// RequestIDMiddleware propagates the caller's request id or assigns a new one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}
