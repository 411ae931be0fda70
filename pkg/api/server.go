package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"masterselector/pkg/api/middleware"
	"masterselector/pkg/auth"
	"masterselector/pkg/logger"
	"masterselector/pkg/master"
	tracing "masterselector/pkg/observability"
)

// MasterService is the part of master.Selector the API serves.
type MasterService interface {
	Snapshot() map[string]string
	Master(key string) (string, bool)
	IsMaster(service, version, host string, port int) bool
	RunForMasterWithAddress(key, address string) error
	Contenders() map[string]master.State
	Connected() bool
	Address() string
}

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	jwt        *auth.JWTService
	log        *zap.Logger

	masters MasterService
}

// Config holds API server configuration.
type Config struct {
	Port        string
	ServiceName string
	Masters     MasterService
	RateLimit   middleware.RateLimiterConfig
	// JWT authenticates mutating routes. Without it they answer 401.
	JWT    *auth.JWTService
	Tracer trace.Tracer
	Logger *zap.Logger
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	log := cfg.Logger
	if log == nil {
		log = logger.Named("api")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "masterselector"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit = middleware.DefaultRateLimiterConfig()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(cfg.ServiceName)
	}

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.Tracer))
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger(log))
	router.Use(middleware.BodySizeLimitMiddleware(64 << 10))

	s := &Server{
		router:  router,
		limiter: middleware.NewRateLimiter(cfg.RateLimit),
		jwt:     cfg.JWT,
		log:     log,
		masters: cfg.Masters,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/masters", s.listMasters)
		v1.GET("/contenders", s.listContenders)

		key := v1.Group("/masters/:service/:version", middleware.ServiceKeyMiddleware())
		{
			key.GET("", s.getMaster)
			key.GET("/check", s.checkMaster)
			key.POST("/run",
				middleware.AuthMiddleware(s.jwt),
				middleware.RequireRole(auth.RoleOperator),
				s.limiter.Middleware(),
				s.runForMaster,
			)
		}
	}
}

// requestLogger is a middleware that logs HTTP requests.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
			zap.String("trace_id", tracing.TraceID(c.Request.Context())),
		)
	}
}

// healthCheck reports whether the coordination session is connected.
func (s *Server) healthCheck(c *gin.Context) {
	connected := s.masters.Connected()

	status := "healthy"
	httpStatus := http.StatusOK
	if !connected {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"connected": connected,
		"address":   s.masters.Address(),
		"timestamp": time.Now().UTC(),
	})
}
