package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"masterselector/pkg/api/middleware"
	"masterselector/pkg/master"
	tracing "masterselector/pkg/observability"
)

// RunRequest is the optional payload of POST .../run.
type RunRequest struct {
	Address string `json:"address"`
}

// listMasters handles GET /api/v1/masters
func (s *Server) listMasters(c *gin.Context) {
	masters := s.masters.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"masters": masters,
		"count":   len(masters),
	})
}

// getMaster handles GET /api/v1/masters/:service/:version
func (s *Server) getMaster(c *gin.Context) {
	key := middleware.ServiceKey(c)
	addr, ok := s.masters.Master(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no master known", "key": key})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "address": addr})
}

// checkMaster handles GET /api/v1/masters/:service/:version/check?host=&port=
func (s *Server) checkMaster(c *gin.Context) {
	host := c.Query("host")
	if host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host is required"})
		return
	}
	port, err := strconv.Atoi(c.Query("port"))
	if err != nil || port <= 0 || port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return
	}

	service, version := c.Param("service"), c.Param("version")
	c.JSON(http.StatusOK, gin.H{
		"key":       middleware.ServiceKey(c),
		"host":      host,
		"port":      port,
		"is_master": s.masters.IsMaster(service, version, host, port),
	})
}

// runForMaster handles POST /api/v1/masters/:service/:version/run
func (s *Server) runForMaster(c *gin.Context) {
	key := middleware.ServiceKey(c)

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		address = s.masters.Address()
	}

	var requestedBy string
	if claims, ok := middleware.Claims(c); ok {
		requestedBy = claims.Subject
	}

	ctx := c.Request.Context()
	tracing.AddEvent(ctx, "run_for_master",
		attribute.String("service_key", key),
		attribute.String("address", address),
		attribute.String("requested_by", requestedBy),
	)

	if err := s.masters.RunForMasterWithAddress(key, address); err != nil {
		tracing.SetError(ctx, err)
		switch {
		case errors.Is(err, master.ErrInvalidKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, master.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			s.log.Error("run for master failed", zap.String("key", key), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	s.log.Info("contention requested",
		zap.String("key", key),
		zap.String("address", address),
		zap.String("requested_by", requestedBy),
	)
	c.JSON(http.StatusAccepted, gin.H{
		"key":          key,
		"address":      address,
		"requested_by": requestedBy,
		"message":      "contention started",
	})
}

// listContenders handles GET /api/v1/contenders
func (s *Server) listContenders(c *gin.Context) {
	states := s.masters.Contenders()
	out := make(map[string]string, len(states))
	for key, state := range states {
		out[key] = state.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"contenders": out,
		"count":      len(out),
	})
}
