package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// healthHandler handles GET /api/health. The shape is fixed: existing
// clients poll for status "ok". The rich view lives under /api/diagnostics.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// diagnosticsHandler handles GET /api/diagnostics: the latest Sentinel
// report, running a probe on demand if none exists yet.
func (s *Server) diagnosticsHandler(c *gin.Context) {
	report, ok := s.sentinel.Latest()
	if !ok {
		report = s.sentinel.Probe(c.Request.Context())
	}
	c.JSON(http.StatusOK, report)
}

// diagnosticsHistoryHandler handles GET /api/diagnostics/history?limit=N.
func (s *Server) diagnosticsHistoryHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	c.JSON(http.StatusOK, s.sentinel.History(limit))
}

// activityHandler handles GET /api/activity?limit=N, newest first.
func (s *Server) activityHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	c.JSON(http.StatusOK, s.activity.Recent(limit))
}
