// Package api exposes the engine over HTTP: a JSON control surface in
// front of the lifecycle manager plus a WebSocket feed of the event bus.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/config"
	"github.com/agentmux/agentmux/pkg/deps"
	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/manager"
	"github.com/agentmux/agentmux/pkg/output"
	"github.com/agentmux/agentmux/pkg/ralph"
	"github.com/agentmux/agentmux/pkg/ratelimit"
	"github.com/agentmux/agentmux/pkg/sentinel"
	"github.com/agentmux/agentmux/pkg/worker"
)

// wsWriteTimeout bounds one WebSocket send; a stalled client is
// disconnected rather than allowed to pile up writes.
const wsWriteTimeout = 5 * time.Second

// Server wires handlers to the engine's services.
type Server struct {
	cfg      *config.Config
	mgr      *manager.Manager
	registry *worker.Registry
	graph    *deps.Graph
	bus      *events.Bus
	store    *output.Store
	ralph    *ralph.Service
	sentinel *sentinel.Sentinel
	activity *worker.ActivityLog
	limiter  *ratelimit.Limiter

	// provider is nil when no summariser is configured; the summary
	// endpoint then returns 503.
	provider backend.ApiProvider

	connManager *ConnectionManager
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, mgr *manager.Manager, registry *worker.Registry,
	graph *deps.Graph, bus *events.Bus, store *output.Store, ralphSvc *ralph.Service,
	sent *sentinel.Sentinel, activity *worker.ActivityLog, limiter *ratelimit.Limiter,
	provider backend.ApiProvider) *Server {
	return &Server{
		cfg:         cfg,
		mgr:         mgr,
		registry:    registry,
		graph:       graph,
		bus:         bus,
		store:       store,
		ralph:       ralphSvc,
		sentinel:    sent,
		activity:    activity,
		limiter:     limiter,
		provider:    provider,
		connManager: NewConnectionManager(bus, wsWriteTimeout),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/ws", s.wsHandler)

	api := r.Group("/api")
	{
		api.GET("/health", s.healthHandler)

		api.GET("/workers", s.listWorkersHandler)
		api.POST("/workers", s.spawnWorkerHandler)
		api.GET("/workers/pending", s.pendingWorkersHandler)
		api.GET("/workers/:id", s.getWorkerHandler)
		api.DELETE("/workers/:id", s.killWorkerHandler)
		api.POST("/workers/:id/input", s.inputHandler)
		api.POST("/workers/:id/rawInput", s.rawInputHandler)
		api.POST("/workers/:id/resize", s.resizeHandler)
		api.POST("/workers/:id/settings", s.settingsHandler)
		api.POST("/workers/:id/complete", s.completeHandler)
		api.GET("/workers/:id/output", s.outputHandler)
		api.GET("/workers/:id/buffer", s.bufferHandler)
		api.GET("/workers/:id/children", s.childrenHandler)
		api.GET("/workers/:id/siblings", s.siblingsHandler)
		api.GET("/workers/:id/sessions", s.workerSessionsHandler)
		api.GET("/workers/:id/summary", s.summaryHandler)

		api.GET("/sessions/:sessionId/output", s.sessionOutputHandler)

		api.POST("/ralph/signal/:token", s.ralphSignalHandler)

		api.GET("/diagnostics", s.diagnosticsHandler)
		api.GET("/diagnostics/history", s.diagnosticsHistoryHandler)
		api.GET("/activity", s.activityHandler)
	}

	return r
}

// HTTPServer wraps the router in an http.Server bound to the configured
// port, ready for graceful shutdown from main.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.cfg.HTTPPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
