package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/deps"
	"github.com/agentmux/agentmux/pkg/manager"
	"github.com/agentmux/agentmux/pkg/ralph"
	"github.com/agentmux/agentmux/pkg/ratelimit"
	"github.com/agentmux/agentmux/pkg/tmux"
	"github.com/agentmux/agentmux/pkg/worker"
)

// mapError writes the JSON error response for a service-layer error.
func mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, manager.ErrWorkerNotFound),
		errors.Is(err, ralph.ErrUnknownToken),
		errors.Is(err, tmux.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, manager.ErrAtCapacity),
		errors.Is(err, ratelimit.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})

	case errors.Is(err, manager.ErrInvalidProjectPath),
		errors.Is(err, worker.ErrInvalidLabel),
		errors.Is(err, deps.ErrUnknownDependency),
		errors.Is(err, deps.ErrCycle),
		errors.Is(err, deps.ErrAlreadyRegistered),
		errors.Is(err, deps.ErrUnknownWorkflow),
		errors.Is(err, deps.ErrUnknownTask),
		errors.Is(err, tmux.ErrInvalidSessionName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, tmux.ErrBreakerOpen),
		errors.Is(err, backend.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	case errors.Is(err, tmux.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})

	default:
		slog.Error("Unexpected handler error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// badRequest writes a 400 with the given message.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
