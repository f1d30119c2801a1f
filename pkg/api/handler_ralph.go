package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/pkg/ralph"
)

// ralphSignalHandler handles POST /api/ralph/signal/:token. The token is
// the only credential; unknown or expired tokens 404 without revealing
// whether they ever existed.
func (s *Server) ralphSignalHandler(c *gin.Context) {
	var sig ralph.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		badRequest(c, "invalid signal: "+err.Error())
		return
	}
	w, err := s.ralph.ApplySignal(c.Param("token"), sig)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "worker": w})
}
