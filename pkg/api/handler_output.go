package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/tmux"
)

// outputHandler handles GET /api/workers/:id/output: the current pane
// contents as raw text.
func (s *Server) outputHandler(c *gin.Context) {
	snapshot, err := s.mgr.OutputSnapshot(c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(snapshot))
}

// bufferHandler handles GET /api/workers/:id/buffer?lines=N.
func (s *Server) bufferHandler(c *gin.Context) {
	lines := 0
	if v := c.Query("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "lines must be a non-negative integer")
			return
		}
		lines = n
	}
	tail, err := s.mgr.BufferTail(c.Param("id"), lines)
	if err != nil {
		mapError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(tail))
}

// workerSessionsHandler handles GET /api/workers/:id/sessions: the output
// store's session history for the worker.
func (s *Server) workerSessionsHandler(c *gin.Context) {
	sessions, err := s.store.SessionsForWorker(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// sessionOutputHandler handles GET /api/sessions/:sessionId/output with
// limit/offset pagination.
func (s *Server) sessionOutputHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	chunks, err := s.store.ChunksBySession(c.Request.Context(), c.Param("sessionId"), limit, offset)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": c.Param("sessionId"),
		"chunks":    chunks,
		"limit":     limit,
		"offset":    offset,
	})
}

// summaryHandler handles GET /api/workers/:id/summary: a short provider
// summary of the worker's recent pane output. Pane text is contained
// before it reaches the provider prompt.
func (s *Server) summaryHandler(c *gin.Context) {
	if s.provider == nil {
		mapError(c, backend.ErrProviderUnavailable)
		return
	}
	id := c.Param("id")
	w := s.registry.Get(id)
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}
	tail, err := s.mgr.BufferTail(id, 100)
	if err != nil {
		mapError(c, err)
		return
	}

	prompt := backend.SummaryPrompt(w.Label, backend.ContainUntrusted(tmux.StripANSI(tail)))
	summary, err := s.provider.Complete(c.Request.Context(), prompt)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workerId": id, "summary": summary})
}
