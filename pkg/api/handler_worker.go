package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/pkg/ratelimit"
	"github.com/agentmux/agentmux/pkg/worker"
)

// listWorkersHandler handles GET /api/workers.
func (s *Server) listWorkersHandler(c *gin.Context) {
	workers := s.registry.All()
	if project := c.Query("project"); project != "" {
		workers = s.registry.ByProject(project)
	}
	c.JSON(http.StatusOK, workers)
}

// spawnWorkerHandler handles POST /api/workers. The response is either the
// started worker or, when dependencies gate it, the pending spec.
func (s *Server) spawnWorkerHandler(c *gin.Context) {
	if err := s.limiter.Check(callerID(c), ratelimit.OpSpawn); err != nil {
		mapError(c, err)
		return
	}

	var req worker.SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid spawn request: "+err.Error())
		return
	}

	w, pending, err := s.mgr.Spawn(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return
	}
	if pending != nil {
		c.JSON(http.StatusAccepted, gin.H{"pending": pending})
		return
	}
	c.JSON(http.StatusCreated, w)
}

// pendingWorkersHandler handles GET /api/workers/pending.
func (s *Server) pendingWorkersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Pending())
}

// getWorkerHandler handles GET /api/workers/:id.
func (s *Server) getWorkerHandler(c *gin.Context) {
	id := c.Param("id")
	if w := s.registry.Get(id); w != nil {
		c.JSON(http.StatusOK, w)
		return
	}
	if p := s.registry.GetPending(id); p != nil {
		c.JSON(http.StatusOK, gin.H{"pending": p})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
}

// killWorkerHandler handles DELETE /api/workers/:id.
func (s *Server) killWorkerHandler(c *gin.Context) {
	if err := s.limiter.Check(callerID(c), ratelimit.OpKill); err != nil {
		mapError(c, err)
		return
	}
	force := c.Query("force") == "true"
	if err := s.mgr.Kill(c.Request.Context(), c.Param("id"), force); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// inputHandler handles POST /api/workers/:id/input.
func (s *Server) inputHandler(c *gin.Context) {
	if err := s.limiter.Check(callerID(c), ratelimit.OpInput); err != nil {
		mapError(c, err)
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Input == "" {
		badRequest(c, "input is required")
		return
	}
	if err := s.mgr.SendInput(c.Request.Context(), c.Param("id"), req.Input); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// rawInputHandler handles POST /api/workers/:id/rawInput: tmux key names,
// for control sequences the line-oriented input endpoint cannot express.
func (s *Server) rawInputHandler(c *gin.Context) {
	if err := s.limiter.Check(callerID(c), ratelimit.OpRawInput); err != nil {
		mapError(c, err)
		return
	}
	var req struct {
		Keys []string `json:"keys"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Keys) == 0 {
		badRequest(c, "keys is required")
		return
	}
	if err := s.mgr.SendRawKeys(c.Request.Context(), c.Param("id"), req.Keys...); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// resizeHandler handles POST /api/workers/:id/resize.
func (s *Server) resizeHandler(c *gin.Context) {
	if err := s.limiter.Check(callerID(c), ratelimit.OpResize); err != nil {
		mapError(c, err)
		return
	}
	var req struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Cols <= 0 || req.Rows <= 0 {
		badRequest(c, "cols and rows are required")
		return
	}
	if err := s.mgr.Resize(c.Request.Context(), c.Param("id"), req.Cols, req.Rows); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// settingsHandler handles POST /api/workers/:id/settings. Pointer fields
// distinguish "absent" from "false"; an empty body is rejected.
func (s *Server) settingsHandler(c *gin.Context) {
	if err := s.limiter.Check(callerID(c), ratelimit.OpSettings); err != nil {
		mapError(c, err)
		return
	}
	var req struct {
		AutoAccept *bool `json:"autoAccept"`
		RalphMode  *bool `json:"ralphMode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid settings: "+err.Error())
		return
	}
	if req.AutoAccept == nil && req.RalphMode == nil {
		badRequest(c, "at least one of autoAccept, ralphMode is required")
		return
	}
	w, err := s.mgr.UpdateSettings(c.Param("id"), req.AutoAccept, req.RalphMode)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// completeHandler handles POST /api/workers/:id/complete.
func (s *Server) completeHandler(c *gin.Context) {
	result, err := s.mgr.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	if result.Triggered == nil {
		result.Triggered = []string{}
	}
	c.JSON(http.StatusOK, result)
}

// childrenHandler handles GET /api/workers/:id/children.
func (s *Server) childrenHandler(c *gin.Context) {
	id := c.Param("id")
	if s.registry.Get(id) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}
	c.JSON(http.StatusOK, s.ralph.ChildrenOf(c.Request.Context(), id))
}

// siblingsHandler handles GET /api/workers/:id/siblings: the other
// children of the worker's parent.
func (s *Server) siblingsHandler(c *gin.Context) {
	id := c.Param("id")
	w := s.registry.Get(id)
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}
	siblings := []*worker.Worker{}
	if w.ParentWorkerID != "" {
		for _, sib := range s.registry.ChildrenOf(w.ParentWorkerID) {
			if sib.ID != id {
				siblings = append(siblings, sib)
			}
		}
	}
	c.JSON(http.StatusOK, siblings)
}
