package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilnforge/orchestrator/internal/orchestrator"
)

// stopTimeout bounds how long a stop request waits for sandbox teardown
// to complete; Stop itself is a bounded sequence of transport calls, not
// the full orchestration, so it does not need MaxOrchestrationTime.
const stopTimeout = 30 * time.Second

// StartExecutionRequest is the request body for POST /executions/:id.
type StartExecutionRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// StopExecutionRequest is the request body for POST /executions/:id/stop.
type StopExecutionRequest struct {
	Reason string `json:"reason"`
}

// Health reports liveness; it performs no dependency checks, matching
// spec.md's non-goal of fleet-level health scheduling.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StartExecution handles POST /executions/:id, starting a new autonomous
// run for the named session. The request/response cycle itself carries
// no event stream — callers poll GetStatus/GetDetails; onEvent only
// drives process-level logging here.
func (s *Server) StartExecution(c *gin.Context) {
	sessionID := c.Param("id")

	var req StartExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.sessions.GetOrCreate(sessionID)

	onEvent := func(evt orchestrator.Event) {
		s.logInfo(fmt.Sprintf("session %s: %s", sessionID, evt.Type))
	}

	exec, err := s.orch.Start(c.Request.Context(), sessionID, req.Prompt, onEvent)
	if err != nil {
		var already *orchestrator.AlreadyRunning
		if errors.As(err, &already) {
			c.JSON(http.StatusConflict, gin.H{"error": logSanitizer.Sanitize(err.Error())})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": logSanitizer.Sanitize(err.Error())})
		return
	}

	s.sessions.Touch(sessionID)
	c.JSON(http.StatusAccepted, gin.H{"session_id": exec.SessionID, "state": exec.State})
}

// GetStatus handles GET /executions/:id.
func (s *Server) GetStatus(c *gin.Context) {
	status, err := s.orch.Status(c.Param("id"))
	if err != nil {
		writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetDetails handles GET /executions/:id/details.
func (s *Server) GetDetails(c *gin.Context) {
	details, err := s.orch.Details(c.Param("id"))
	if err != nil {
		writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// StopExecution handles POST /executions/:id/stop.
func (s *Server) StopExecution(c *gin.Context) {
	var req StopExecutionRequest
	_ = c.ShouldBindJSON(&req) // body is optional; an empty reason is fine

	reason := req.Reason
	if reason == "" {
		reason = "client_requested"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), stopTimeout)
	defer cancel()

	lifetime, err := s.orch.Stop(ctx, c.Param("id"), reason)
	if err != nil {
		writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lifetime_ms": lifetime.Milliseconds()})
}

func writeLookupError(c *gin.Context, err error) {
	var notFound *orchestrator.NotFound
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": logSanitizer.Sanitize(err.Error())})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": logSanitizer.Sanitize(err.Error())})
}
