// Package api exposes the Execution Orchestrator and Session Store over
// HTTP, the way the teacher's pkg/api exposes its session manager: a thin
// gin.Engine binding JSON request/response structs directly onto the
// domain types, with no business logic living in the handlers themselves.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kilnforge/orchestrator/internal/cloud/gcp"
	"github.com/kilnforge/orchestrator/internal/orchestrator"
	"github.com/kilnforge/orchestrator/internal/security"
	"github.com/kilnforge/orchestrator/internal/session"
)

// logSanitizer strips secret-shaped substrings from error text before it
// is written into an HTTP response body — an orchestration error can
// carry a provider's raw response body, which might itself echo back a
// credential sent in the request.
var logSanitizer = security.NewLogSanitizer()

// Server binds the orchestrator and session store to HTTP handlers.
type Server struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Store
	logger   gcp.LoggerInterface
}

// NewServer constructs a Server. logger may be nil, in which case
// handler-level logging is skipped.
func NewServer(orch *orchestrator.Orchestrator, sessions *session.Store, logger gcp.LoggerInterface) *Server {
	return &Server{orch: orch, sessions: sessions, logger: logger}
}

// Router builds the gin.Engine exposing this server's routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Health)

	executions := r.Group("/executions")
	{
		executions.POST("/:id", s.StartExecution)
		executions.GET("/:id", s.GetStatus)
		executions.GET("/:id/details", s.GetDetails)
		executions.POST("/:id/stop", s.StopExecution)
	}

	return r
}

func (s *Server) logInfo(msg string) {
	if s.logger != nil {
		s.logger.LogInfo(msg)
	}
}
