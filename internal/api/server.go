package api

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/internal/pause"
	"github.com/rendis/weave/internal/runstate"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/internal/streaming"
)

// Deps holds the dependencies for the API server.
type Deps struct {
	Store    store.Store
	Service  *Service
	Executor *engine.Executor
	Pause    *pause.Controller
	RunState *runstate.Tracker
	Hub      streaming.EventHub
	Logger   *slog.Logger
}

// Server serves the JSON API and the SSE event stream.
type Server struct {
	deps Deps
}

// NewServer creates a new Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Workflows.
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/run", s.handleRunWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/state", s.handleRunState)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleWorkflowDiagram)

	// Executions.
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleExecutionEvents)
	mux.HandleFunc("POST /api/executions/{id}/pause", s.handlePauseExecution)
	mux.HandleFunc("POST /api/executions/{id}/resume", s.handleResumeExecution)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancelExecution)
	mux.HandleFunc("GET /api/paused", s.handleListPaused)

	// Scheduled triggers.
	mux.HandleFunc("POST /api/triggers", s.handleCreateTrigger)
	mux.HandleFunc("GET /api/triggers", s.handleListTriggers)
	mux.HandleFunc("PUT /api/triggers/{id}", s.handleUpdateTrigger)
	mux.HandleFunc("DELETE /api/triggers/{id}", s.handleDeleteTrigger)

	// SSE streams.
	mux.HandleFunc("GET /api/sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /api/sse/executions/{id}", s.handleSSEExecution)

	return mux
}
