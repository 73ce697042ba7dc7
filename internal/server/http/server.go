// Package httpserver provides the HTTP REST API of the submission dedup service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/submission-dedup-service/internal/auth"
	"github.com/helixir/submission-dedup-service/internal/database"
	"github.com/helixir/submission-dedup-service/internal/dedup"
	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
)

// DuplicateRegistry computes detect-duplicate sections and records decisions.
type DuplicateRegistry interface {
	ComputeForStep(ctx context.Context, sc *domain.StepContext) (*domain.DuplicateSection, error)
	RecordDecision(ctx context.Context, in dedup.RecordDecisionInput) (*domain.DuplicateMatch, error)
}

// WorkflowService moves submissions through the workflow and checks visibility.
type WorkflowService interface {
	StepContext(ctx context.Context, submissionID int64) (*domain.StepContext, error)
	Promote(ctx context.Context, principal *domain.Principal, submissionID int64) (*domain.StepContext, error)
	Claim(ctx context.Context, principal *domain.Principal, submissionID int64) (*domain.ClaimedTask, error)
	CanView(ctx context.Context, principal *domain.Principal, sc *domain.StepContext) error
}

// Authenticator issues and resolves bearer tokens.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.Token, error)
	Authenticate(ctx context.Context, token string) (*domain.Principal, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	registry   DuplicateRegistry
	workflow   WorkflowService
	authn      Authenticator
	health     HealthChecker
	metrics    *observability.Metrics
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies. metrics may be nil.
func NewServer(
	cfg Config,
	registry DuplicateRegistry,
	workflow WorkflowService,
	authn Authenticator,
	health HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		registry: registry,
		workflow: workflow,
		authn:    authn,
		health:   health,
		metrics:  metrics,
		validate: newValidator(),
		logger:   observability.WithComponent(logger, "http-server"),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints (no auth)
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/authn/login", s.login)

		r.Group(func(r chi.Router) {
			r.Use(s.bearerAuthMiddleware)

			r.Get("/submission/workspaceitems/{itemID}", s.getWorkspaceItem)

			r.Post("/workflow/workflowitems", s.promoteWorkspaceItem)
			r.Get("/workflow/workflowitems/{itemID}", s.getWorkflowItem)
			r.Patch("/workflow/workflowitems/{itemID}", s.patchWorkflowItem)

			r.Post("/workflow/claimedtasks", s.claimTask)
		})
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler returns readiness status including database connectivity.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
