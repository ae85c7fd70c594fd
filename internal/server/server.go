// Package server provides the orchestrator's HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/dispatch"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/metrics"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/proxycheck"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/relay"
)

// Store is the persistence surface the API handlers read from.
// *db.Client satisfies it.
type Store interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, ownerID *string, limit int) ([]models.Task, error)
	FindTaskByJobID(ctx context.Context, jobID string) (*models.Task, error)
	ListJobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)
	ListProxies(ctx context.Context) ([]models.Proxy, error)
	CreateProxy(ctx context.Context, id string, p models.Proxy) error
}

// TaskDispatcher submits and cancels tasks. *dispatch.Dispatcher
// satisfies it.
type TaskDispatcher interface {
	Enqueue(ctx context.Context, req dispatch.EnqueueRequest) (taskID, jobID string, err error)
	Cancel(ctx context.Context, taskID string, ownerID *string) error
}

// ProxyChecker runs health checks on demand. *proxycheck.Engine
// satisfies it.
type ProxyChecker interface {
	RunChecksNow(ctx context.Context, concurrency int) (proxycheck.Summary, error)
}

// Deps carries everything the server routes need.
type Deps struct {
	Store      Store
	Dispatcher TaskDispatcher
	Checker    ProxyChecker
	Callback   http.Handler
	Relay      *relay.Relay
	Metrics    *metrics.Collector
	Auth       Authenticator
}

// Server is the orchestrator HTTP service.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// New creates the server with all routes registered.
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{deps: deps, logger: logger}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// The callback route authenticates with its own HMAC signature, not
	// the API token.
	mux.Handle("POST /callback", s.deps.Callback)

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /api/tasks", s.authed(s.handleEnqueue))
	mux.Handle("GET /api/tasks", s.authed(s.handleListTasks))
	mux.Handle("GET /api/tasks/{id}", s.authed(s.handleGetTask))
	mux.Handle("POST /api/tasks/{id}/cancel", s.authed(s.handleCancelTask))
	mux.Handle("GET /api/proxies", s.authed(s.handleListProxies))
	mux.Handle("POST /api/proxies", s.authed(s.handleCreateProxy))
	mux.Handle("POST /api/proxies/check", s.authed(s.handleCheckProxies))
	mux.Handle("GET /api/jobs/{id}/events", s.authed(s.handleJobEvents))
	mux.Handle("GET /api/jobs/{id}/stream", s.authed(s.handleStream))
	mux.Handle("GET /api/stats", s.authed(s.handleStats))

	return LoggingMiddleware(s.logger, mux)
}

// authed wraps a handler with bearer authentication and caller context.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
