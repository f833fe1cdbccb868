// Package ingest is the HTTP front door for business events. It accepts an
// event, durably enqueues it, and acknowledges with 202: matching and
// execution happen asynchronously on the task queue, so producers never
// wait on workflow side effects.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/pkg/schema"
)

// EventSubmitter durably enqueues an event and returns its ID.
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, event *schema.EventRecord) (string, error)
}

// Config holds the HTTP server configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:8750",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server exposes event ingestion and read-only status endpoints.
type Server struct {
	router          chi.Router
	httpServer      *http.Server
	submitter       EventSubmitter
	store           store.Store
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func NewServer(cfg Config, submitter EventSubmitter, s store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	srv := &Server{
		submitter:       submitter,
		store:           s,
		logger:          logger.With("component", "ingest"),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	srv.router = srv.routes()
	srv.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return srv
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleSubmitEvent)
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Get("/executions/{id}/audit", s.handleGetExecutionAudit)
	})
	return r
}

// Start runs the listener until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var event schema.EventRecord
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, schema.NewError(schema.ErrCodeValidation, "malformed event body").WithCause(err))
		return
	}
	if !schema.KnownEventTypes[event.Type] {
		writeError(w, http.StatusBadRequest, schema.NewErrorf(schema.ErrCodeValidation, "unknown event type %q", event.Type))
		return
	}
	if event.ConversationRef == "" && event.OwnerRef == "" {
		writeError(w, http.StatusBadRequest, schema.NewError(schema.ErrCodeValidation, "event needs a conversation_ref or owner_ref"))
		return
	}

	id, err := s.submitter.SubmitEvent(r.Context(), &event)
	if err != nil {
		s.logger.Error("event submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"event_id": id})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleGetExecutionAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetExecution(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := s.store.GetAudit(r.Context(), store.AuditFilter{ExecutionID: id})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	var ae *schema.AutomationError
	if !errors.As(err, &ae) {
		ae = schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	writeJSON(w, status, map[string]any{"error": ae})
}

func writeStoreError(w http.ResponseWriter, err error) {
	var ae *schema.AutomationError
	if errors.As(err, &ae) && ae.Code == schema.ErrCodeNotFound {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
