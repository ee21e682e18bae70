// Package control serves the HTTP control surface of a run: Prometheus
// metrics, progress and pause/resume/stop.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/taskpilot/internal/metrics"
	"github.com/aristath/taskpilot/internal/scheduler"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Controller is the part of a scheduler the control surface drives.
type Controller interface {
	Progress() scheduler.Progress
	Pause() error
	Resume() error
	Stop() error
}

// Server wraps the chi router and the scheduler currently being run.
type Server struct {
	router *chi.Mux
	logger *slog.Logger
	addr   string

	mu     sync.RWMutex
	target Controller
}

// NewServer creates a control server exposing the collectors in g.
func NewServer(addr string, g prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		addr:   addr,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)

	s.router.Handle("/metrics", metrics.Handler(g))
	s.router.Get("/progress", s.handleProgress)
	s.router.Post("/pause", s.handleAction(Controller.Pause))
	s.router.Post("/resume", s.handleAction(Controller.Resume))
	s.router.Post("/stop", s.handleAction(Controller.Stop))
	return s
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux { return s.router }

// SetTarget points the control endpoints at c. A nil c detaches them.
func (s *Server) SetTarget(c Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = c
}

func (s *Server) current() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("control server stopped")
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type stateResponse struct {
	State string `json:"state"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	c := s.current()
	if c == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no active run"})
		return
	}
	s.writeJSON(w, http.StatusOK, c.Progress())
}

func (s *Server) handleAction(action func(Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := s.current()
		if c == nil {
			s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no active run"})
			return
		}
		if err := action(c); err != nil {
			s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, stateResponse{State: c.Progress().State.String()})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
