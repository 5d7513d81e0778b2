package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"reminderd/internal/core"
	"reminderd/internal/eventbus"
	"reminderd/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	store      *store.Store
	scheduler  *core.Scheduler
	deliverer  *core.Deliverer
	bus        *eventbus.Bus
	logger     *slog.Logger
	location   *time.Location
	authSecret string

	rotateMaxAgeDays int
	startedAt        time.Time
}

// NewServer constructs the HTTP API server.
func NewServer(addr, authSecret string, st *store.Store, scheduler *core.Scheduler, deliverer *core.Deliverer, bus *eventbus.Bus, logger *slog.Logger, location *time.Location, rotateMaxAgeDays int) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:           router,
		store:            st,
		scheduler:        scheduler,
		deliverer:        deliverer,
		bus:              bus,
		logger:           logger,
		location:         location,
		authSecret:       authSecret,
		rotateMaxAgeDays: rotateMaxAgeDays,
		startedAt:        time.Now(),
	}
	s.registerRoutes()

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = httpServer
	return s, nil
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/tasks", s.handleListTasks)
	s.router.Get("/reminders", s.handleListReminders)
	s.router.Get("/api/logs", s.handleQueryLogs)
	s.router.Get("/api/logs/stream", s.handleLogStream)
	s.router.Get("/api/rotations", s.handleListRotations)

	// State-changing endpoints require the shared secret.
	s.router.Group(func(r chi.Router) {
		r.Use(RequireSecret(s.authSecret))

		r.Post("/add-reminder", s.handleAddReminder)
		r.Post("/add-task", s.handleAddTask)
		r.Post("/send-once", s.handleSendOnce)
		r.Post("/complete-task", s.handleCompleteTask)
		r.Post("/rotate-logs", s.handleRotateLogs)
		r.Delete("/tasks/{taskID}", s.handleDeleteTask)
		r.Delete("/reminders/{reminderID}", s.handleDeleteReminder)

		r.Post("/api/logs/{logID}/retry", s.handleRetryLog)
		r.Delete("/api/logs/clear", s.handleClearLogs)
		r.Post("/api/logs/rotate", s.handleRotateLogs)
	})
}

// appendActivity records a non-delivery event; failures are logged, never
// surfaced to the request that triggered them.
func (s *Server) appendActivity(ctx context.Context, entry *core.ActivityLogEntry) {
	if err := s.store.AppendActivityLog(ctx, entry); err != nil {
		s.logger.Error("append activity log", "kind", entry.Kind, "err", err)
		return
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.StreamActivity, entry)
	}
}

func ptrString(v string) *string {
	return &v
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
