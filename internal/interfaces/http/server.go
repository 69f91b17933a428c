// Package http exposes the launch pipeline and the ledger over a JSON API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/persistence"
)

// Launcher runs launches on behalf of an authenticated agent
type Launcher interface {
	SubmitLaunch(ctx context.Context, credential, postID string) (launch.Record, error)
	ResumeLaunch(ctx context.Context, credential, postID string) (launch.Record, error)
}

// Records reads the launch ledger
type Records interface {
	ByAsset(ctx context.Context, assetID string) (launch.Record, error)
	List(ctx context.Context, filter persistence.ListFilter) ([]launch.Record, error)
}

// Config holds server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// LaunchTimeout bounds one submit or resume run; runs are detached from
	// the client connection so a disconnect does not interrupt a broadcast
	LaunchTimeout time.Duration
}

// Deps are the collaborators behind the routes
type Deps struct {
	Launcher Launcher
	Records  Records
	Health   *Health
	// Metrics serves /metrics; nil leaves the route unregistered
	Metrics http.Handler
}

// Server is the launch API server
type Server struct {
	router *mux.Router
	server *http.Server
	deps   Deps
	config Config
}

type ctxKey int

const requestIDKey ctxKey = iota

// NewServer creates the server and its routes
func NewServer(config Config, deps Deps) *Server {
	if config.LaunchTimeout <= 0 {
		config.LaunchTimeout = 5 * time.Minute
	}
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: config,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/launches", s.submit).Methods(http.MethodPost)
	api.HandleFunc("/launches/{postId}/resume", s.resume).Methods(http.MethodPost)
	api.HandleFunc("/launches", s.list).Methods(http.MethodGet)
	api.HandleFunc("/launches/{assetId}", s.show).Methods(http.MethodGet)

	if s.deps.Health != nil {
		s.router.Handle("/health", s.deps.Health).Methods(http.MethodGet)
	}
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist", nil)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not supported here", nil)
	})
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestIDMiddleware tags each request with an id, reusing a caller's
// X-Request-ID when present
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()[:8]
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		logger := log.With().Str("request_id", requestID).Logger()
		ctx = logger.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		ev := zerolog.Ctx(r.Context()).Info()
		if wrapper.statusCode >= http.StatusInternalServerError {
			ev = zerolog.Ctx(r.Context()).Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("Request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start serves until Shutdown; a clean shutdown returns nil
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("Starting launch API")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down launch API")
	return s.server.Shutdown(ctx)
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
