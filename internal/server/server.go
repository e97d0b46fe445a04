package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/stepwise/internal/config"
	"github.com/lazypower/stepwise/internal/engine"
	"github.com/lazypower/stepwise/internal/logging"
	"github.com/lazypower/stepwise/internal/metrics"
	"github.com/lazypower/stepwise/internal/store"
)

// Server is the stepwise HTTP API server.
type Server struct {
	engine  *engine.Engine
	db      *store.DB
	limits  config.StepsConfig
	log     *slog.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server around eng. limits bounds step listings.
func New(eng *engine.Engine, limits config.StepsConfig, version string) *Server {
	s := &Server{
		engine:  eng,
		db:      eng.DB,
		limits:  limits,
		log:     logging.New("server"),
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/templates", s.handleListTemplates)
		r.Route("/templates/{templateID}", func(r chi.Router) {
			r.Get("/", s.handleGetTemplate)
			r.Post("/evaluate", s.handleEvaluate)
			r.Post("/steps", s.handleSubmitStep)
		})

		r.Get("/steps", s.handleListSteps)
		r.Route("/steps/{stepID}", func(r chi.Router) {
			r.Get("/", s.handleGetStep)
			r.Get("/form", s.handleStepForm)
			r.Post("/resubmit", s.handleResubmit)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
