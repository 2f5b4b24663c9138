package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/clock/system"
	"github.com/JakeFAU/modian-insight/internal/config"
	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/metrics"
	"github.com/JakeFAU/modian-insight/internal/progress"
	"github.com/JakeFAU/modian-insight/internal/project"
	"github.com/JakeFAU/modian-insight/internal/runs"
	"github.com/JakeFAU/modian-insight/internal/store"
)

const requestTimeout = 60 * time.Second

// CrawlerControl is the orchestrator surface the API drives.
type CrawlerControl interface {
	Start(ctx context.Context, opts crawler.Options) (string, error)
	Stop()
	Pause() error
	Resume() error
	CurrentTask() (crawler.Task, bool)
	IsRunning() bool
	CrawlOne(ctx context.Context, id int64) (project.Record, error)
}

// ProjectStore is the read side of the versioned store plus cleanup.
type ProjectStore interface {
	QueryIndex(f store.Filter) []project.IndexEntry
	Categories() []store.CategoryCount
	Stats(ctx context.Context) (store.Stats, error)
	LatestVersion(ctx context.Context, id int64) (project.Version, bool, error)
	Versions(ctx context.Context, id int64) ([]project.Version, error)
	Cleanup(ctx context.Context, retentionDays int) (store.CleanupResult, error)
}

// ProgressStats reports progress hub counters.
type ProgressStats interface {
	Stats() progress.Stats
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Deps bundles the collaborators of a Server. Runs may be nil, in which case
// the run endpoints answer 503.
type Deps struct {
	Crawler  CrawlerControl
	Store    ProjectStore
	Runs     runs.Repository
	Progress ProgressStats
	Clock    Clock
	Config   config.Config
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the orchestrator and the store.
type Server struct {
	router   chi.Router
	crawler  CrawlerControl
	store    ProjectStore
	progress ProgressStats
	clock    Clock
	cfg      config.Config
	logger   *zap.Logger
	started  time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	s := &Server{
		crawler:  deps.Crawler,
		store:    deps.Store,
		progress: deps.Progress,
		clock:    clock,
		cfg:      deps.Config,
		logger:   logger.Named("api"),
		started:  clock.Now(),
	}
	runsHandler := NewRunsHandler(deps.Runs, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if deps.Config.Auth.Enabled {
			r.Use(apiKeyMiddleware(deps.Config.Auth.APIKey))
		}
		r.Get("/", s.index)
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemStatus)
			r.Get("/health", s.systemHealth)
			r.Get("/stats", s.systemStats)
			r.Post("/cleanup", s.cleanup)
		})
		r.Route("/crawler", func(r chi.Router) {
			r.Post("/control", s.controlCrawler)
			r.Get("/task", s.currentTask)
			r.Get("/config", s.crawlerConfig)
			r.Get("/test/{project_id}", s.testCrawl)
			r.Get("/runs", runsHandler.ListRuns)
			r.Get("/runs/{run_id}", runsHandler.GetRun)
			r.Get("/runs/{run_id}/failures", runsHandler.ListFailures)
		})
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Get("/categories", s.categories)
			r.Get("/search", s.searchProjects)
			r.Get("/{project_id}", s.getProject)
			r.Get("/{project_id}/versions", s.projectVersions)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil || s.crawler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, "modian insight api", map[string]any{
		"name":    "Modian Insight API",
		"version": "1.0.0",
		"endpoints": map[string][]string{
			"system":   {"GET /api/system/status", "GET /api/system/health", "GET /api/system/stats", "POST /api/system/cleanup"},
			"crawler":  {"POST /api/crawler/control", "GET /api/crawler/task", "GET /api/crawler/config", "GET /api/crawler/test/{project_id}", "GET /api/crawler/runs"},
			"projects": {"GET /api/projects", "GET /api/projects/categories", "GET /api/projects/search", "GET /api/projects/{project_id}", "GET /api/projects/{project_id}/versions"},
		},
	})
}

// envelope is the response body of every /api route.
type envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) ok(w http.ResponseWriter, msg string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg, Data: data, Timestamp: s.clock.Now().UTC()})
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string, err error) {
	body := envelope{Message: msg, Timestamp: s.clock.Now().UTC()}
	if err != nil {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("request_id", requestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
