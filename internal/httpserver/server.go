package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/llmgate/internal/config"
)

// ModelReadyFunc reports whether the deployment's default model is
// loaded. Readiness always reports this; it only gates readiness when
// REQUIRE_MODEL_READY is set.
type ModelReadyFunc func() bool

// Server holds the HTTP server dependencies and exposes the two mount
// points domain packages attach handlers to: Router (public, unauthenticated
// surface) and V1Router (the /v1 surface, gated by whatever auth middleware
// the caller attaches before mounting routes).
type Server struct {
	Router    *chi.Mux
	V1Router  chi.Router
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time

	redisEnabled      bool
	requireModelReady bool
	modelLoaded       ModelReadyFunc
}

// NewServer creates the HTTP server with middleware and the health/metrics
// surface mounted. modelLoaded may be nil, in which case /readyz omits the
// model-state field and never gates on it, and /modelz reports the model
// as loaded.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, modelLoaded ModelReadyFunc) *Server {
	s := &Server{
		Router:            chi.NewRouter(),
		Logger:            logger,
		DB:                db,
		Redis:             rdb,
		Metrics:           metricsReg,
		startedAt:         time.Now(),
		redisEnabled:      cfg.RedisEnabled,
		requireModelReady: cfg.RequireModelReady,
		modelLoaded:       modelLoaded,
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/modelz", s.handleModelz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/v1", func(r chi.Router) {
		s.V1Router = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleReadyz reports database connectivity, Redis connectivity (when
// enabled), and, if REQUIRE_MODEL_READY is set, whether the required
// models are loaded.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, r, http.StatusServiceUnavailable, "internal_error", "database not ready")
		return
	}

	if s.redisEnabled {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			RespondError(w, r, http.StatusServiceUnavailable, "internal_error", "redis not ready")
			return
		}
	}

	body := map[string]any{"status": "ready"}
	if s.modelLoaded != nil {
		loaded := s.modelLoaded()
		if s.requireModelReady && !loaded {
			RespondError(w, r, http.StatusServiceUnavailable, "llm_not_loaded", "required models are not yet loaded")
			return
		}
		body["model_loaded"] = loaded
	}

	Respond(w, http.StatusOK, body)
}

// handleModelz reports whether the default model is loaded, without
// loading it; it answers 503 only when REQUIRE_MODEL_READY is set and the
// model is not loaded. The per-model listing lives in pkg/model's handler
// mounted at /v1/models.
func (s *Server) handleModelz(w http.ResponseWriter, r *http.Request) {
	loaded := true
	if s.modelLoaded != nil {
		loaded = s.modelLoaded()
	}
	status := http.StatusOK
	if s.requireModelReady && !loaded {
		status = http.StatusServiceUnavailable
	}
	Respond(w, status, map[string]bool{"model_loaded": loaded})
}
