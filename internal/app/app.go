// Package app wires the gateway together: configuration, infrastructure
// clients, the model registry with its load-mode policy, the capability
// resolver, the tiered cache, the inference coordinator, and the HTTP
// surface.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/internal/audit"
	"github.com/wisbric/llmgate/internal/config"
	"github.com/wisbric/llmgate/internal/httpserver"
	"github.com/wisbric/llmgate/internal/ops"
	"github.com/wisbric/llmgate/internal/platform"
	"github.com/wisbric/llmgate/internal/telemetry"
	"github.com/wisbric/llmgate/pkg/apikey"
	"github.com/wisbric/llmgate/pkg/cache"
	"github.com/wisbric/llmgate/pkg/capability"
	"github.com/wisbric/llmgate/pkg/inference"
	"github.com/wisbric/llmgate/pkg/model"
	"github.com/wisbric/llmgate/pkg/policy"
	"github.com/wisbric/llmgate/pkg/schema"
	"github.com/wisbric/llmgate/pkg/usage"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, builds the model registry per load-mode policy, and
// serves the HTTP surface until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting llmgate", "listen", cfg.ListenAddr())

	// Database
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	// Redis (optional; the KV cache tier and rate window degrade without it).
	var rdb *redis.Client
	if cfg.RedisEnabled {
		rdb, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	} else {
		logger.Info("redis disabled, running with row-tier cache only")
	}

	// Metrics
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)
	if cfg.RedisEnabled {
		telemetry.CacheKVEnabled.Set(1)
	} else {
		telemetry.CacheKVEnabled.Set(0)
	}

	// Ops notifications (noop when SLACK_BOT_TOKEN is unset).
	notifier := ops.NewNotifier(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
	if notifier.IsEnabled() {
		logger.Info("slack ops notifications enabled", "channel", cfg.SlackOpsChannel)
	}

	// Model registry.
	modelsPath := model.ResolveConfigPath(cfg.AppRoot, cfg.ModelsYAML, cfg.AppConfigPath)
	modelsCfg, err := model.LoadConfig(modelsPath)
	if err != nil {
		return fmt.Errorf("loading models config from %s: %w", modelsPath, err)
	}
	if cfg.ModelLoadMode != "" {
		mode, ok := model.ParseLoadMode(cfg.ModelLoadMode)
		if !ok {
			return fmt.Errorf("invalid MODEL_LOAD_MODE %q", cfg.ModelLoadMode)
		}
		for _, spec := range modelsCfg.Models {
			spec.LoadMode = mode
		}
	}

	if err := checkWeightsCache(cfg.HFHome, modelsCfg); err != nil {
		return err
	}

	factory := model.NewBackendFactory(nil, time.Duration(cfg.UpstreamTimeoutSeconds)*time.Second)
	registry, err := model.NewRegistry(modelsCfg, factory)
	if err != nil {
		return fmt.Errorf("building model registry: %w", err)
	}

	if err := loadEagerModels(ctx, cfg, modelsCfg, registry, logger, notifier); err != nil {
		return err
	}

	// Policy snapshot (fail-closed when the artifact is broken).
	policyStore := policy.NewStore(cfg.PolicyDecisionPath, logger)

	resolver := &capability.Resolver{
		Registry: registry,
		Deployment: capability.Deployment{
			GenerateEnabled: cfg.GenerateEnabled,
			ExtractEnabled:  cfg.ExtractEnabled,
		},
		AllowedList: cfg.AllowedModels,
		Policy:      policyStore,
	}

	// Extraction schemas.
	schemas := loadSchemas(cfg.SchemasDir, logger)

	// Audit log writer (async, buffered).
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	// Two-tier completion cache.
	completionCache := cache.New(rdb, cfg.RedisEnabled, cache.NewStore(db), time.Duration(cfg.CacheTTLSeconds)*time.Second)

	coordinator := &inference.Coordinator{
		Registry:      registry,
		Resolver:      resolver,
		Cache:         completionCache,
		Schemas:       schemas,
		Audit:         auditWriter,
		Logger:        logger,
		TokenCounting: cfg.TokenCounting,
	}

	gate := apikey.NewGate(apikey.NewStore(db), rdb, cfg.RedisEnabled, cfg.DefaultRatePerMinute, logger, auditWriter)

	modelLoaded := func() bool { return registry.IsLoaded(registry.DefaultID()) }

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, modelLoaded)
	mountRoutes(srv, cfg, logger, db, coordinator, gate, registry, factory, schemas, policyStore, notifier)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(cfg.UpstreamTimeoutSeconds+30) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// mountRoutes attaches the /v1 surface: the unauthenticated model listing,
// the key-gated inference and schema routes, and the admin sub-router.
func mountRoutes(
	srv *httpserver.Server,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	coordinator *inference.Coordinator,
	gate *apikey.Gate,
	registry *model.Registry,
	factory func(*model.Spec) (model.Backend, error),
	schemas *schema.Registry,
	policyStore *policy.Store,
	notifier *ops.Notifier,
) {
	deploymentCaps := model.CapabilityMap{
		model.CapGenerate: cfg.GenerateEnabled,
		model.CapExtract:  cfg.ExtractEnabled,
	}
	modelHandler := model.NewHandler(registry, coordinator.Resolver.Effective, deploymentCaps)
	srv.V1Router.Get("/models", modelHandler.HandleList)

	inferenceHandler := inference.NewHandler(coordinator, logger)
	schemaHandler := schema.NewHandler(schemas)
	usageHandler := usage.NewHandler(usage.NewStore(db), logger)
	apikeyHandler := apikey.NewHandler(logger, db)
	auditHandler := audit.NewHandler(db, logger)
	policyHandler := policy.NewHandler(policyStore, logger)
	loadHandler := &model.LoadHandler{
		Registry: registry,
		Factory:  factory,
		Allowed:  cfg.AllowedModels,
		Logger:   logger,
		OnFailure: func(ctx context.Context, modelID string, err error) {
			notifier.ModelLoadFailed(ctx, "admin", modelID, err)
		},
	}

	srv.V1Router.Group(func(r chi.Router) {
		r.Use(gate.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(gate.BillQuota)
			r.Post("/generate", inferenceHandler.HandleGenerate)
			r.Post("/generate/batch", inferenceHandler.HandleGenerateBatch)
			r.Post("/extract", inferenceHandler.HandleExtract)
		})
		r.Mount("/schemas", schemaHandler.Routes())
		r.Get("/me/usage", usageHandler.HandleMe)

		r.Route("/admin", func(r chi.Router) {
			r.Use(apikey.RequireRole(apikey.RoleAdmin))
			r.Get("/usage", usageHandler.HandleAdminUsage)
			r.Get("/stats", usageHandler.HandleAdminStats)
			r.Mount("/keys", apikeyHandler.Routes())
			r.Mount("/logs", auditHandler.Routes())
			r.Post("/models/load", loadHandler.HandleLoad)
			r.Get("/policy", policyHandler.HandleGet)
			r.Post("/policy/reload", policyHandler.HandleReload)
		})
	})
}

// loadEagerModels brings every eager-mode backend resident before the
// server starts listening. A failure here aborts startup; lazy models are
// left alone and load on first use.
func loadEagerModels(ctx context.Context, cfg *config.Config, modelsCfg *model.Config, registry *model.Registry, logger *slog.Logger, notifier *ops.Notifier) error {
	for _, spec := range modelsCfg.Models {
		if spec.LoadMode != model.LoadEager {
			continue
		}

		backend, err := registry.Backend(spec.ID)
		if err != nil {
			notifier.ModelLoadFailed(ctx, "startup", spec.ID, err)
			return fmt.Errorf("eager load of model %q: %w", spec.ID, err)
		}
		if err := backend.EnsureLoaded(ctx); err != nil {
			notifier.ModelLoadFailed(ctx, "startup", spec.ID, err)
			return fmt.Errorf("eager load of model %q: %w", spec.ID, err)
		}
		logger.Info("model loaded", "model_id", spec.ID, "load_mode", spec.LoadMode)

		if cfg.ModelWarmup {
			warmupCtx, cancel := context.WithTimeout(ctx, model.WarmupTimeout)
			_, err := backend.Generate(warmupCtx, cfg.ModelWarmupPrompt, model.GenerateParams{
				MaxNewTokens: cfg.ModelWarmupMaxNewTokens,
			})
			cancel()
			if err != nil {
				notifier.ModelLoadFailed(ctx, "warmup", spec.ID, err)
				return fmt.Errorf("warmup of model %q: %w", spec.ID, err)
			}
			logger.Info("model warmup complete", "model_id", spec.ID)
		}
	}
	return nil
}

// checkWeightsCache probes that the configured weights cache directory is
// writable before any local backend tries to download into it, so a
// read-only volume mount fails at startup instead of on the first load.
// Skipped when HF_HOME is unset or no local model has a load mode other
// than off.
func checkWeightsCache(dir string, modelsCfg *model.Config) error {
	if dir == "" {
		return nil
	}
	hasLocal := false
	for _, spec := range modelsCfg.Models {
		if spec.Backend == model.BackendLocal && spec.LoadMode != model.LoadOff {
			hasLocal = true
			break
		}
	}
	if !hasLocal {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.HFCacheUnwritable.Wrap(err)
	}
	probe := filepath.Join(dir, ".llmgate-write-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return apperror.HFCacheUnwritable.Wrap(err)
	}
	os.Remove(probe)
	return nil
}

// loadSchemas compiles every *.json document under dir into the extraction
// schema registry, keyed by file name without extension. A missing or
// empty directory yields an empty registry, which makes every extract
// request fail with not_found until schemas are provided.
func loadSchemas(dir string, logger *slog.Logger) *schema.Registry {
	registry := schema.NewRegistry()

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("schemas directory not readable, extraction schemas unavailable", "dir", dir, "error", err)
		return registry
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Error("reading schema file", "path", path, "error", err)
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		compiled, err := schema.Compile(id, json.RawMessage(raw))
		if err != nil {
			logger.Error("compiling schema", "path", path, "error", err)
			continue
		}
		registry.Put(compiled)
		logger.Info("schema registered", "schema_id", id)
	}
	return registry
}
