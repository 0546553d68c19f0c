package inference

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/internal/audit"
	"github.com/wisbric/llmgate/internal/telemetry"
	"github.com/wisbric/llmgate/pkg/cache"
	"github.com/wisbric/llmgate/pkg/capability"
	"github.com/wisbric/llmgate/pkg/extract"
	"github.com/wisbric/llmgate/pkg/model"
	"github.com/wisbric/llmgate/pkg/schema"
)

// Route labels distinguish the three inference endpoints in metrics; audit
// rows instead use the request's own URL path, which already disambiguates
// a batch item from a single generate call.
const (
	RouteGenerate      = "/v1/generate"
	RouteGenerateBatch = "/v1/generate/batch"
	RouteExtract       = "/v1/extract"
)

// Coordinator owns the total request
// order (fingerprint, resolve, gate, cache-read, backend call,
// validate/repair, cache-write, metrics, audit) for every generate and
// extract request. Its collaborators are the read-only registry/resolver
// and the cache/audit sinks; it holds no request-scoped state itself.
type Coordinator struct {
	Registry      *model.Registry
	Resolver      *capability.Resolver
	Cache         *cache.Cache
	Schemas       *schema.Registry
	Audit         *audit.Writer
	Logger        *slog.Logger
	TokenCounting bool

	// MaxBatchConcurrency bounds how many prompts of a /v1/generate/batch
	// request run concurrently. Zero means unbounded (one goroutine per
	// prompt), which is fine for the modest batch sizes this surface
	// expects; a deployment fronting a single local backend should set
	// this to 1 so only one generation runs in-process at a time.
	MaxBatchConcurrency int
}

// Generate runs the full generate pipeline (the auth/quota gate already
// ran in middleware before this is called).
// route labels the metrics dimension only; audit always uses r's actual
// URL path, so a batch item is still visible as /v1/generate/batch there.
func (c *Coordinator) Generate(ctx context.Context, r *http.Request, apiKeyID, route string, req GenerateRequest) (GenerateResponse, *apperror.Error) {
	start := time.Now()
	var modelID string
	var output string
	var cached bool
	var appErr *apperror.Error

	paramsMap, err := toParamsMap(req)
	if err != nil {
		appErr = apperror.InternalError.Wrap(err)
		c.finishGenerate(r, apiKeyID, route, modelID, nil, req.Prompt, output, cached, start, appErr)
		return GenerateResponse{}, appErr
	}
	promptHash := cache.PromptHash(req.Prompt)
	paramsFP, err := cache.ParamsFingerprint(paramsMap)
	if err != nil {
		appErr = apperror.InternalError.Wrap(err)
		c.finishGenerate(r, apiKeyID, route, modelID, nil, req.Prompt, output, cached, start, appErr)
		return GenerateResponse{}, appErr
	}
	// ParamsFingerprint already stripped the identity fields in place, so
	// what remains is exactly the params-json the audit row records.
	paramsJSON, _ := json.Marshal(paramsMap)

	modelID, selErr := c.Resolver.SelectModel(req.Model, model.CapGenerate)
	if selErr != nil {
		appErr = apperror.As(selErr)
		c.finishGenerate(r, apiKeyID, route, modelID, paramsJSON, req.Prompt, output, cached, start, appErr)
		return GenerateResponse{}, appErr
	}

	if capErr := c.Resolver.RequireCapability(modelID, model.CapGenerate); capErr != nil {
		appErr = apperror.As(capErr)
		c.finishGenerate(r, apiKeyID, route, modelID, paramsJSON, req.Prompt, output, cached, start, appErr)
		return GenerateResponse{}, appErr
	}

	cacheEnabled := req.cacheEnabled() && c.Cache != nil
	if cacheEnabled {
		res := c.Cache.Read(ctx, cache.KindGenerate, modelID, promptHash, paramsFP, nil)
		if res.Cached {
			output = res.Output
			cached = true
		}
	}

	if !cached {
		backend, backendErr := c.Registry.Backend(modelID)
		if backendErr != nil {
			appErr = apperror.As(backendErr)
			c.finishGenerate(r, apiKeyID, route, modelID, paramsJSON, req.Prompt, output, cached, start, appErr)
			return GenerateResponse{}, appErr
		}
		if loadErr := backend.EnsureLoaded(ctx); loadErr != nil {
			appErr = apperror.As(loadErr)
			c.finishGenerate(r, apiKeyID, route, modelID, paramsJSON, req.Prompt, output, cached, start, appErr)
			return GenerateResponse{}, appErr
		}

		genParams := model.GenerateParams{
			MaxNewTokens: req.MaxNewTokens,
			Temperature:  req.Temperature,
			TopP:         req.TopP,
			TopK:         req.TopK,
			Stop:         req.Stop,
		}
		// Coalesce concurrent identical misses onto one backend call; the
		// row store's unique key already makes the persisted result
		// idempotent, this just avoids duplicate in-process work.
		generate := func() (string, error) {
			return backend.Generate(ctx, req.Prompt, genParams)
		}
		var out string
		var genErr error
		if cacheEnabled {
			out, _, genErr = c.Cache.Coalesce(cache.RedisKey(cache.KindGenerate, modelID, promptHash, paramsFP), generate)
		} else {
			out, genErr = generate()
		}
		if genErr != nil {
			telemetry.ModelBackendRequestsTotal.WithLabelValues(modelID, backendOutcome(genErr)).Inc()
			appErr = apperror.As(genErr)
			c.finishGenerate(r, apiKeyID, route, modelID, paramsJSON, req.Prompt, output, cached, start, appErr)
			return GenerateResponse{}, appErr
		}
		telemetry.ModelBackendRequestsTotal.WithLabelValues(modelID, "ok").Inc()
		output = out

		if cacheEnabled && output != "" {
			if writeErr := c.Cache.Write(ctx, cache.KindGenerate, modelID, req.Prompt, promptHash, paramsFP, output); writeErr != nil {
				c.Logger.Warn("cache write failed", "error", writeErr, "model_id", modelID)
			}
		}
	}

	c.finishGenerate(r, apiKeyID, route, modelID, paramsJSON, req.Prompt, output, cached, start, nil)
	return GenerateResponse{Model: modelID, Output: output, Cached: cached}, nil
}

// finishGenerate records metrics and an audit row for a completed (success
// or error) generate call. A pipeline that fails before model resolution or
// before the backend call still owes an audit row, just with whatever was
// known at the point of failure.
func (c *Coordinator) finishGenerate(r *http.Request, apiKeyID, route, modelID string, paramsJSON json.RawMessage, prompt, output string, cached bool, start time.Time, appErr *apperror.Error) {
	latency := time.Since(start)
	status := http.StatusOK
	if appErr != nil {
		status = appErr.Status
	}
	telemetry.InferenceRequestsTotal.WithLabelValues(route, modelID, boolLabel(cached), statusLabel(status)).Inc()
	telemetry.InferenceRequestDuration.WithLabelValues(route, modelID, boolLabel(cached), statusLabel(status)).Observe(latency.Seconds())
	c.auditRequest(r, apiKeyID, modelID, paramsJSON, prompt, output, latency)
}

// GenerateBatch implements POST /v1/generate/batch by running Generate
// independently per prompt, preserving input order in the response. Each
// item's own failure is reported inline rather than failing the batch.
func (c *Coordinator) GenerateBatch(ctx context.Context, r *http.Request, apiKeyID string, req BatchGenerateRequest) BatchGenerateResponse {
	results := make([]BatchResult, len(req.Prompts))

	g, gctx := errgroup.WithContext(ctx)
	if c.MaxBatchConcurrency > 0 {
		g.SetLimit(c.MaxBatchConcurrency)
	}

	for i, prompt := range req.Prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			resp, appErr := c.Generate(gctx, r, apiKeyID, RouteGenerateBatch, req.item(prompt))
			if appErr != nil {
				results[i] = BatchResult{Error: &BatchError{Code: appErr.Code, Message: appErr.Message, Extra: appErr.Extra}}
				return nil
			}
			results[i] = BatchResult{Model: resp.Model, Output: resp.Output, Cached: resp.Cached}
			return nil
		})
	}
	_ = g.Wait()

	return BatchGenerateResponse{Results: results}
}

// Extract runs the extract pipeline plus the validate/repair loop.
func (c *Coordinator) Extract(ctx context.Context, r *http.Request, apiKeyID string, reqIn ExtractRequest) (resp ExtractResponse, appErr *apperror.Error) {
	req := reqIn.withDefaults()
	start := time.Now()
	var modelID string
	var outputJSON string
	var cached bool
	var repairAttempted bool
	var data map[string]any
	var paramsJSON json.RawMessage

	defer func() {
		latency := time.Since(start)
		status := http.StatusOK
		if appErr != nil {
			status = appErr.Status
		}
		telemetry.InferenceRequestsTotal.WithLabelValues(RouteExtract, modelID, boolLabel(cached), statusLabel(status)).Inc()
		telemetry.InferenceRequestDuration.WithLabelValues(RouteExtract, modelID, boolLabel(cached), statusLabel(status)).Observe(latency.Seconds())
		c.auditRequest(r, apiKeyID, modelID, paramsJSON, req.Text, outputJSON, latency)
	}()

	paramsMap, merr := toParamsMap(req)
	if merr != nil {
		appErr = apperror.InternalError.Wrap(merr)
		return ExtractResponse{}, appErr
	}
	promptHash := cache.ExtractPromptHash(req.SchemaID, req.Text)
	paramsFP, ferr := cache.ParamsFingerprint(paramsMap)
	if ferr != nil {
		appErr = apperror.InternalError.Wrap(ferr)
		return ExtractResponse{}, appErr
	}
	paramsJSON, _ = json.Marshal(paramsMap)

	modelID, selErr := c.Resolver.SelectModel(req.Model, model.CapExtract)
	if selErr != nil {
		appErr = apperror.As(selErr)
		return ExtractResponse{}, appErr
	}

	if capErr := c.Resolver.RequireCapability(modelID, model.CapExtract); capErr != nil {
		appErr = apperror.As(capErr)
		return ExtractResponse{}, appErr
	}

	if c.Schemas == nil {
		appErr = apperror.JSONSchemaMissing
		return ExtractResponse{}, appErr
	}
	sch, schErr := c.Schemas.Get(req.SchemaID)
	if schErr != nil {
		appErr = apperror.As(schErr)
		return ExtractResponse{}, appErr
	}

	telemetry.ExtractionRequestsTotal.WithLabelValues(req.SchemaID, modelID).Inc()

	// validateCached re-validates a cached candidate against the current
	// schema: a hit that no longer validates is treated as a
	// miss, since the cached artifact may predate a schema change.
	validateCached := func(s string) bool {
		var v any
		if json.Unmarshal([]byte(s), &v) != nil {
			return false
		}
		obj, ok := v.(map[string]any)
		if !ok || sch.Validate(obj) != nil {
			return false
		}
		data = obj
		return true
	}

	cacheEnabled := req.cacheEnabled() && c.Cache != nil
	if cacheEnabled {
		res := c.Cache.Read(ctx, cache.KindExtract, modelID, promptHash, paramsFP, validateCached)
		telemetry.ExtractionCacheHitTotal.WithLabelValues(req.SchemaID, modelID, boolLabel(res.Cached)).Inc()
		if res.Cached {
			cached = true
			outputJSON = res.Output
		}
	}

	if !cached {
		backend, backendErr := c.Registry.Backend(modelID)
		if backendErr != nil {
			appErr = apperror.As(backendErr)
			return ExtractResponse{}, appErr
		}
		if loadErr := backend.EnsureLoaded(ctx); loadErr != nil {
			appErr = apperror.As(loadErr)
			return ExtractResponse{}, appErr
		}

		prompt := extract.BuildPrompt(sch, req.Text)
		raw, genErr := backend.Generate(ctx, prompt, model.GenerateParams{MaxNewTokens: req.MaxNewTokens, Temperature: req.Temperature})
		if genErr != nil {
			telemetry.ModelBackendRequestsTotal.WithLabelValues(modelID, backendOutcome(genErr)).Inc()
			appErr = apperror.As(genErr)
			return ExtractResponse{}, appErr
		}
		telemetry.ModelBackendRequestsTotal.WithLabelValues(modelID, "ok").Inc()

		obj, verifyErr := extract.ValidateFirstMatching(raw, sch)
		if verifyErr != nil {
			telemetry.ExtractionValidationFailuresTotal.WithLabelValues(req.SchemaID, modelID, stageFor(verifyErr, false)).Inc()

			if !req.repairEnabled() {
				appErr = verifyErr
				return ExtractResponse{}, appErr
			}

			repairAttempted = true
			telemetry.ExtractionRepairOutcomesTotal.WithLabelValues(req.SchemaID, modelID, "attempted").Inc()

			repairPrompt := extract.BuildRepairPrompt(sch, req.Text, raw, extract.ErrorHint(verifyErr))
			repaired, repairGenErr := backend.Generate(ctx, repairPrompt, model.GenerateParams{MaxNewTokens: req.MaxNewTokens, Temperature: 0})
			if repairGenErr != nil {
				telemetry.ModelBackendRequestsTotal.WithLabelValues(modelID, backendOutcome(repairGenErr)).Inc()
				telemetry.ExtractionRepairOutcomesTotal.WithLabelValues(req.SchemaID, modelID, "failure").Inc()
				appErr = apperror.As(repairGenErr)
				return ExtractResponse{}, appErr
			}
			telemetry.ModelBackendRequestsTotal.WithLabelValues(modelID, "ok").Inc()

			repairedObj, repairVerifyErr := extract.ValidateFirstMatching(repaired, sch)
			if repairVerifyErr != nil {
				telemetry.ExtractionValidationFailuresTotal.WithLabelValues(req.SchemaID, modelID, stageFor(repairVerifyErr, true)).Inc()
				telemetry.ExtractionRepairOutcomesTotal.WithLabelValues(req.SchemaID, modelID, "failure").Inc()
				appErr = repairVerifyErr
				return ExtractResponse{}, appErr
			}
			telemetry.ExtractionRepairOutcomesTotal.WithLabelValues(req.SchemaID, modelID, "success").Inc()
			obj = repairedObj
		}

		data = obj
		encoded, encErr := json.Marshal(data)
		if encErr != nil {
			appErr = apperror.InternalError.Wrap(encErr)
			return ExtractResponse{}, appErr
		}
		outputJSON = string(encoded)

		if cacheEnabled && outputJSON != "" {
			if writeErr := c.Cache.Write(ctx, cache.KindExtract, modelID, req.Text, promptHash, paramsFP, outputJSON); writeErr != nil {
				c.Logger.Warn("extraction cache write failed", "error", writeErr, "model_id", modelID)
			}
		}
	}

	return ExtractResponse{
		SchemaID:        req.SchemaID,
		Model:           modelID,
		Data:            data,
		Cached:          cached,
		RepairAttempted: repairAttempted,
	}, nil
}

// auditRequest appends one audit row for a completed generate or extract
// call, counting best-effort tokens when TokenCounting is enabled.
func (c *Coordinator) auditRequest(r *http.Request, apiKeyID, modelID string, paramsJSON json.RawMessage, prompt, output string, latency time.Duration) {
	if c.Audit == nil {
		return
	}
	var promptTokens, completionTokens int
	if c.TokenCounting {
		promptTokens = CountTokens(prompt)
		completionTokens = CountTokens(output)
		telemetry.InferenceTokensTotal.WithLabelValues("prompt", modelID).Add(float64(promptTokens))
		telemetry.InferenceTokensTotal.WithLabelValues("completion", modelID).Add(float64(completionTokens))
	}
	c.Audit.LogFromRequest(r, apiKeyID, modelID, paramsJSON, prompt, output, latency, promptTokens, completionTokens)
}

// toParamsMap round-trips v through JSON to produce the map ParamsFingerprint
// strips identity fields from. v's own json tags already name the
// identity fields (prompt/text/model/cache/repair) that strip removes.
func toParamsMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// stageFor maps a validate/repair failure to its metric stage
// label: parse failures (no JSON object located at all) versus schema
// failures (a candidate was found but none validated), split by whether
// this was the initial attempt or the one repair round-trip.
func stageFor(err *apperror.Error, repair bool) string {
	if err.Code == apperror.InvalidJSON.Code {
		if repair {
			return string(extract.StageRepairParse)
		}
		return string(extract.StageParse)
	}
	if repair {
		return string(extract.StageRepairValidate)
	}
	return string(extract.StageValidate)
}

// backendOutcome classifies a backend error into the ModelBackendRequestsTotal
// outcome label.
func backendOutcome(err error) string {
	ae := apperror.As(err)
	switch ae.Code {
	case apperror.UpstreamTimeout.Code:
		return "timeout"
	case apperror.UpstreamUnreachable.Code:
		return "unreachable"
	case apperror.LLMUnavailable.Code, apperror.LLMNotLoaded.Code:
		return "unavailable"
	default:
		return "error"
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}
