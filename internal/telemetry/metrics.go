package telemetry

import "github.com/prometheus/client_golang/prometheus"

const namespace = "llmgate"

// HTTPRequestDuration is the shared request-latency histogram every route
// records into via the Metrics middleware, labeled by route template and
// response status.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route", "method", "status"},
)

// InferenceRequestsTotal counts generate/extract requests by route, model,
// cache outcome, and status code.
var InferenceRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "requests_total",
		Help:      "Total number of inference requests handled.",
	},
	[]string{"route", "model_id", "cached", "status_code"},
)

// InferenceTokensTotal counts prompt/completion tokens by direction and model.
var InferenceTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "tokens_total",
		Help:      "Total number of tokens processed, by direction.",
	},
	[]string{"direction", "model_id"},
)

// InferenceRequestDuration is the generate/extract latency histogram,
// carrying the model_id/cached dimensions the shared HTTP duration
// histogram doesn't.
var InferenceRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "request_duration_seconds",
		Help:      "Inference request duration in seconds, by route, model, cache outcome, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route", "model_id", "cached", "status_code"},
)

// CacheOperationsTotal counts cache lookups by tier (kv/row), outcome
// (hit/miss/error), and kind ("cache" for generate, "extract").
var CacheOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Total number of cache lookups, by tier, outcome, and kind.",
	},
	[]string{"tier", "outcome", "kind", "model_id"},
)

// CacheGetDuration tracks lookup latency per tier, so a slow row-tier
// fallback is visible separately from the KV hot path.
var CacheGetDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "get_duration_seconds",
		Help:      "Cache lookup duration in seconds, by tier.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"tier", "kind"},
)

// CacheKVEnabled reports whether the Redis tier is enabled by configuration
// (1) or the cache runs row-tier-only (0). It is set once at startup.
var CacheKVEnabled = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "kv_enabled",
		Help:      "1 if the KV cache tier is enabled by configuration, 0 otherwise.",
	},
)

// ExtractionRequestsTotal counts extraction attempts by schema and model.
var ExtractionRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extraction",
		Name:      "requests_total",
		Help:      "Total number of structured extraction requests.",
	},
	[]string{"schema_id", "model_id"},
)

// ExtractionValidationFailuresTotal counts validation failures by the
// pipeline stage that rejected the candidate (parse, validate,
// repair_parse, repair_validate).
var ExtractionValidationFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extraction",
		Name:      "validation_failures_total",
		Help:      "Total number of extraction candidates rejected, by stage.",
	},
	[]string{"schema_id", "model_id", "stage"},
)

// ExtractionRepairOutcomesTotal counts the result of the repair round-trip:
// attempted, success, or failure.
var ExtractionRepairOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extraction",
		Name:      "repair_total",
		Help:      "Total number of extraction repair attempts, by outcome.",
	},
	[]string{"schema_id", "model_id", "outcome"},
)

// ExtractionCacheHitTotal counts extraction cache lookups by schema and
// model, separately from the generic cache operations counter, which has
// no schema_id dimension.
var ExtractionCacheHitTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extraction",
		Name:      "cache_hit_total",
		Help:      "Total number of extraction cache lookups, by schema, model and whether the lookup was served from cache.",
	},
	[]string{"schema_id", "model_id", "cached"},
)

// RateLimitRejectionsTotal counts requests turned away at the quota/rate gate.
var RateLimitRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "apikey",
		Name:      "rejections_total",
		Help:      "Total number of requests rejected at the auth/quota/rate gate, by reason.",
	},
	[]string{"reason"},
)

// ModelBackendRequestsTotal counts calls into a model backend's Generate by
// outcome (ok, timeout, unreachable, error).
var ModelBackendRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model_backend",
		Name:      "requests_total",
		Help:      "Total number of model backend calls, by model and outcome.",
	},
	[]string{"model_id", "outcome"},
)

// All returns every gateway-specific collector for registration, excluding
// HTTPRequestDuration which NewMetricsRegistry always registers directly.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		InferenceRequestsTotal,
		InferenceTokensTotal,
		InferenceRequestDuration,
		CacheOperationsTotal,
		CacheGetDuration,
		CacheKVEnabled,
		ExtractionRequestsTotal,
		ExtractionValidationFailuresTotal,
		ExtractionRepairOutcomesTotal,
		ExtractionCacheHitTotal,
		RateLimitRejectionsTotal,
		ModelBackendRequestsTotal,
	}
}

// NewMetricsRegistry builds a Prometheus registry carrying the Go/process
// collectors, the shared HTTP duration histogram, and any extra collectors
// the caller supplies (normally telemetry.All()).
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(HTTPRequestDuration)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
