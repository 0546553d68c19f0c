package apikey

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/internal/audit"
	"github.com/wisbric/llmgate/internal/httpserver"
	"github.com/wisbric/llmgate/internal/telemetry"
)

type ctxKey string

const apiKeyCtxKey ctxKey = "apikey"

// FromContext returns the authenticated ApiKey stored by Gate.Middleware,
// or nil if the request was not gated (e.g. unauthenticated routes).
func FromContext(ctx context.Context) *ApiKey {
	k, _ := ctx.Value(apiKeyCtxKey).(*ApiKey)
	return k
}

// Gate is C5: it authenticates the caller by opaque key, enforces a
// per-role per-minute rate window over Redis, and enforces the monthly
// quota atomically against Postgres.
type Gate struct {
	store        *Store
	redis        *redis.Client
	redisEnabled bool
	defaultRate  int
	logger       *slog.Logger
	audit        *audit.Writer
}

// NewGate builds a Gate. defaultRate is used when a key's role carries no
// rate_per_minute override (zero value). auditWriter may be nil; when set,
// a rate_limited or quota_exhausted denial still produces an audit row
// (missing/invalid key never does).
func NewGate(store *Store, rdb *redis.Client, redisEnabled bool, defaultRate int, logger *slog.Logger, auditWriter *audit.Writer) *Gate {
	return &Gate{store: store, redis: rdb, redisEnabled: redisEnabled, defaultRate: defaultRate, logger: logger, audit: auditWriter}
}

// Middleware authenticates every request on the chain, rejecting with the
// stable error codes from the catalogue before any domain handler runs.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-API-Key")
		if raw == "" {
			httpserver.RespondAppError(w, r, apperror.MissingAPIKey)
			telemetry.RateLimitRejectionsTotal.WithLabelValues("missing_api_key").Inc()
			return
		}

		key, err := g.store.FindByHash(r.Context(), HashKey(raw))
		if err != nil || !key.Active || key.DisabledAt != nil {
			httpserver.RespondAppError(w, r, apperror.InvalidAPIKey)
			telemetry.RateLimitRejectionsTotal.WithLabelValues("invalid_api_key").Inc()
			return
		}

		if retryAfter, limited := g.rateLimited(r.Context(), key); limited {
			httpserver.RespondAppError(w, r, apperror.RateLimited.WithExtra(map[string]any{"retry_after": retryAfter}))
			telemetry.RateLimitRejectionsTotal.WithLabelValues("rate_limited").Inc()
			g.auditDenied(r, key)
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyCtxKey, &key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BillQuota charges one unit of the caller's monthly quota. It wraps only
// the billable inference routes; listing and reporting endpoints
// authenticate via Middleware but are never billed. The check and the
// increment are a single statement, so concurrent requests against the
// same key cannot overspend.
func (g *Gate) BillQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := FromContext(r.Context())
		if key == nil {
			httpserver.RespondAppError(w, r, apperror.InvalidAPIKey)
			return
		}

		ok, err := g.store.TryIncrementQuota(r.Context(), key.ID)
		if err != nil {
			g.logger.Error("incrementing api key quota", "error", err, "api_key_id", key.ID)
			httpserver.RespondAppError(w, r, apperror.InternalError.Wrap(err))
			return
		}
		if !ok {
			httpserver.RespondAppError(w, r, apperror.QuotaExhausted)
			telemetry.RateLimitRejectionsTotal.WithLabelValues("quota_exhausted").Inc()
			g.auditDenied(r, *key)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole gates a route to callers whose key carries exactly the given
// role (primarily RoleAdmin for /v1/admin/*).
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := FromContext(r.Context())
			if key == nil || key.RoleName != role {
				httpserver.RespondAppError(w, r, apperror.Forbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// auditDenied records a rate/quota denial as an audit row. The key was
// valid, so the caller is identifiable and the denial is billable activity
// worth an append-only record.
func (g *Gate) auditDenied(r *http.Request, key ApiKey) {
	if g.audit == nil {
		return
	}
	g.audit.LogFromRequest(r, key.ID.String(), "", nil, "", "", 0, 0, 0)
}

// rateLimited checks and advances the caller's per-minute counter over
// Redis, using a key scoped to the current 60-second bucket so expiry is
// implicit. When Redis is disabled the rate window is not enforced.
func (g *Gate) rateLimited(ctx context.Context, key ApiKey) (retryAfterSeconds int, limited bool) {
	if !g.redisEnabled {
		return 0, false
	}

	limit := key.RatePerMinute
	if limit <= 0 {
		limit = g.defaultRate
	}
	if limit <= 0 {
		return 0, false
	}

	now := time.Now().UTC()
	bucket := now.Unix() / 60
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key.ID, bucket)

	count, err := g.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		g.logger.Error("rate limit counter increment failed, failing open", "error", err)
		return 0, false
	}
	if count == 1 {
		g.redis.Expire(ctx, redisKey, 60*time.Second)
	}

	if int(count) > limit {
		secondsIntoBucket := int(now.Unix() % 60)
		return 60 - secondsIntoBucket, true
	}
	return 0, false
}
