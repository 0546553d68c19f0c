package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/wisbric/llmgate/internal/telemetry"
)

// Layer names where a cached value was found, or none.
type Layer string

const (
	LayerKV   Layer = "kv"
	LayerRow  Layer = "row"
	LayerNone Layer = "none"
)

// Result is the outcome of a Read: Output is only meaningful when Cached.
type Result struct {
	Output string
	Cached bool
	Layer  Layer
}

// kvEnvelope is the JSON shape stored at redis_key.
type kvEnvelope struct {
	Output string `json:"output"`
}

// Cache is the tiered completion cache: a fast Redis tier, backfilled
// from and backed by a durable Postgres row tier. Any tier error degrades
// to a miss rather than a request failure; caching is always best-effort.
type Cache struct {
	redis        *redis.Client
	redisEnabled bool
	store        *Store
	ttl          time.Duration
	group        singleflight.Group
}

// New builds a Cache. rdb may be nil (or redisEnabled false) to run with
// the row tier alone.
func New(rdb *redis.Client, redisEnabled bool, store *Store, ttl time.Duration) *Cache {
	return &Cache{redis: rdb, redisEnabled: redisEnabled, store: store, ttl: ttl}
}

// Read is the tiered lookup: KV first, then row with best-effort KV
// backfill, else a clean miss. validate, if non-nil, is called on any
// cached candidate (used by extraction to re-check the cached string
// against the current schema); a validation failure is treated as a miss
// rather than a hit.
func (c *Cache) Read(ctx context.Context, kind Kind, modelID, promptHash, paramsFP string, validate func(output string) bool) Result {
	key := RedisKey(kind, modelID, promptHash, paramsFP)
	start := time.Now()

	if c.redisEnabled && c.redis != nil {
		if raw, err := c.redis.Get(ctx, key).Result(); err == nil {
			telemetry.CacheGetDuration.WithLabelValues(string(LayerKV), string(kind)).Observe(time.Since(start).Seconds())
			var env kvEnvelope
			if json.Unmarshal([]byte(raw), &env) == nil && (validate == nil || validate(env.Output)) {
				telemetry.CacheOperationsTotal.WithLabelValues(string(LayerKV), "hit", string(kind), modelID).Inc()
				return Result{Output: env.Output, Cached: true, Layer: LayerKV}
			}
			telemetry.CacheOperationsTotal.WithLabelValues(string(LayerKV), "miss", string(kind), modelID).Inc()
		} else if !errors.Is(err, redis.Nil) {
			telemetry.CacheOperationsTotal.WithLabelValues(string(LayerKV), "error", string(kind), modelID).Inc()
		}
	}

	rowStart := time.Now()
	row, ok, err := c.store.Find(ctx, modelID, promptHash, paramsFP)
	telemetry.CacheGetDuration.WithLabelValues(string(LayerRow), string(kind)).Observe(time.Since(rowStart).Seconds())
	if err != nil {
		telemetry.CacheOperationsTotal.WithLabelValues(string(LayerRow), "error", string(kind), modelID).Inc()
		return Result{Layer: LayerNone}
	}
	if !ok || (validate != nil && !validate(row.Output)) {
		telemetry.CacheOperationsTotal.WithLabelValues(string(LayerRow), "miss", string(kind), modelID).Inc()
		return Result{Layer: LayerNone}
	}

	telemetry.CacheOperationsTotal.WithLabelValues(string(LayerRow), "hit", string(kind), modelID).Inc()
	c.backfillKV(ctx, key, row.Output)
	return Result{Output: row.Output, Cached: true, Layer: LayerRow}
}

func (c *Cache) backfillKV(ctx context.Context, key, output string) {
	if !c.redisEnabled || c.redis == nil {
		return
	}
	env, err := json.Marshal(kvEnvelope{Output: output})
	if err != nil {
		return
	}
	c.redis.Set(ctx, key, env, c.ttl)
}

// Write persists a fresh completion: insert the row (swallowing a
// unique-constraint race), then best-effort set the KV tier. output must
// be a nonempty string; callers enforce that before calling Write.
func (c *Cache) Write(ctx context.Context, kind Kind, modelID, prompt, promptHash, paramsFP, output string) error {
	inserted, err := c.store.Insert(ctx, Row{
		ModelID:    modelID,
		Prompt:     prompt,
		PromptHash: promptHash,
		ParamsFP:   paramsFP,
		Output:     output,
	})
	if err != nil {
		return err
	}
	if !inserted {
		// Someone else already won the race for this fingerprint; the
		// persisted row is already correct, so just backfill our KV copy.
		c.backfillKV(ctx, RedisKey(kind, modelID, promptHash, paramsFP), output)
		return nil
	}
	c.backfillKV(ctx, RedisKey(kind, modelID, promptHash, paramsFP), output)
	return nil
}

// Coalesce runs fn at most once across concurrent callers sharing the
// same fingerprint key. It does not change correctness (the row store's
// uniqueness already makes persisted writes idempotent); it only avoids
// redundant concurrent backend calls.
func (c *Cache) Coalesce(key string, fn func() (string, error)) (out string, shared bool, err error) {
	v, err, shared := c.group.Do(key, func() (any, error) {
		return fn()
	})
	if v == nil {
		return "", shared, err
	}
	return v.(string), shared, err
}
