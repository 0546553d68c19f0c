// Package usage implements the thin SQL reporting surface over the audit
// log: per-caller aggregates for GET /v1/me/usage and the admin usage and
// stats listings. It owns no state beyond a connection pool; everything it
// reports is derived from inference_logs and api_keys rows.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Summary aggregates one API key's inference activity.
type Summary struct {
	APIKeyID         string     `json:"api_key_id"`
	Requests         int64      `json:"requests"`
	PromptTokens     int64      `json:"prompt_tokens"`
	CompletionTokens int64      `json:"completion_tokens"`
	AvgLatencyMS     float64    `json:"avg_latency_ms"`
	FirstRequestAt   *time.Time `json:"first_request_at,omitempty"`
	LastRequestAt    *time.Time `json:"last_request_at,omitempty"`
	QuotaMonthly     *int64     `json:"quota_monthly,omitempty"`
	QuotaUsed        int64      `json:"quota_used"`
}

// ModelCount is one (model, requests) pair in the per-model breakdown.
type ModelCount struct {
	ModelID  string `json:"model_id"`
	Requests int64  `json:"requests"`
}

// Stats is the deployment-wide aggregate for GET /v1/admin/stats.
type Stats struct {
	TotalRequests    int64        `json:"total_requests"`
	TotalKeys        int64        `json:"total_keys"`
	ActiveKeys       int64        `json:"active_keys"`
	PromptTokens     int64        `json:"prompt_tokens"`
	CompletionTokens int64        `json:"completion_tokens"`
	ByModel          []ModelCount `json:"by_model"`
}

// Store runs the reporting queries.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a usage Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ForKey returns the aggregate for one API key, joined with its quota
// counters so the caller sees usage and remaining budget in one response.
func (s *Store) ForKey(ctx context.Context, apiKeyID string) (Summary, error) {
	sum := Summary{APIKeyID: apiKeyID}

	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       coalesce(sum(prompt_tokens), 0),
		       coalesce(sum(completion_tokens), 0),
		       coalesce(avg(latency_ms), 0),
		       min(created_at),
		       max(created_at)
		FROM inference_logs
		WHERE api_key_id = $1
	`, apiKeyID).Scan(&sum.Requests, &sum.PromptTokens, &sum.CompletionTokens,
		&sum.AvgLatencyMS, &sum.FirstRequestAt, &sum.LastRequestAt)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregating usage for key %s: %w", apiKeyID, err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT quota_monthly, quota_used FROM api_keys WHERE id = $1
	`, apiKeyID).Scan(&sum.QuotaMonthly, &sum.QuotaUsed)
	if err != nil {
		return Summary{}, fmt.Errorf("reading quota for key %s: %w", apiKeyID, err)
	}

	return sum, nil
}

// ModelsForKey returns the per-model request breakdown for one key.
func (s *Store) ModelsForKey(ctx context.Context, apiKeyID string) ([]ModelCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model_id, count(*)
		FROM inference_logs
		WHERE api_key_id = $1 AND model_id <> ''
		GROUP BY model_id
		ORDER BY count(*) DESC
	`, apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("aggregating per-model usage: %w", err)
	}
	defer rows.Close()

	var out []ModelCount
	for rows.Next() {
		var mc ModelCount
		if err := rows.Scan(&mc.ModelID, &mc.Requests); err != nil {
			return nil, fmt.Errorf("scanning per-model usage row: %w", err)
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// AllKeys returns a page of per-key aggregates for GET /v1/admin/usage,
// most active first.
func (s *Store) AllKeys(ctx context.Context, limit, offset int) ([]Summary, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM api_keys`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting api keys: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT k.id,
		       count(l.request_id),
		       coalesce(sum(l.prompt_tokens), 0),
		       coalesce(sum(l.completion_tokens), 0),
		       coalesce(avg(l.latency_ms), 0),
		       min(l.created_at),
		       max(l.created_at),
		       k.quota_monthly,
		       k.quota_used
		FROM api_keys k
		LEFT JOIN inference_logs l ON l.api_key_id = k.id::text
		GROUP BY k.id, k.quota_monthly, k.quota_used
		ORDER BY count(l.request_id) DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("aggregating usage per key: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.APIKeyID, &sum.Requests, &sum.PromptTokens,
			&sum.CompletionTokens, &sum.AvgLatencyMS, &sum.FirstRequestAt,
			&sum.LastRequestAt, &sum.QuotaMonthly, &sum.QuotaUsed); err != nil {
			return nil, 0, fmt.Errorf("scanning usage row: %w", err)
		}
		out = append(out, sum)
	}
	return out, total, rows.Err()
}

// GlobalStats returns the deployment-wide aggregate.
func (s *Store) GlobalStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       coalesce(sum(prompt_tokens), 0),
		       coalesce(sum(completion_tokens), 0)
		FROM inference_logs
	`).Scan(&st.TotalRequests, &st.PromptTokens, &st.CompletionTokens)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating global stats: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE active)
		FROM api_keys
	`).Scan(&st.TotalKeys, &st.ActiveKeys)
	if err != nil {
		return Stats{}, fmt.Errorf("counting api keys: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT model_id, count(*)
		FROM inference_logs
		WHERE model_id <> ''
		GROUP BY model_id
		ORDER BY count(*) DESC
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating per-model stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mc ModelCount
		if err := rows.Scan(&mc.ModelID, &mc.Requests); err != nil {
			return Stats{}, fmt.Errorf("scanning per-model stats row: %w", err)
		}
		st.ByModel = append(st.ByModel, mc)
	}
	return st, rows.Err()
}
