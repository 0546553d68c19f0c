package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/llmgate/internal/httpserver"
)

// LogRow is one inference_logs row as rendered to the admin API.
type LogRow struct {
	CreatedAt        time.Time       `json:"created_at"`
	APIKeyID         string          `json:"api_key_id"`
	RequestID        string          `json:"request_id"`
	Route            string          `json:"route"`
	ClientHost       string          `json:"client_host"`
	ModelID          string          `json:"model_id"`
	ParamsJSON       json.RawMessage `json:"params_json,omitempty"`
	Prompt           string          `json:"prompt"`
	Output           string          `json:"output"`
	LatencyMS        int64           `json:"latency_ms"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
}

// Handler serves the admin-only inference log listing.
type Handler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(pool *pgxpool.Pool, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, logger: logger}
}

// Routes returns a chi.Router with the log listing route mounted. The
// caller mounts this under an admin-role-gated sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params := httpserver.ParseOffsetParams(r)
	ctx := r.Context()

	var total int
	if err := h.pool.QueryRow(ctx, `SELECT count(*) FROM inference_logs`).Scan(&total); err != nil {
		h.logger.Error("counting inference logs", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to count inference logs")
		return
	}

	rows, err := h.pool.Query(ctx, `
		SELECT created_at, api_key_id, request_id, route, client_host, model_id,
		       params_json, prompt, output, latency_ms, prompt_tokens, completion_tokens
		FROM inference_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, params.Limit, params.Offset)
	if err != nil {
		h.logger.Error("listing inference logs", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to list inference logs")
		return
	}
	defer rows.Close()

	entries := make([]LogRow, 0, params.Limit)
	for rows.Next() {
		var e LogRow
		if err := rows.Scan(&e.CreatedAt, &e.APIKeyID, &e.RequestID, &e.Route, &e.ClientHost, &e.ModelID,
			&e.ParamsJSON, &e.Prompt, &e.Output, &e.LatencyMS, &e.PromptTokens, &e.CompletionTokens); err != nil {
			h.logger.Error("scanning inference log row", "error", err)
			httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to read inference logs")
			return
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("iterating inference logs", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to read inference logs")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(entries, params, total))
}
