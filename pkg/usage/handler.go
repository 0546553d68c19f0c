package usage

import (
	"log/slog"
	"net/http"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/internal/httpserver"
	"github.com/wisbric/llmgate/pkg/apikey"
)

// Handler serves the caller-facing and admin usage reports.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a usage Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// HandleMe renders GET /v1/me/usage: aggregates scoped to the calling key.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	key := apikey.FromContext(r.Context())
	if key == nil {
		httpserver.RespondAppError(w, r, apperror.InvalidAPIKey)
		return
	}

	sum, err := h.store.ForKey(r.Context(), key.ID.String())
	if err != nil {
		h.logger.Error("aggregating caller usage", "error", err, "api_key_id", key.ID)
		httpserver.RespondAppError(w, r, apperror.InternalError.Wrap(err))
		return
	}
	byModel, err := h.store.ModelsForKey(r.Context(), key.ID.String())
	if err != nil {
		h.logger.Error("aggregating caller per-model usage", "error", err, "api_key_id", key.ID)
		httpserver.RespondAppError(w, r, apperror.InternalError.Wrap(err))
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"usage":    sum,
		"by_model": byModel,
	})
}

// HandleAdminUsage renders GET /v1/admin/usage: a page of per-key aggregates.
func (h *Handler) HandleAdminUsage(w http.ResponseWriter, r *http.Request) {
	params := httpserver.ParseOffsetParams(r)

	items, total, err := h.store.AllKeys(r.Context(), params.Limit, params.Offset)
	if err != nil {
		h.logger.Error("aggregating usage per key", "error", err)
		httpserver.RespondAppError(w, r, apperror.InternalError.Wrap(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}

// HandleAdminStats renders GET /v1/admin/stats: the deployment aggregate.
func (h *Handler) HandleAdminStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GlobalStats(r.Context())
	if err != nil {
		h.logger.Error("aggregating global stats", "error", err)
		httpserver.RespondAppError(w, r, apperror.InternalError.Wrap(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, st)
}
