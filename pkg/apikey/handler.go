package apikey

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/internal/httpserver"
)

// Handler serves the admin API key management endpoints
// (GET/POST /v1/admin/keys, DELETE /v1/admin/keys/{id}). The caller mounts
// it under a router already gated by RequireRole(RoleAdmin).
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates an API key admin Handler.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{
		logger:  logger,
		service: NewService(pool, logger),
	}
}

// Routes returns a chi.Router with all admin API key routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleDisable)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating api key", "error", err)
		httpserver.RespondAppError(w, r, apperror.InternalError.Wrap(err))
		return
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params := httpserver.ParseOffsetParams(r)

	items, total, err := h.service.List(r.Context(), params.Limit, params.Offset)
	if err != nil {
		h.logger.Error("listing api keys", "error", err)
		httpserver.RespondAppError(w, r, apperror.InternalError.Wrap(err))
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}

func (h *Handler) handleDisable(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAppError(w, r, apperror.ValidationError.WithExtra(map[string]any{"fields": []string{"id"}}))
		return
	}

	if err := h.service.Disable(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondAppError(w, r, apperror.NotFound)
			return
		}
		h.logger.Error("disabling api key", "error", err, "id", id)
		httpserver.RespondAppError(w, r, apperror.InternalError.Wrap(err))
		return
	}

	Respond204(w)
}

// Respond204 writes an empty 204 response; split out only because the
// canonical Respond helper always writes a body when given non-nil data.
func Respond204(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
