package schema

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/llmgate/internal/httpserver"
)

type summaryEntry struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// Handler serves the schema listing and raw-fetch endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler builds a schema Handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Routes mounts GET / and GET /{id}.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.IDs()
	out := make([]summaryEntry, 0, len(ids))
	for _, id := range ids {
		s, err := h.registry.Get(id)
		if err != nil {
			continue
		}
		out = append(out, summaryEntry{ID: id, Summary: s.Summary()})
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"schemas": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.registry.Get(id)
	if err != nil {
		httpserver.RespondAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(s.Raw)
}
