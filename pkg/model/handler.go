package model

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/internal/httpserver"
)

// listEntry is the JSON shape of one model in GET /v1/models.
type listEntry struct {
	ModelID      string          `json:"model_id"`
	Backend      string          `json:"backend"`
	LoadMode     string          `json:"load_mode"`
	Loaded       *bool           `json:"loaded,omitempty"`
	Default      bool            `json:"default"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
}

// Handler serves the model-listing endpoint. effective, when set, maps a
// model id to its effective capability map (per-model meta merged with the
// deployment gate and policy override); nil falls back to the raw
// registry meta. deployment is the deployment-level capability gate,
// echoed alongside the listing.
type Handler struct {
	registry   *Registry
	effective  func(modelID string) CapabilityMap
	deployment CapabilityMap
}

// NewHandler creates a model listing Handler.
func NewHandler(registry *Registry, effective func(modelID string) CapabilityMap, deployment CapabilityMap) *Handler {
	return &Handler{registry: registry, effective: effective, deployment: deployment}
}

// HandleList renders GET /v1/models: every known model with its effective
// capabilities, load-mode, loaded flag, backend label, and default flag,
// plus the deployment capability map.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := h.registry.Status()
	out := make([]listEntry, 0, len(status))
	for _, s := range status {
		capMap := s.Capabilities
		if h.effective != nil {
			capMap = h.effective(s.ModelID)
		}
		caps := map[string]bool{
			"generate": capMap.Allows(CapGenerate),
			"extract":  capMap.Allows(CapExtract),
		}

		out = append(out, listEntry{
			ModelID:      s.ModelID,
			Backend:      s.BackendName,
			LoadMode:     string(s.LoadMode),
			Loaded:       s.Loaded,
			Default:      s.Default,
			Capabilities: caps,
		})
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"models": out,
		"deployment": map[string]bool{
			"generate": h.deployment.Allows(CapGenerate),
			"extract":  h.deployment.Allows(CapExtract),
		},
	})
}

// loadRequest is the JSON body of POST /v1/admin/models/load. Model is
// optional; empty means "load the default".
type loadRequest struct {
	Model string `json:"model,omitempty"`
}

// LoadHandler serves the admin force-load endpoint. In off mode it is the
// only way a backend becomes resident; in eager/lazy it is an idempotent
// refresh. OnFailure, when set, is invoked after a failed load so the
// process can notify operators (the ops channel), never on success.
type LoadHandler struct {
	Registry  *Registry
	Factory   func(*Spec) (Backend, error)
	Allowed   []string
	Logger    *slog.Logger
	OnFailure func(ctx context.Context, modelID string, err error)
}

// HandleLoad renders POST /v1/admin/models/load. An empty body is
// accepted and loads the default model.
func (h *LoadHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpserver.RespondAppError(w, r, apperror.ValidationError.WithExtra(map[string]any{"fields": []string{"model"}}))
		return
	}

	modelID := req.Model
	if modelID == "" {
		modelID = h.Registry.DefaultID()
	} else if !h.modelAllowed(modelID) {
		httpserver.RespondAppError(w, r, apperror.ModelNotAllowed)
		return
	}

	if err := h.Registry.LoadModel(r.Context(), modelID, h.Factory); err != nil {
		h.Logger.Error("admin model load failed", "model_id", modelID, "error", err)
		if h.OnFailure != nil {
			h.OnFailure(r.Context(), modelID, err)
		}
		httpserver.RespondAppError(w, r, err)
		return
	}

	h.Logger.Info("admin model load complete", "model_id", modelID)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"model_id": modelID,
		"loaded":   h.Registry.IsLoaded(modelID),
	})
}

func (h *LoadHandler) modelAllowed(modelID string) bool {
	if len(h.Allowed) == 0 {
		return true
	}
	for _, id := range h.Allowed {
		if id == modelID {
			return true
		}
	}
	return false
}
