package inference

import (
	"log/slog"
	"net/http"

	"github.com/wisbric/llmgate/internal/httpserver"
	"github.com/wisbric/llmgate/pkg/apikey"
)

// Handler wires the Coordinator to the /v1 inference surface. Its routes
// are registered under a router already gated by the API key middleware,
// so every request reaching a handler carries an authenticated key in
// its context.
type Handler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewHandler creates an inference Handler around a fully-wired Coordinator.
func NewHandler(coordinator *Coordinator, logger *slog.Logger) *Handler {
	return &Handler{coordinator: coordinator, logger: logger}
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, appErr := h.coordinator.Generate(r.Context(), r, callerID(r), RouteGenerate, req)
	if appErr != nil {
		httpserver.RespondAppError(w, r, appErr)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) HandleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchGenerateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp := h.coordinator.GenerateBatch(r.Context(), r, callerID(r), req)
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, appErr := h.coordinator.Extract(r.Context(), r, callerID(r), req)
	if appErr != nil {
		httpserver.RespondAppError(w, r, appErr)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

// callerID is the authenticated key's id for audit rows; the gate always
// ran before these handlers, so a missing key only happens in tests that
// exercise a handler without the middleware.
func callerID(r *http.Request) string {
	if key := apikey.FromContext(r.Context()); key != nil {
		return key.ID.String()
	}
	return ""
}
