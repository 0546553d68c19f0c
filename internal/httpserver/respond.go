package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wisbric/llmgate/internal/apperror"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// errorEnvelope is the canonical JSON error shape: a stable code, a human
// message, optional structured extras, and the request ID for correlation
// with audit/log entries.
type errorEnvelope struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"extra,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// RespondAppError renders err as the canonical error envelope, classifying
// a plain error into *apperror.Error at this boundary via apperror.As.
func RespondAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperror.As(err)
	w.Header().Set("X-Request-ID", RequestIDFromContext(r.Context()))
	Respond(w, ae.Status, errorEnvelope{
		Code:      ae.Code,
		Message:   ae.Message,
		Extra:     ae.Extra,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// RespondError writes an ad-hoc error envelope without going through the
// apperror catalogue; kept for callers (e.g. the readiness probe and admin
// listings) that produce a message before any domain error exists.
func RespondError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	w.Header().Set("X-Request-ID", RequestIDFromContext(r.Context()))
	Respond(w, status, errorEnvelope{
		Code:      code,
		Message:   message,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
