package policy

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/llmgate/internal/httpserver"
)

// snapshotView is the JSON shape of a Snapshot as rendered to the admin
// inspect/reload endpoints. Raw is the original document for operators
// chasing down why a snapshot failed closed.
type snapshotView struct {
	Present        bool   `json:"present"`
	OK             bool   `json:"ok"`
	Policy         string `json:"policy,omitempty"`
	Status         string `json:"status"`
	EnableExtract  bool   `json:"enable_extract"`
	ContractErrors int    `json:"contract_errors"`
	ModelID        string `json:"model_id,omitempty"`
	GeneratedAt    string `json:"generated_at,omitempty"`
	EvalRunID      string `json:"eval_run_id,omitempty"`
	EvalCommit     string `json:"eval_commit,omitempty"`
	Raw            string `json:"raw,omitempty"`
}

func viewOf(s Snapshot) snapshotView {
	v := snapshotView{
		Present:        s.Present,
		OK:             s.OK,
		Policy:         s.Policy,
		Status:         string(s.Status),
		EnableExtract:  s.EnableExtract,
		ContractErrors: s.ContractErrors,
		ModelID:        s.ModelID,
		EvalRunID:      s.EvalRunID,
		EvalCommit:     s.EvalCommit,
		Raw:            string(s.Raw),
	}
	if !s.GeneratedAt.IsZero() {
		v.GeneratedAt = s.GeneratedAt.Format(time.RFC3339)
	}
	return v
}

// Handler serves the admin policy inspect and reload endpoints.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a policy Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// HandleGet renders GET /v1/admin/policy: the currently active snapshot.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, viewOf(h.store.Current()))
}

// HandleReload renders POST /v1/admin/policy/reload: re-read the decision
// file and swap the new snapshot in, returning what is now active. A load
// failure still returns 200; the response body shows the fail-closed
// snapshot that resulted, which is the operative fact.
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Reload()
	h.logger.Info("policy snapshot reloaded",
		"ok", snap.OK, "status", snap.Status, "enable_extract", snap.EnableExtract)
	httpserver.Respond(w, http.StatusOK, viewOf(snap))
}
