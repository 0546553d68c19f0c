// Package policy implements the gateway's external policy override:
// an optional, periodically-reloadable decision document that can disable
// extract for some or all models, held behind an atomic pointer so the
// hot read path (every capability resolution) never takes a lock.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Status is the raw decision document's verdict.
type Status string

const (
	StatusAllow   Status = "allow"
	StatusDeny    Status = "deny"
	StatusUnknown Status = "unknown"
)

// rawDecision is the on-disk JSON shape at POLICY_DECISION_PATH. OK is a
// pointer so an artifact that omits the field is not read as a denial;
// ContractErr is kept raw because producers emit it both as a count and as
// a list of messages.
type rawDecision struct {
	SchemaVersion int             `json:"schema_version,omitempty"`
	Policy        string          `json:"policy,omitempty"`
	Status        Status          `json:"status"`
	OK            *bool           `json:"ok,omitempty"`
	EnableExtract bool            `json:"enable_extract"`
	ModelID       string          `json:"model_id,omitempty"`
	GeneratedAt   string          `json:"generated_at,omitempty"`
	EvalRunID     string          `json:"eval_run_id,omitempty"`
	EvalCommit    string          `json:"eval_commit,omitempty"`
	ContractErr   json.RawMessage `json:"contract_errors,omitempty"`
}

// contractErrorCount interprets the artifact's contract_errors field: a
// number is the count itself, an array contributes its length, an absent
// field or null is zero errors, and any other value (a string, an object,
// a non-integer number) counts as one error so the snapshot fails closed.
func contractErrorCount(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list)
	}
	return 1
}

// Snapshot is the resolved, fail-closed PolicyDecisionSnapshot: the single
// value consulted by the capability resolver's policy-override step.
// Present is false only when no POLICY_DECISION_PATH was configured at
// all; a configured-but-broken artifact is Present and fail-closed.
type Snapshot struct {
	Present        bool
	OK             bool
	GeneratedAt    time.Time
	Policy         string
	Status         Status
	EnableExtract  bool
	ContractErrors int
	ModelID        string // empty means "applies to every model"
	EvalRunID      string
	EvalCommit     string
	Raw            json.RawMessage
}

// NoOverride is the snapshot used when POLICY_DECISION_PATH is unset: it
// carries no opinion, so the resolver's merge step is a no-op.
var NoOverride = Snapshot{OK: true}

// AppliesTo reports whether this snapshot's override should be merged for
// modelID: a scoped snapshot that doesn't match the chosen
// model contributes no override at all.
func (s Snapshot) AppliesTo(modelID string) bool {
	return s.ModelID == "" || s.ModelID == modelID
}

// EffectiveEnableExtract is the single boolean this snapshot contributes
// to the per-model capability merge: always false when not ok, regardless
// of what the raw document claimed.
func (s Snapshot) EffectiveEnableExtract() bool {
	if !s.OK {
		return false
	}
	return s.EnableExtract
}

// Load resolves the policy snapshot at startup. An empty path means no
// override was configured. Any failure to read or parse the file, a
// deny/unknown verdict, a nonzero contract-error count, or the artifact's
// own ok=false is fail-closed: ok=false and extract is disabled for every
// model.
func Load(path string) (Snapshot, error) {
	if path == "" {
		return NoOverride, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failClosed(nil), fmt.Errorf("policy: reading %s: %w", path, err)
	}

	var raw rawDecision
	if err := json.Unmarshal(data, &raw); err != nil {
		return failClosed(data), fmt.Errorf("policy: parsing %s: %w", path, err)
	}

	snap := Snapshot{
		Present:        true,
		Policy:         raw.Policy,
		Status:         raw.Status,
		EnableExtract:  raw.EnableExtract,
		ModelID:        raw.ModelID,
		EvalRunID:      raw.EvalRunID,
		EvalCommit:     raw.EvalCommit,
		ContractErrors: contractErrorCount(raw.ContractErr),
		Raw:            data,
	}
	if raw.GeneratedAt != "" {
		if t, err := time.Parse(time.RFC3339, raw.GeneratedAt); err == nil {
			snap.GeneratedAt = t
		}
	}

	// The artifact's own ok is a necessary but not sufficient signal: a
	// document claiming ok=true with contract errors or a deny/unknown
	// verdict is still fail-closed. An absent status carries no verdict
	// and does not trip it.
	denied := snap.Status == StatusDeny || snap.Status == StatusUnknown
	snap.OK = (raw.OK == nil || *raw.OK) && snap.ContractErrors == 0 && !denied
	if !snap.OK {
		snap.EnableExtract = false
	}
	return snap, nil
}

func failClosed(raw json.RawMessage) Snapshot {
	return Snapshot{Present: true, OK: false, Status: StatusUnknown, EnableExtract: false, Raw: raw}
}
