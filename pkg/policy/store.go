package policy

import (
	"log/slog"

	"go.uber.org/atomic"
)

// Store holds the current Snapshot behind an atomic pointer: readers (the
// capability resolver, on every request) never block on a writer, and
// /v1/admin/policy/reload swaps in a freshly-loaded snapshot without
// disturbing in-flight requests that already read the old one.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
	logger  *slog.Logger
}

// NewStore loads the initial snapshot from path (POLICY_DECISION_PATH) and
// returns a Store ready for concurrent reads. A load failure is logged and
// degrades to the fail-closed snapshot rather than aborting startup; the
// policy override is optional machinery, unlike the model registry.
func NewStore(path string, logger *slog.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.reload()
	return s
}

// Current returns the most recently loaded snapshot.
func (s *Store) Current() Snapshot {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return NoOverride
}

// Reload re-reads the policy decision file and swaps it in, returning the
// newly active snapshot. Used by the admin reload endpoint.
func (s *Store) Reload() Snapshot {
	s.reload()
	return s.Current()
}

func (s *Store) reload() {
	snap, err := Load(s.path)
	if err != nil && s.logger != nil {
		s.logger.Warn("policy snapshot load failed, failing closed", "path", s.path, "error", err)
	}
	s.current.Store(&snap)
}
