package schema

import (
	"sort"
	"sync"

	"github.com/wisbric/llmgate/internal/apperror"
)

// Registry is a small in-memory lookup of already-compiled schemas. It
// does not read files itself (internal/app compiles the schema directory
// into it at startup); Registry only holds whatever was handed to it.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry builds a Registry from an already-compiled set of schemas.
func NewRegistry(schemas ...*Schema) *Registry {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		r.schemas[s.ID] = s
	}
	return r
}

// Get returns the schema for id. An id nothing is registered under is a
// client error (the caller chose it freely), so it maps to not_found;
// jsonschema_missing is reserved for the registry itself being absent.
func (r *Registry) Get(id string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	if !ok {
		return nil, apperror.NotFound.WithExtra(map[string]any{"schema_id": id})
	}
	return s, nil
}

// Put registers or replaces a compiled schema.
func (r *Registry) Put(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.ID] = s
}

// IDs returns every registered schema id, sorted, for GET /v1/schemas.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.schemas))
	for id := range r.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
