package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wisbric/llmgate/internal/apperror"
)

// StatusEntry describes one backend's registry-visible state, as returned
// by GET /v1/models.
type StatusEntry struct {
	ModelID      string
	BackendName  string
	LoadMode     LoadMode
	Loaded       *bool
	Default      bool
	Capabilities CapabilityMap
}

// Registry is the multi-model manager: maps model-id to backend,
// knows the default id, and holds per-model capability/load-mode metadata.
// It is immutable after startup except for the off→loaded admin
// transition: mu's write lock serializes that build+load so only one runs
// at once, and every backend-map read takes the read lock so an in-flight
// request never observes the map mid-write. The specs map is never
// mutated after construction and needs no locking.
type Registry struct {
	mu        sync.RWMutex
	backends  map[string]Backend
	specs     map[string]*Spec
	defaultID string
}

// NewRegistry builds a Registry from a normalized Config and a factory
// that constructs a Backend for a given Spec. The factory is called once
// per model at registry construction time; whether the backend's weights
// are actually loaded yet is governed separately by load-mode.
func NewRegistry(cfg *Config, factory func(*Spec) (Backend, error)) (*Registry, error) {
	r := &Registry{
		backends:  make(map[string]Backend, len(cfg.Models)),
		specs:     make(map[string]*Spec, len(cfg.Models)),
		defaultID: cfg.PrimaryID,
	}

	for _, spec := range cfg.Models {
		if spec.LoadMode == LoadOff {
			r.specs[spec.ID] = spec
			continue
		}
		backend, err := factory(spec)
		if err != nil {
			return nil, fmt.Errorf("building backend for model %q: %w", spec.ID, err)
		}
		r.backends[spec.ID] = backend
		r.specs[spec.ID] = spec
	}

	return r, nil
}

// DefaultID returns the registry's primary model id.
func (r *Registry) DefaultID() string { return r.defaultID }

// Spec returns the static spec for a model id, or false if unknown.
func (r *Registry) Spec(modelID string) (*Spec, bool) {
	s, ok := r.specs[modelID]
	return s, ok
}

// Has reports whether modelID is a known model in this registry.
func (r *Registry) Has(modelID string) bool {
	_, ok := r.specs[modelID]
	return ok
}

// DefaultFor returns the registry's best model for a capability: the
// default id if it supports cap, else the first model that supports it,
// else the default id.
func (r *Registry) DefaultFor(cap Capability) string {
	if spec, ok := r.specs[r.defaultID]; ok && spec.Capabilities.Allows(cap) {
		return r.defaultID
	}
	for _, spec := range r.specs {
		if spec.Capabilities.Allows(cap) {
			return spec.ID
		}
	}
	return r.defaultID
}

// Backend returns the backend for modelID. It returns llm_not_loaded if
// the model is known but its load-mode is off and no backend was built,
// and model_missing if the id is entirely unknown.
func (r *Registry) Backend(modelID string) (Backend, error) {
	r.mu.RLock()
	b, ok := r.backends[modelID]
	r.mu.RUnlock()
	if !ok {
		if _, knownButOff := r.specs[modelID]; knownButOff {
			return nil, apperror.LLMNotLoaded
		}
		return nil, apperror.ModelMissing
	}
	return b, nil
}

// EnsureLoaded loads only the default backend.
func (r *Registry) EnsureLoaded(ctx context.Context) error {
	r.mu.RLock()
	b, ok := r.backends[r.defaultID]
	r.mu.RUnlock()
	if !ok {
		return apperror.LLMNotLoaded
	}
	return b.EnsureLoaded(ctx)
}

// LoadAll loads every backend that exposes a loader (i.e. every backend
// currently built into the registry; off-mode models have none). The map
// is snapshotted under the read lock so the loads themselves run without
// holding it.
func (r *Registry) LoadAll(ctx context.Context) error {
	r.mu.RLock()
	backends := make(map[string]Backend, len(r.backends))
	for id, b := range r.backends {
		backends[id] = b
	}
	r.mu.RUnlock()

	for id, b := range backends {
		if err := b.EnsureLoaded(ctx); err != nil {
			return fmt.Errorf("loading model %q: %w", id, err)
		}
	}
	return nil
}

// IsLoaded consults the backend's own loader status first, falling back
// to false when the model has no backend at all (off mode, never loaded).
func (r *Registry) IsLoaded(modelID string) bool {
	r.mu.RLock()
	b, ok := r.backends[modelID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return b.IsLoaded()
}

// Status returns an ordered snapshot of every known model for the
// GET /v1/models and /readyz surfaces: the default model first, the rest
// sorted by id.
func (r *Registry) Status() []StatusEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]StatusEntry, 0, len(r.specs))
	for id, spec := range r.specs {
		var loaded *bool
		if b, ok := r.backends[id]; ok {
			v := b.IsLoaded()
			loaded = &v
		}
		entries = append(entries, StatusEntry{
			ModelID:      id,
			BackendName:  string(spec.Backend),
			LoadMode:     spec.LoadMode,
			Loaded:       loaded,
			Default:      id == r.defaultID,
			Capabilities: spec.Capabilities,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Default != entries[j].Default {
			return entries[i].Default
		}
		return entries[i].ModelID < entries[j].ModelID
	})
	return entries
}

// LoadModel forces a load of modelID, building its backend on demand if
// the registry currently holds it in off mode (the admin "load" action).
// Concurrent admin-load calls are serialized by mu so only
// one build+load runs at a time, per the shared single process-wide
// mutex note in the concurrency model.
func (r *Registry) LoadModel(ctx context.Context, modelID string, factory func(*Spec) (Backend, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[modelID]; ok {
		return b.EnsureLoaded(ctx)
	}

	spec, ok := r.specs[modelID]
	if !ok {
		return apperror.ModelMissing
	}

	backend, err := factory(spec)
	if err != nil {
		return fmt.Errorf("building backend for model %q: %w", modelID, err)
	}
	if err := backend.EnsureLoaded(ctx); err != nil {
		return err
	}

	r.backends[modelID] = backend
	return nil
}

// WarmupTimeout bounds the optional post-load warmup call so a slow
// first-token stall never hangs process startup indefinitely.
const WarmupTimeout = 30 * time.Second
