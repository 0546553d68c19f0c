// Package model implements the gateway's model registry: a static
// ModelsConfig loaded at startup, a MultiModelManager mapping model-id to
// a polymorphic ModelBackend, and the load-mode policy (eager/lazy/off)
// that governs when a backend's weights become resident.
package model

import "fmt"

// BackendKind names the runtime variant a ModelSpec describes.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
)

// LoadMode governs when a backend is made resident.
type LoadMode string

const (
	LoadEager LoadMode = "eager"
	LoadLazy  LoadMode = "lazy"
	LoadOff   LoadMode = "off"
)

// ParseLoadMode normalizes a load-mode string from configuration. "on" is
// accepted as a synonym for eager. Empty or unrecognised values report
// ok=false so the caller can fall back to the per-model setting.
func ParseLoadMode(s string) (LoadMode, bool) {
	switch s {
	case "eager", "on":
		return LoadEager, true
	case "lazy":
		return LoadLazy, true
	case "off":
		return LoadOff, true
	default:
		return "", false
	}
}

// Capability is one of the two gateway routes a model may support.
type Capability string

const (
	CapGenerate Capability = "generate"
	CapExtract  Capability = "extract"
)

// CapabilityMap is the normalized per-model capability set: missing keys
// default to true ("partial configs do not disable silently").
type CapabilityMap map[Capability]bool

// Allows reports whether cap is permitted, defaulting to true when cap is
// absent from the map (including a nil map, meaning "unspecified").
func (m CapabilityMap) Allows(cap Capability) bool {
	if m == nil {
		return true
	}
	v, ok := m[cap]
	if !ok {
		return true
	}
	return v
}

// NormalizeCapabilityMeta converts the raw per-model capability
// configuration (as decoded from YAML) into a CapabilityMap:
//   - nil / absent              → unspecified (allow all)
//   - []string                  → allow-list (anything not listed is false)
//   - map[string]bool           → missing key ⇒ true
//   - string                    → single allowed capability
//   - anything else             → fail-open (unspecified)
func NormalizeCapabilityMeta(raw any) CapabilityMap {
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		out := CapabilityMap{CapGenerate: false, CapExtract: false}
		for _, s := range v {
			out[Capability(s)] = true
		}
		return out
	case []any:
		out := CapabilityMap{CapGenerate: false, CapExtract: false}
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out[Capability(s)] = true
		}
		return out
	case map[string]bool:
		out := make(CapabilityMap, len(v))
		for k, val := range v {
			out[Capability(k)] = val
		}
		return out
	case map[string]any:
		// YAML decodes an untyped mapping here; non-boolean values fail open.
		out := make(CapabilityMap, len(v))
		for k, raw := range v {
			val, ok := raw.(bool)
			if !ok {
				return nil
			}
			out[Capability(k)] = val
		}
		return out
	case string:
		return CapabilityMap{CapGenerate: false, CapExtract: false, Capability(v): true}
	default:
		return nil
	}
}

// Spec is the static configuration for one model, as loaded from
// MODELS_YAML.
type Spec struct {
	ID              string        `yaml:"id"`
	Backend         BackendKind   `yaml:"backend"`
	LoadMode        LoadMode      `yaml:"load_mode"`
	Capabilities    CapabilityMap `yaml:"-"`
	RawCapabilities any           `yaml:"capabilities"`
	Device          string        `yaml:"device,omitempty"`
	DType           string        `yaml:"dtype,omitempty"`
	Quantization    string        `yaml:"quantization,omitempty"`
	TrustRemoteCode bool          `yaml:"trust_remote_code,omitempty"`
	Notes           string        `yaml:"notes,omitempty"`
	RemoteBaseURL   string        `yaml:"remote_base_url,omitempty"`
}

// Validate checks the structural invariants of a ModelSpec.
func (s *Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("model spec: id must not be empty")
	}
	switch s.Backend {
	case BackendLocal, BackendRemote:
	default:
		return fmt.Errorf("model %q: invalid backend kind %q", s.ID, s.Backend)
	}
	switch s.LoadMode {
	case LoadEager, LoadLazy, LoadOff:
	default:
		return fmt.Errorf("model %q: invalid load mode %q", s.ID, s.LoadMode)
	}
	return nil
}

// Config is the full models.yaml document: an ordered, unique set of model
// specs with a designated primary.
type Config struct {
	PrimaryID string  `yaml:"primary_id"`
	Models    []*Spec `yaml:"models"`
}

// Normalize enforces the ModelsConfig invariants: an unset primary-id
// defaults to the first model; a set primary-id must be one of the model
// ids and its spec is moved to the front of the list; no duplicate ids.
// A primary-id that names no configured model is rejected with an error;
// no spec is inserted for it.
func (c *Config) Normalize() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("models config: at least one model is required")
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.LoadMode == "" {
			m.LoadMode = LoadLazy
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.ID] {
			return fmt.Errorf("models config: duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		m.Capabilities = NormalizeCapabilityMeta(m.RawCapabilities)
	}

	if c.PrimaryID == "" {
		c.PrimaryID = c.Models[0].ID
		return nil
	}

	if !seen[c.PrimaryID] {
		return fmt.Errorf("models config: primary_id %q is not among the configured models", c.PrimaryID)
	}

	if c.Models[0].ID != c.PrimaryID {
		reordered := make([]*Spec, 0, len(c.Models))
		var primary *Spec
		for _, m := range c.Models {
			if m.ID == c.PrimaryID {
				primary = m
				continue
			}
			reordered = append(reordered, m)
		}
		c.Models = append([]*Spec{primary}, reordered...)
	}

	return nil
}
