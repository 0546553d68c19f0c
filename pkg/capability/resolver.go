// Package capability implements the gateway's capability resolution:
// the model-selection and effective-capability algebra merging the
// deployment's feature flags, a model's own capability declaration, and
// the optional external policy override into a single allow/deny decision
// per request.
package capability

import (
	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/pkg/model"
	"github.com/wisbric/llmgate/pkg/policy"
)

// Deployment is the deployment-level feature-flag gate (settings booleans),
// independent of any particular model.
type Deployment struct {
	GenerateEnabled bool
	ExtractEnabled  bool
}

func (d Deployment) allows(cap model.Capability) bool {
	switch cap {
	case model.CapGenerate:
		return d.GenerateEnabled
	case model.CapExtract:
		return d.ExtractEnabled
	default:
		return true
	}
}

// Resolver holds the inputs to the selection and capability algebra: the
// model registry, the deployment flags, the allow-list, and a handle to the
// live policy snapshot.
type Resolver struct {
	Registry    *model.Registry
	Deployment  Deployment
	AllowedList []string
	Policy      *policy.Store
}

// allowed reports whether modelID may be selected by a request, per the
// allow-list (an empty list means unrestricted).
func (r *Resolver) allowed(modelID string) bool {
	if len(r.AllowedList) == 0 {
		return true
	}
	for _, id := range r.AllowedList {
		if id == modelID {
			return true
		}
	}
	return false
}

// SelectModel resolves the request's model override (if
// any) against the allow-list and registry, or picking default_for(cap) when
// no override was given.
func (r *Resolver) SelectModel(override string, cap model.Capability) (string, error) {
	if override != "" {
		if !r.allowed(override) {
			return "", apperror.ModelNotAllowed
		}
		if !r.Registry.Has(override) {
			return "", apperror.ModelMissing
		}
		return override, nil
	}
	return r.Registry.DefaultFor(cap), nil
}

// Effective computes the merged per-model capability map for
// modelID, after applying the deployment gate and the policy override.
// The deployment gate is consulted separately by RequireCapability (it
// yields capability_disabled, a distinct error from capability_not_supported).
func (r *Resolver) Effective(modelID string) model.CapabilityMap {
	spec, ok := r.Registry.Spec(modelID)
	var perModel model.CapabilityMap
	if ok {
		perModel = spec.Capabilities
	}

	effective := model.CapabilityMap{
		model.CapGenerate: perModel.Allows(model.CapGenerate) && r.Deployment.allows(model.CapGenerate),
		model.CapExtract:  perModel.Allows(model.CapExtract) && r.Deployment.allows(model.CapExtract),
	}

	if r.Policy != nil {
		snap := r.Policy.Current()
		switch {
		case !snap.Present:
			// No decision artifact configured: no override.
		case !snap.OK:
			// Fail-closed: a broken or denying snapshot disables extract
			// for every model, even when it carries a model_id scope.
			effective[model.CapExtract] = false
		case snap.AppliesTo(modelID):
			effective[model.CapExtract] = snap.EnableExtract
		}
	}

	return effective
}

// RequireCapability is the per-request capability check:
// deployment[cap]=false → capability_disabled (501); effective[cap]=false →
// capability_not_supported (400).
func (r *Resolver) RequireCapability(modelID string, cap model.Capability) error {
	if !r.Deployment.allows(cap) {
		return apperror.CapabilityDisabled
	}
	if !r.Effective(modelID).Allows(cap) {
		return apperror.CapabilityNotSupported
	}
	return nil
}
