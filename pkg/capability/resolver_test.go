package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/pkg/model"
	"github.com/wisbric/llmgate/pkg/policy"
)

func buildRegistry(t *testing.T) *model.Registry {
	t.Helper()
	cfg := &model.Config{
		PrimaryID: "primary",
		Models: []*model.Spec{
			{ID: "primary", Backend: model.BackendLocal, LoadMode: model.LoadEager, RawCapabilities: []string{"generate"}},
			{ID: "both", Backend: model.BackendLocal, LoadMode: model.LoadLazy},
		},
	}
	require.NoError(t, cfg.Normalize())
	reg, err := model.NewRegistry(cfg, func(s *model.Spec) (model.Backend, error) {
		return model.NewLocalBackend(s.ID, nil), nil
	})
	require.NoError(t, err)
	return reg
}

func TestSelectModelUsesDefaultForCapabilityWhenNoOverride(t *testing.T) {
	r := &Resolver{Registry: buildRegistry(t), Deployment: Deployment{GenerateEnabled: true, ExtractEnabled: true}}
	chosen, err := r.SelectModel("", model.CapGenerate)
	require.NoError(t, err)
	assert.Equal(t, "primary", chosen)
}

func TestSelectModelOverrideNotInAllowListFails(t *testing.T) {
	r := &Resolver{Registry: buildRegistry(t), AllowedList: []string{"primary"}}
	_, err := r.SelectModel("both", model.CapGenerate)
	assert.ErrorIs(t, err, apperror.ModelNotAllowed)
}

func TestSelectModelOverrideUnknownModelFails(t *testing.T) {
	r := &Resolver{Registry: buildRegistry(t)}
	_, err := r.SelectModel("ghost", model.CapGenerate)
	assert.ErrorIs(t, err, apperror.ModelMissing)
}

func TestSelectModelOverrideAllowedAndKnownSucceeds(t *testing.T) {
	r := &Resolver{Registry: buildRegistry(t), AllowedList: []string{"primary", "both"}}
	chosen, err := r.SelectModel("both", model.CapGenerate)
	require.NoError(t, err)
	assert.Equal(t, "both", chosen)
}

func TestRequireCapabilityDeploymentDisabledWins(t *testing.T) {
	r := &Resolver{
		Registry:   buildRegistry(t),
		Deployment: Deployment{GenerateEnabled: true, ExtractEnabled: false},
	}
	err := r.RequireCapability("both", model.CapExtract)
	assert.ErrorIs(t, err, apperror.CapabilityDisabled)
}

func TestRequireCapabilityModelNotSupportedFails(t *testing.T) {
	r := &Resolver{
		Registry:   buildRegistry(t),
		Deployment: Deployment{GenerateEnabled: true, ExtractEnabled: true},
	}
	err := r.RequireCapability("primary", model.CapExtract)
	assert.ErrorIs(t, err, apperror.CapabilityNotSupported)
}

func TestRequireCapabilityAllowedSucceeds(t *testing.T) {
	r := &Resolver{
		Registry:   buildRegistry(t),
		Deployment: Deployment{GenerateEnabled: true, ExtractEnabled: true},
	}
	assert.NoError(t, r.RequireCapability("both", model.CapExtract))
}

func TestPolicyUnconfiguredLeavesExtractEnabled(t *testing.T) {
	r := &Resolver{
		Registry:   buildRegistry(t),
		Deployment: Deployment{GenerateEnabled: true, ExtractEnabled: true},
		Policy:     policy.NewStore("", nil),
	}
	assert.NoError(t, r.RequireCapability("both", model.CapExtract))
}

func TestPolicyOverrideDisablesExtractWhenFailClosed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"status":"deny"}`), 0o600))
	store := policy.NewStore(path, nil)

	r := &Resolver{
		Registry:   buildRegistry(t),
		Deployment: Deployment{GenerateEnabled: true, ExtractEnabled: true},
		Policy:     store,
	}
	err := r.RequireCapability("both", model.CapExtract)
	assert.ErrorIs(t, err, apperror.CapabilityNotSupported)
}

func TestPolicyFailClosedIgnoresModelScope(t *testing.T) {
	// A denying snapshot disables extract for every model, even when it
	// names a model_id the chosen model does not match.
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"status":"deny","enable_extract":true,"model_id":"other"}`), 0o600))
	store := policy.NewStore(path, nil)

	r := &Resolver{
		Registry:   buildRegistry(t),
		Deployment: Deployment{GenerateEnabled: true, ExtractEnabled: true},
		Policy:     store,
	}
	err := r.RequireCapability("both", model.CapExtract)
	assert.ErrorIs(t, err, apperror.CapabilityNotSupported)
}

func TestPolicyOverrideScopedToOtherModelDoesNotApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"status":"allow","enable_extract":false,"model_id":"other"}`), 0o600))
	store := policy.NewStore(path, nil)

	r := &Resolver{
		Registry:   buildRegistry(t),
		Deployment: Deployment{GenerateEnabled: true, ExtractEnabled: true},
		Policy:     store,
	}
	assert.NoError(t, r.RequireCapability("both", model.CapExtract))
}
