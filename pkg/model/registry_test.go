package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/llmgate/internal/apperror"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		PrimaryID: "primary",
		Models: []*Spec{
			{ID: "primary", Backend: BackendLocal, LoadMode: LoadEager, RawCapabilities: []string{"generate"}},
			{ID: "extractor", Backend: BackendLocal, LoadMode: LoadLazy, RawCapabilities: []string{"extract"}},
			{ID: "dormant", Backend: BackendLocal, LoadMode: LoadOff},
		},
	}
	require.NoError(t, cfg.Normalize())
	return cfg
}

func noopFactory(spec *Spec) (Backend, error) {
	return NewLocalBackend(spec.ID, func(ctx context.Context, prompt string, params GenerateParams) (string, error) {
		return "ok", nil
	}), nil
}

func TestRegistryBackendKnownButOffReturnsLLMNotLoaded(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	_, err = reg.Backend("dormant")
	assert.ErrorIs(t, err, apperror.LLMNotLoaded)
}

func TestRegistryBackendUnknownReturnsModelMissing(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	_, err = reg.Backend("nonexistent")
	assert.ErrorIs(t, err, apperror.ModelMissing)
}

func TestRegistryDefaultForPrefersDefaultWhenCapable(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	assert.Equal(t, "primary", reg.DefaultFor(CapGenerate))
}

func TestRegistryDefaultForFallsBackToFirstCapableModel(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	assert.Equal(t, "extractor", reg.DefaultFor(CapExtract))
}

func TestRegistryLoadModelBuildsOffBackendOnDemand(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	assert.False(t, reg.IsLoaded("dormant"))
	require.NoError(t, reg.LoadModel(context.Background(), "dormant", noopFactory))
	assert.True(t, reg.IsLoaded("dormant"))

	b, err := reg.Backend("dormant")
	require.NoError(t, err)
	assert.Equal(t, "dormant", b.ModelID())
}

func TestRegistryLoadModelUnknownIDFails(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	err = reg.LoadModel(context.Background(), "ghost", noopFactory)
	assert.True(t, errors.Is(err, apperror.ModelMissing))
}

func TestRegistryStatusReflectsDefaultAndLoadedFlags(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	entries := reg.Status()
	require.Len(t, entries, 3)

	// Default first, the rest sorted by id; stable across calls.
	assert.Equal(t, "primary", entries[0].ModelID)
	assert.Equal(t, "dormant", entries[1].ModelID)
	assert.Equal(t, "extractor", entries[2].ModelID)

	assert.True(t, entries[0].Default)
	require.NotNil(t, entries[0].Loaded)

	assert.Nil(t, entries[1].Loaded)
	assert.False(t, entries[1].Default)

	assert.Equal(t, entries, reg.Status())
}

func TestRegistryEnsureLoadedLoadsDefaultOnly(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	require.NoError(t, reg.EnsureLoaded(context.Background()))
	assert.True(t, reg.IsLoaded("primary"))
	assert.False(t, reg.IsLoaded("extractor"))
}

func TestRegistryLoadAllLoadsEveryBuiltBackend(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), noopFactory)
	require.NoError(t, err)

	require.NoError(t, reg.LoadAll(context.Background()))
	assert.True(t, reg.IsLoaded("primary"))
	assert.True(t, reg.IsLoaded("extractor"))
	assert.False(t, reg.IsLoaded("dormant"))
}
