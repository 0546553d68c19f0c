package inference

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/pkg/capability"
	"github.com/wisbric/llmgate/pkg/model"
	"github.com/wisbric/llmgate/pkg/policy"
	"github.com/wisbric/llmgate/pkg/schema"
)

// scriptedBackend returns canned outputs in order and records every call,
// so tests can assert how many backend round-trips a pipeline made and
// with which parameters.
type scriptedBackend struct {
	id      string
	outputs []string
	calls   []model.GenerateParams
	prompts []string
}

func (b *scriptedBackend) ModelID() string                      { return b.id }
func (b *scriptedBackend) EnsureLoaded(_ context.Context) error { return nil }
func (b *scriptedBackend) IsLoaded() bool                       { return true }

func (b *scriptedBackend) Generate(_ context.Context, prompt string, params model.GenerateParams) (string, error) {
	b.calls = append(b.calls, params)
	b.prompts = append(b.prompts, prompt)
	if len(b.outputs) == 0 {
		return "", apperror.LLMUnavailable
	}
	out := b.outputs[0]
	b.outputs = b.outputs[1:]
	return out, nil
}

func testRegistry(t *testing.T, backend *scriptedBackend) *model.Registry {
	t.Helper()
	cfg := &model.Config{
		PrimaryID: backend.id,
		Models: []*model.Spec{
			{ID: backend.id, Backend: model.BackendLocal, LoadMode: model.LoadLazy},
		},
	}
	registry, err := model.NewRegistry(cfg, func(*model.Spec) (model.Backend, error) {
		return backend, nil
	})
	require.NoError(t, err)
	return registry
}

func testCoordinator(t *testing.T, backend *scriptedBackend, schemas *schema.Registry) *Coordinator {
	t.Helper()
	registry := testRegistry(t, backend)
	return &Coordinator{
		Registry: registry,
		Resolver: &capability.Resolver{
			Registry:   registry,
			Deployment: capability.Deployment{GenerateEnabled: true, ExtractEnabled: true},
		},
		Schemas: schemas,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func personSchema(t *testing.T) *schema.Registry {
	t.Helper()
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {"a": {"type": "integer"}},
		"required": ["a"],
		"additionalProperties": false
	}`)
	s, err := schema.Compile("person", raw)
	require.NoError(t, err)
	return schema.NewRegistry(s)
}

func noCache() *bool {
	v := false
	return &v
}

func TestGenerateReturnsBackendOutput(t *testing.T) {
	backend := &scriptedBackend{id: "m1", outputs: []string{"completion"}}
	c := testCoordinator(t, backend, nil)

	r := httptest.NewRequest("POST", "/v1/generate", nil)
	resp, appErr := c.Generate(context.Background(), r, "key-1", RouteGenerate, GenerateRequest{
		Prompt: "hello", Cache: noCache(),
	})
	require.Nil(t, appErr)
	assert.Equal(t, "m1", resp.Model)
	assert.Equal(t, "completion", resp.Output)
	assert.False(t, resp.Cached)
	assert.Len(t, backend.calls, 1)
}

func TestGenerateRejectedOverrideMakesNoBackendCall(t *testing.T) {
	backend := &scriptedBackend{id: "m1", outputs: []string{"completion"}}
	c := testCoordinator(t, backend, nil)
	c.Resolver.AllowedList = []string{"m1"}

	r := httptest.NewRequest("POST", "/v1/generate", nil)
	_, appErr := c.Generate(context.Background(), r, "key-1", RouteGenerate, GenerateRequest{
		Prompt: "hello", Model: "other", Cache: noCache(),
	})
	require.NotNil(t, appErr)
	assert.Equal(t, apperror.ModelNotAllowed.Code, appErr.Code)
	assert.Empty(t, backend.calls)
}

func TestGenerateUnknownOverrideIsModelMissing(t *testing.T) {
	backend := &scriptedBackend{id: "m1"}
	c := testCoordinator(t, backend, nil)

	r := httptest.NewRequest("POST", "/v1/generate", nil)
	_, appErr := c.Generate(context.Background(), r, "key-1", RouteGenerate, GenerateRequest{
		Prompt: "hello", Model: "ghost", Cache: noCache(),
	})
	require.NotNil(t, appErr)
	assert.Equal(t, apperror.ModelMissing.Code, appErr.Code)
	assert.Empty(t, backend.calls)
}

func TestGenerateDeploymentGateOff(t *testing.T) {
	backend := &scriptedBackend{id: "m1"}
	c := testCoordinator(t, backend, nil)
	c.Resolver.Deployment.GenerateEnabled = false

	r := httptest.NewRequest("POST", "/v1/generate", nil)
	_, appErr := c.Generate(context.Background(), r, "key-1", RouteGenerate, GenerateRequest{
		Prompt: "hello", Cache: noCache(),
	})
	require.NotNil(t, appErr)
	assert.Equal(t, apperror.CapabilityDisabled.Code, appErr.Code)
	assert.Empty(t, backend.calls)
}

func TestGenerateBatchPreservesOrder(t *testing.T) {
	backend := &scriptedBackend{id: "m1", outputs: []string{"one", "two", "three"}}
	c := testCoordinator(t, backend, nil)
	c.MaxBatchConcurrency = 1

	r := httptest.NewRequest("POST", "/v1/generate/batch", nil)
	resp := c.GenerateBatch(context.Background(), r, "key-1", BatchGenerateRequest{
		Prompts: []string{"a", "b", "c"}, Cache: noCache(),
	})
	require.Len(t, resp.Results, 3)
	for _, item := range resp.Results {
		require.Nil(t, item.Error)
		assert.Equal(t, "m1", item.Model)
	}
	// With a concurrency limit of 1 the prompts run in input order, so each
	// result must sit at its prompt's index.
	assert.Equal(t, "one", resp.Results[0].Output)
	assert.Equal(t, "two", resp.Results[1].Output)
	assert.Equal(t, "three", resp.Results[2].Output)
}

func TestExtractReturnsFirstValidatingObject(t *testing.T) {
	// Prose, then an object rejected by additionalProperties, then the
	// valid candidate: the second object must win.
	raw := `Sure, here is the result: {"a": 1, "extra": "x"} or maybe {"a": 1}`
	backend := &scriptedBackend{id: "m1", outputs: []string{raw}}
	c := testCoordinator(t, backend, personSchema(t))

	r := httptest.NewRequest("POST", "/v1/extract", nil)
	resp, appErr := c.Extract(context.Background(), r, "key-1", ExtractRequest{
		SchemaID: "person", Text: "input", Cache: noCache(),
	})
	require.Nil(t, appErr)
	assert.Equal(t, map[string]any{"a": float64(1)}, resp.Data)
	assert.False(t, resp.RepairAttempted)
	assert.Len(t, backend.calls, 1)
}

func TestExtractRepairSucceedsWithTemperatureZero(t *testing.T) {
	backend := &scriptedBackend{id: "m1", outputs: []string{"no json here at all", `{"a": 2}`}}
	c := testCoordinator(t, backend, personSchema(t))

	r := httptest.NewRequest("POST", "/v1/extract", nil)
	resp, appErr := c.Extract(context.Background(), r, "key-1", ExtractRequest{
		SchemaID: "person", Text: "input", Temperature: 0.7, Cache: noCache(),
	})
	require.Nil(t, appErr)
	assert.True(t, resp.RepairAttempted)
	assert.Equal(t, map[string]any{"a": float64(2)}, resp.Data)

	require.Len(t, backend.calls, 2)
	assert.Equal(t, 0.7, backend.calls[0].Temperature)
	assert.Zero(t, backend.calls[1].Temperature)
}

func TestExtractRepairDisabledMakesOneCall(t *testing.T) {
	backend := &scriptedBackend{id: "m1", outputs: []string{"no json here", `{"a": 2}`}}
	c := testCoordinator(t, backend, personSchema(t))

	repair := false
	r := httptest.NewRequest("POST", "/v1/extract", nil)
	_, appErr := c.Extract(context.Background(), r, "key-1", ExtractRequest{
		SchemaID: "person", Text: "input", Cache: noCache(), Repair: &repair,
	})
	require.NotNil(t, appErr)
	assert.Equal(t, apperror.InvalidJSON.Code, appErr.Code)
	assert.Len(t, backend.calls, 1)
}

func TestExtractRepairBoundIsOneAttempt(t *testing.T) {
	// Both the initial output and the repaired output fail validation;
	// exactly two backend calls happen, never a third.
	backend := &scriptedBackend{id: "m1", outputs: []string{"garbage", "more garbage", `{"a": 3}`}}
	c := testCoordinator(t, backend, personSchema(t))

	r := httptest.NewRequest("POST", "/v1/extract", nil)
	_, appErr := c.Extract(context.Background(), r, "key-1", ExtractRequest{
		SchemaID: "person", Text: "input", Cache: noCache(),
	})
	require.NotNil(t, appErr)
	assert.Len(t, backend.calls, 2)
}

func TestExtractUnknownSchemaIsNotFound(t *testing.T) {
	backend := &scriptedBackend{id: "m1", outputs: []string{`{"a": 1}`}}
	c := testCoordinator(t, backend, personSchema(t))

	r := httptest.NewRequest("POST", "/v1/extract", nil)
	_, appErr := c.Extract(context.Background(), r, "key-1", ExtractRequest{
		SchemaID: "ghost", Text: "input", Cache: noCache(),
	})
	require.NotNil(t, appErr)
	assert.Equal(t, apperror.NotFound.Code, appErr.Code)
	assert.Equal(t, "ghost", appErr.Extra["schema_id"])
	assert.Empty(t, backend.calls)
}

func TestExtractWithoutSchemaRegistryIsJSONSchemaMissing(t *testing.T) {
	backend := &scriptedBackend{id: "m1", outputs: []string{`{"a": 1}`}}
	c := testCoordinator(t, backend, nil)

	r := httptest.NewRequest("POST", "/v1/extract", nil)
	_, appErr := c.Extract(context.Background(), r, "key-1", ExtractRequest{
		SchemaID: "person", Text: "input", Cache: noCache(),
	})
	require.NotNil(t, appErr)
	assert.Equal(t, apperror.JSONSchemaMissing.Code, appErr.Code)
	assert.Empty(t, backend.calls)
}

func TestExtractPolicyFailClosedDeniesBeforeBackend(t *testing.T) {
	backend := &scriptedBackend{id: "m1", outputs: []string{`{"a": 1}`}}
	c := testCoordinator(t, backend, personSchema(t))
	c.Resolver.Policy = policy.NewStore("/nonexistent/decision.json", slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := httptest.NewRequest("POST", "/v1/extract", nil)
	_, appErr := c.Extract(context.Background(), r, "key-1", ExtractRequest{
		SchemaID: "person", Text: "input", Cache: noCache(),
	})
	require.NotNil(t, appErr)
	assert.Equal(t, apperror.CapabilityNotSupported.Code, appErr.Code)
	assert.Empty(t, backend.calls)
}
