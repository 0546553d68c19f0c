package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/llmgate/internal/apperror"
)

const personSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "description": "full name"},
		"role": {"type": "string", "enum": ["admin", "standard"]}
	},
	"additionalProperties": false
}`

func TestCompileAndValidateAccepts(t *testing.T) {
	s, err := Compile("person", json.RawMessage(personSchema))
	require.NoError(t, err)

	err = s.Validate(map[string]any{"name": "Ada", "role": "admin"})
	assert.NoError(t, err)
}

func TestCompileAndValidateRejectsMissingRequired(t *testing.T) {
	s, err := Compile("person", json.RawMessage(personSchema))
	require.NoError(t, err)

	err = s.Validate(map[string]any{"role": "admin"})
	assert.Error(t, err)
}

func TestCompileAndValidateRejectsAdditionalProperties(t *testing.T) {
	s, err := Compile("person", json.RawMessage(personSchema))
	require.NoError(t, err)

	err = s.Validate(map[string]any{"name": "Ada", "extra": "nope"})
	assert.Error(t, err)
}

func TestSummaryListsRequiredAndConstraints(t *testing.T) {
	s, err := Compile("person", json.RawMessage(personSchema))
	require.NoError(t, err)

	summary := s.Summary()
	assert.Contains(t, summary, "Required fields: name")
	assert.Contains(t, summary, "name")
	assert.Contains(t, summary, "full name")
	assert.Contains(t, summary, "role")
	assert.Contains(t, summary, "No properties beyond those listed are allowed.")
}

func TestRegistryGetMissingReturnsNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, apperror.NotFound)
}

func TestRegistryPutAndGet(t *testing.T) {
	s, err := Compile("person", json.RawMessage(personSchema))
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Put(s)

	got, err := reg.Get("person")
	require.NoError(t, err)
	assert.Equal(t, "person", got.ID)
	assert.Equal(t, []string{"person"}, reg.IDs())
}
