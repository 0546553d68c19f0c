package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsPassesThroughAppError(t *testing.T) {
	err := InvalidAPIKey
	got := As(err)
	require.NotNil(t, got)
	assert.Equal(t, "invalid_api_key", got.Code)
	assert.Equal(t, http.StatusUnauthorized, got.Status)
}

func TestAsUnwrapsWrappedAppError(t *testing.T) {
	wrapped := fmt.Errorf("store query: %w", UpstreamTimeout)
	got := As(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, "upstream_timeout", got.Code)
}

func TestAsCollapsesUnknownErrorToInternal(t *testing.T) {
	got := As(errors.New("boom"))
	require.NotNil(t, got)
	assert.Equal(t, "internal_error", got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
}

func TestAsNilIsNil(t *testing.T) {
	assert.Nil(t, As(nil))
}

func TestWithExtraMerges(t *testing.T) {
	base := RateLimited.WithExtra(map[string]any{"retry_after": 5})
	assert.Equal(t, 5, base.Extra["retry_after"])
	assert.Equal(t, "rate_limited", base.Code)

	further := base.WithExtra(map[string]any{"limit": 60})
	assert.Equal(t, 5, further.Extra["retry_after"])
	assert.Equal(t, 60, further.Extra["limit"])
	assert.Nil(t, base.Extra["limit"], "original must not be mutated")
}

func TestWrapPreservesCodeAndSetsCause(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := UpstreamUnreachable.Wrap(cause)
	assert.Equal(t, "upstream_unreachable", wrapped.Code)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestNewBuildsAdHocError(t *testing.T) {
	err := New("custom_code", http.StatusTeapot, "teapot")
	assert.Equal(t, "custom_code", err.Code)
	assert.Equal(t, http.StatusTeapot, err.Status)
}
