package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/llmgate/internal/apperror"
)

func TestLocalBackendGenerateDelegatesToGenerator(t *testing.T) {
	b := NewLocalBackend("m1", func(ctx context.Context, prompt string, params GenerateParams) (string, error) {
		return "echo:" + prompt, nil
	})
	require.NoError(t, b.EnsureLoaded(context.Background()))
	assert.True(t, b.IsLoaded())

	out, err := b.Generate(context.Background(), "hi", GenerateParams{})
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", out)
}

func TestLocalBackendGenerateWithoutGeneratorIsUnavailable(t *testing.T) {
	b := &LocalBackend{id: "m1"}
	_, err := b.Generate(context.Background(), "hi", GenerateParams{})
	assert.ErrorIs(t, err, apperror.LLMUnavailable)
}

func TestRemoteBackendGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":"hello there"}`))
	}))
	defer srv.Close()

	b := NewRemoteBackend("remote-1", srv.URL, time.Second)
	out, err := b.Generate(context.Background(), "hi", GenerateParams{})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestRemoteBackendGenerate4xxIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewRemoteBackend("remote-1", srv.URL, time.Second)
	_, err := b.Generate(context.Background(), "hi", GenerateParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.UpstreamError)
	assert.Equal(t, 1, calls)
}

func TestRemoteBackendGenerate5xxRetriesThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewRemoteBackend("remote-1", srv.URL, time.Second)
	_, err := b.Generate(context.Background(), "hi", GenerateParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.UpstreamError)
	assert.Equal(t, 2, calls)
}

func TestRemoteBackendGenerateBadJSONIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	b := NewRemoteBackend("remote-1", srv.URL, time.Second)
	_, err := b.Generate(context.Background(), "hi", GenerateParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.UpstreamBadResponse)
	assert.Equal(t, 1, calls)
}

func TestRemoteBackendIsAlwaysLoaded(t *testing.T) {
	b := NewRemoteBackend("remote-1", "http://example.invalid", time.Second)
	assert.True(t, b.IsLoaded())
	require.NoError(t, b.EnsureLoaded(context.Background()))
}
