package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wisbric/llmgate/internal/apperror"
)

// GenerateParams is the non-identity subset of a request's generation
// parameters; the inference coordinator strips prompt/model/cache/repair
// before fingerprinting and forwarding this to a backend.
type GenerateParams struct {
	MaxNewTokens int      `json:"max_new_tokens,omitempty"`
	Temperature  float64  `json:"temperature"`
	TopP         float64  `json:"top_p,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

// Backend is the polymorphic runtime model handle: local in-process
// weights or a remote HTTP model server, addressed uniformly by the
// inference coordinator.
type Backend interface {
	ModelID() string
	Generate(ctx context.Context, prompt string, params GenerateParams) (string, error)
	EnsureLoaded(ctx context.Context) error
	IsLoaded() bool
}

// LocalBackend represents an in-process model. This gateway does not
// itself implement tensor execution (out of scope per the eval-harness /
// training non-goals); Generator is supplied by the process embedding
// this module, typically a thin cgo/subprocess bridge into the serving
// runtime actually hosting the weights.
type LocalBackend struct {
	id        string
	loaded    bool
	Generator func(ctx context.Context, prompt string, params GenerateParams) (string, error)
}

// NewLocalBackend wraps a generation function as a local backend. It
// reports not loaded until EnsureLoaded is called; load timing is
// controlled by the registry's load-mode policy, which decides *when* to
// call EnsureLoaded.
func NewLocalBackend(id string, generator func(ctx context.Context, prompt string, params GenerateParams) (string, error)) *LocalBackend {
	return &LocalBackend{id: id, Generator: generator}
}

func (b *LocalBackend) ModelID() string { return b.id }

func (b *LocalBackend) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	if b.Generator == nil {
		return "", apperror.LLMUnavailable
	}
	return b.Generator(ctx, prompt, params)
}

func (b *LocalBackend) EnsureLoaded(ctx context.Context) error {
	b.loaded = true
	return nil
}

func (b *LocalBackend) IsLoaded() bool { return b.loaded }

// RemoteBackend calls an HTTP model server. Transient failures (5xx,
// connection refused) are retried once with a short backoff; if the retry
// fails too, a connection failure is returned as upstream_unreachable and
// a 5xx as upstream_error. A timeout is never retried and maps directly to
// upstream_timeout.
type RemoteBackend struct {
	id         string
	baseURL    string
	httpClient *http.Client
}

// NewRemoteBackend builds a RemoteBackend with the given per-request
// timeout.
func NewRemoteBackend(id, baseURL string, timeout time.Duration) *RemoteBackend {
	return &RemoteBackend{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *RemoteBackend) ModelID() string { return b.id }

func (b *RemoteBackend) EnsureLoaded(ctx context.Context) error { return nil }

func (b *RemoteBackend) IsLoaded() bool { return true }

type remoteGenerateRequest struct {
	Prompt       string   `json:"prompt"`
	MaxNewTokens int      `json:"max_new_tokens,omitempty"`
	Temperature  float64  `json:"temperature"`
	TopP         float64  `json:"top_p,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

type remoteGenerateResponse struct {
	Output string `json:"output"`
}

// Generate calls the remote model server's /generate endpoint, retrying
// once on a transient 5xx or connection-refused failure.
func (b *RemoteBackend) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	body, err := json.Marshal(remoteGenerateRequest{
		Prompt:       prompt,
		MaxNewTokens: params.MaxNewTokens,
		Temperature:  params.Temperature,
		TopP:         params.TopP,
		TopK:         params.TopK,
		Stop:         params.Stop,
	})
	if err != nil {
		return "", apperror.UpstreamRequestFailed.Wrap(err)
	}

	operation := func() (string, error) {
		return b.doGenerate(ctx, body)
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(2),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (b *RemoteBackend) doGenerate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(apperror.UpstreamRequestFailed.Wrap(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", backoff.Permanent(apperror.UpstreamTimeout.Wrap(err))
		}
		// Connection-refused/reset is transient: let the retry policy try once more.
		return "", apperror.UpstreamUnreachable.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// Transient server-side failure: retry once.
		return "", apperror.UpstreamError.WithExtra(map[string]any{"status_code": resp.StatusCode})
	}
	if resp.StatusCode >= 400 {
		return "", backoff.Permanent(apperror.UpstreamError.WithExtra(map[string]any{"status_code": resp.StatusCode}))
	}

	var out remoteGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", backoff.Permanent(apperror.UpstreamBadResponse.Wrap(err))
	}
	return out.Output, nil
}
