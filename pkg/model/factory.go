package model

import (
	"context"
	"fmt"
	"time"
)

// Generator is the in-process completion function the embedding process
// wires up for local backends. Actual tensor execution is out of scope for
// this gateway (spec Non-goals); the gateway only owns the routing, gating,
// caching, and validation state machine around whatever generator a real
// deployment supplies.
type Generator func(ctx context.Context, prompt string, params GenerateParams) (string, error)

// NewBackendFactory builds the factory NewRegistry and Registry.LoadModel
// use to turn a Spec into a concrete Backend: a RemoteBackend hitting
// spec.RemoteBaseURL for BackendRemote, or a LocalBackend wrapping
// generator for BackendLocal. A nil generator falls back to EchoGenerator,
// which only exercises the routing/cache/capability machinery end-to-end
// and is not a substitute for a real model.
func NewBackendFactory(generator Generator, upstreamTimeout time.Duration) func(*Spec) (Backend, error) {
	if generator == nil {
		generator = EchoGenerator
	}
	return func(spec *Spec) (Backend, error) {
		switch spec.Backend {
		case BackendLocal:
			return NewLocalBackend(spec.ID, generator), nil
		case BackendRemote:
			if spec.RemoteBaseURL == "" {
				return nil, fmt.Errorf("model %q: remote backend requires remote_base_url", spec.ID)
			}
			return NewRemoteBackend(spec.ID, spec.RemoteBaseURL, upstreamTimeout), nil
		default:
			return nil, fmt.Errorf("model %q: unknown backend kind %q", spec.ID, spec.Backend)
		}
	}
}

// EchoGenerator is a minimal local completion stand-in: it echoes the
// prompt back unchanged. It exists so a deployment with no real runtime
// wired in can still exercise load-mode, cache, and capability behavior.
func EchoGenerator(_ context.Context, prompt string, _ GenerateParams) (string, error) {
	return prompt, nil
}
