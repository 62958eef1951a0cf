package llm

import (
	"context"
	"fmt"
	"sync"

	"forgecore/internal/config"
	"forgecore/internal/errs"
)

// Registry resolves a router descriptor id (e.g. "general-veryfast") to its
// configured (provider, api_key, model) triple and dispatches to a real,
// lazily-constructed Backend for that provider — the missing piece between
// config.BackendConfig's per-tier metadata (already fully populated by
// DefaultRouterConfig) and a single global Backend every collaborator would
// otherwise call through regardless of which tier it asked for. Registry
// itself implements Backend, so classify/cache/plan/generate — which only
// hold an llm.Backend and always pass a router-resolved descriptor id as
// modelID — need no changes at all to dispatch through it.
type Registry struct {
	descriptors map[string]config.BackendConfig // keyed by BackendConfig.ID
	defaultCfg  config.LLMConfig

	mu        sync.Mutex
	instances map[string]Backend // keyed by "provider|api_key"
}

// NewRegistry builds a Registry over a RouterConfig's per-descriptor table
// and the LLMConfig fallback dispatched to for any modelID the table
// doesn't know about.
func NewRegistry(routerCfg config.RouterConfig, defaultCfg config.LLMConfig) *Registry {
	descriptors := make(map[string]config.BackendConfig, len(routerCfg.Backends))
	for _, bc := range routerCfg.Backends {
		descriptors[bc.ID] = bc
	}
	return &Registry{
		descriptors: descriptors,
		defaultCfg:  defaultCfg,
		instances:   make(map[string]Backend),
	}
}

func instanceKey(provider, apiKey string) string {
	return provider + "|" + apiKey
}

// resolve looks up bc by modelID and returns the real Backend to dispatch
// to plus the real provider model string to send (bc.Model, never the
// descriptor id itself). It returns errs.ErrProviderUnavailable when the
// descriptor is known but disabled — the IA4 dispatch-time gate: Pick and
// Ascend may still resolve a disabled descriptor for tier-ascension
// bookkeeping (escalate additionally checks Enabled before ever reaching
// this call), but nothing may actually dispatch a Generate call against one.
func (r *Registry) resolve(ctx context.Context, modelID string) (Backend, string, error) {
	bc, ok := r.descriptors[modelID]
	if !ok {
		backend, err := r.backendFor(ctx, r.defaultCfg.Provider, r.defaultCfg.BaseURL, r.defaultCfg.APIKey)
		if err != nil {
			return nil, "", err
		}
		return backend, defaultModelOr(r.defaultCfg.Model, modelID), nil
	}
	if !bc.Enabled {
		return nil, "", fmt.Errorf("%w: backend %q (provider=%s) is disabled", errs.ErrProviderUnavailable, modelID, bc.Provider)
	}
	backend, err := r.backendFor(ctx, bc.Provider, bc.BaseURL, bc.APIKey)
	if err != nil {
		return nil, "", err
	}
	return backend, bc.Model, nil
}

func defaultModelOr(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// backendFor lazily constructs and caches one Backend per distinct
// (provider, api_key) pair, so descriptors sharing credentials (e.g. every
// free local tier) share a single underlying client instead of reconnecting
// per call.
func (r *Registry) backendFor(ctx context.Context, provider, baseURL, apiKey string) (Backend, error) {
	key := instanceKey(provider, apiKey)

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.instances[key]; ok {
		return b, nil
	}
	b, err := newProviderBackend(ctx, provider, baseURL, apiKey)
	if err != nil {
		return nil, fmt.Errorf("llm: registry: %w", err)
	}
	r.instances[key] = b
	return b, nil
}

// Generate implements Backend, dispatching modelID to its configured
// provider after checking the IA4 Enabled gate.
func (r *Registry) Generate(ctx context.Context, modelID, prompt string, params Params) (string, error) {
	backend, model, err := r.resolve(ctx, modelID)
	if err != nil {
		return "", err
	}
	return backend.Generate(ctx, model, prompt, params)
}

// StreamGenerate implements Backend's streaming counterpart.
func (r *Registry) StreamGenerate(ctx context.Context, modelID, prompt string, params Params) (<-chan string, <-chan error) {
	backend, model, err := r.resolve(ctx, modelID)
	if err != nil {
		errc := make(chan error, 1)
		errc <- err
		close(errc)
		ch := make(chan string)
		close(ch)
		return ch, errc
	}
	return backend.StreamGenerate(ctx, model, prompt, params)
}
