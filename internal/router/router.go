// Package router implements the ModelRegistry & Router collaborator (C4):
// resolving a (role, tier) slot to a concrete ModelDescriptor, ascending
// tiers for escalation, and enforcing the safety gate that a backend is
// only ever instantiated when its configuration declares enabled=true
// (spec IA4: no paid backend is invoked when all paid backends are
// disabled). Grounded on the teacher's internal/config.ShardProfiles /
// DefaultShard resolution order and internal/shards/matching.go's
// fallback-chain shape, reworked around role x tier instead of shard type.
package router

import (
	"fmt"
	"sync"

	"forgecore/internal/config"
	"forgecore/internal/logging"
	"forgecore/internal/types"
)

// Router resolves (role, tier) pairs to ModelDescriptors and publishes a
// short status line for each in-flight generate call, mirroring the
// teacher's process-wide status bus.
type Router struct {
	mu       sync.RWMutex
	backends map[string]types.ModelDescriptor // keyed "role/tier"
	status   chan string                      // buffered; latest-wins consumers drain it
}

// New builds a Router from RouterConfig, instantiating only the slots that
// exist in the config. Disabled backends are still resolvable (so Pick can
// report "not enabled" rather than "not found") but PressureManager and
// EscalationController must check Enabled before dispatching.
func New(cfg config.RouterConfig) *Router {
	r := &Router{
		backends: make(map[string]types.ModelDescriptor, len(cfg.Backends)),
		status:   make(chan string, 16),
	}
	for _, b := range cfg.Backends {
		d := types.ModelDescriptor{
			ID:                b.ID,
			Provider:          b.Provider,
			Role:              types.Role(b.Role),
			Tier:              types.Tier(b.Tier),
			SpeedTier:         types.SpeedTier(b.SpeedTier),
			CostTier:          types.CostTier(b.CostTier),
			QualityTier:       types.QualityTier(b.QualityTier),
			ContextWindow:     b.ContextWindow,
			SupportsStreaming: b.Streaming,
			Enabled:           b.Enabled,
		}
		r.backends[slotKey(d.Role, d.Tier)] = d
		logging.RouterDebug("registered backend %s: role=%s tier=%s enabled=%v free=%v", b.ID, b.Role, b.Tier, b.Enabled, b.Free)
	}
	return r
}

func slotKey(role types.Role, tier types.Tier) string {
	return string(role) + "/" + string(tier)
}

// Pick resolves (role, tier) to a ModelDescriptor using the fallback chain
// from spec §4.2: exact (role,tier) -> (role,general) -> (general,tier) ->
// (general,general).
func (r *Router) Pick(role types.Role, tier types.Tier) (types.ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := []string{
		slotKey(role, tier),
		slotKey(role, types.TierGeneral),
		slotKey(types.RoleGeneral, tier),
		slotKey(types.RoleGeneral, types.TierGeneral),
	}
	for _, key := range candidates {
		if d, ok := r.backends[key]; ok {
			logging.RouterDebug("pick(%s,%s) resolved via %s -> %s", role, tier, key, d.ID)
			return d, nil
		}
	}
	return types.ModelDescriptor{}, fmt.Errorf("router: no backend resolves role=%s tier=%s", role, tier)
}

// Ascend returns the descriptor one tier above d's current tier, within the
// same role, following types.TierOrder. Past TierGod it returns d unchanged
// (spec §4.2).
func (r *Router) Ascend(d types.ModelDescriptor) (types.ModelDescriptor, error) {
	idx := tierIndex(d.Tier)
	if idx < 0 || idx >= len(types.TierOrder)-1 {
		return d, nil
	}
	next := types.TierOrder[idx+1]
	nd, err := r.Pick(d.Role, next)
	if err != nil {
		return d, nil
	}
	return nd, nil
}

func tierIndex(t types.Tier) int {
	for i, candidate := range types.TierOrder {
		if candidate == t {
			return i
		}
	}
	return -1
}

// EnabledOnly filters a slice of descriptors down to those with
// Enabled=true, the safety boundary IA4 relies on.
func EnabledOnly(ds []types.ModelDescriptor) []types.ModelDescriptor {
	out := make([]types.ModelDescriptor, 0, len(ds))
	for _, d := range ds {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// PublishStatus writes "<backend>/<model> -> <op>" to the status bus,
// non-blocking: a full buffer drops the oldest entry rather than stalling
// the caller (spec §4.2's status line is best-effort UI plumbing, never a
// correctness dependency).
func (r *Router) PublishStatus(backend, model, op string) {
	line := fmt.Sprintf("%s/%s -> %s", backend, model, op)
	select {
	case r.status <- line:
	default:
		select {
		case <-r.status:
		default:
		}
		select {
		case r.status <- line:
		default:
		}
	}
}

// ClearStatus publishes an empty status line, matching the "cleared on
// completion or error" contract in spec §4.2.
func (r *Router) ClearStatus() {
	r.PublishStatus("", "", "idle")
}

// StatusChan exposes the status bus for UI tailers (spec §9: "write-mostly,
// subscribers tail it").
func (r *Router) StatusChan() <-chan string {
	return r.status
}

// All returns every registered descriptor, primarily for diagnostics and
// the CLI's `list` surface when listing model availability.
func (r *Router) All() []types.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ModelDescriptor, 0, len(r.backends))
	for _, d := range r.backends {
		out = append(out, d)
	}
	return out
}
