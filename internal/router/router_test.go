package router

import (
	"testing"

	"forgecore/internal/config"
	"forgecore/internal/types"
)

func TestPickFallbackChain(t *testing.T) {
	r := New(config.DefaultRouterConfig())

	d, err := r.Pick(types.RoleCode, types.TierFast)
	if err != nil {
		t.Fatalf("Pick exact slot: %v", err)
	}
	if d.Role != types.RoleCode || d.Tier != types.TierFast {
		t.Fatalf("expected code/fast, got %s/%s", d.Role, d.Tier)
	}

	// veryfast/escalation isn't a populated role in defaults for a bogus
	// role, so it must fall back through (general,tier) then (general,general).
	d, err = r.Pick(types.Role("bogus"), types.TierFast)
	if err != nil {
		t.Fatalf("Pick fallback: %v", err)
	}
	if d.Role != types.RoleGeneral {
		t.Fatalf("expected fallback to general role, got %s", d.Role)
	}
}

func TestAscendSequence(t *testing.T) {
	r := New(config.DefaultRouterConfig())

	d, err := r.Pick(types.RoleGeneral, types.TierVeryFast)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []types.Tier{types.TierFast, types.TierGeneral, types.TierEscalation, types.TierGod} {
		d, err = r.Ascend(d)
		if err != nil {
			t.Fatal(err)
		}
		if d.Tier != want {
			t.Fatalf("ascend: want tier %s, got %s", want, d.Tier)
		}
	}
	// past god, ascend is a no-op
	same, err := r.Ascend(d)
	if err != nil {
		t.Fatal(err)
	}
	if same.Tier != types.TierGod {
		t.Fatalf("ascend past god should stay at god, got %s", same.Tier)
	}
}

func TestIA4NoPaidBackendEnabledByDefault(t *testing.T) {
	r := New(config.DefaultRouterConfig())
	for _, d := range r.All() {
		if d.CostTier == types.CostHigh || d.CostTier == types.CostMedium {
			if d.Enabled {
				t.Fatalf("paid backend %s must not be enabled by default", d.ID)
			}
		}
	}
}

func TestEnabledOnlyFilters(t *testing.T) {
	r := New(config.DefaultRouterConfig())
	enabled := EnabledOnly(r.All())
	for _, d := range enabled {
		if !d.Enabled {
			t.Fatalf("EnabledOnly returned a disabled descriptor: %s", d.ID)
		}
	}
	if len(enabled) == 0 {
		t.Fatal("expected at least the free veryfast/fast/general backends to be enabled")
	}
}

func TestStatusBusPublishAndClear(t *testing.T) {
	r := New(config.DefaultRouterConfig())
	r.PublishStatus("local", "general-fast", "generate")
	select {
	case line := <-r.StatusChan():
		if line != "local/general-fast -> generate" {
			t.Fatalf("unexpected status line: %q", line)
		}
	default:
		t.Fatal("expected a status line to be published")
	}
	r.ClearStatus()
	select {
	case line := <-r.StatusChan():
		if line != "/ -> idle" {
			t.Fatalf("unexpected clear line: %q", line)
		}
	default:
		t.Fatal("expected clear status line")
	}
}
