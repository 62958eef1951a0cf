// Package pressure implements the PressureManager collaborator (C14):
// tracking the current high/medium/low PressureLevel, auto-detecting it
// when the caller gives no explicit hint, gating paid-tier dispatch behind
// a concurrency semaphore, and negotiating quality ceilings down to what
// the current level can afford. Grounded on the teacher's
// internal/config.CoreLimits admission-control intent (MaxConcurrentShards,
// MaxTotalMemoryMB as hard ceilings enforced before dispatch), reimplemented
// here as a real runtime backpressure gate using
// golang.org/x/sync/semaphore rather than the teacher's static config
// validation.
package pressure

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"forgecore/internal/config"
	"forgecore/internal/errs"
	"forgecore/internal/logging"
	"forgecore/internal/types"
)

// Level is one of the three fixed pressure levels (spec §4.12).
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// levelOrder is "least tolerant of load" to "most tolerant", used to decide
// which level a rejected quality request should be downgraded or upgraded
// to when negotiating.
var levelOrder = []Level{LevelHigh, LevelMedium, LevelLow}

// CPULoadSampler reports a 0..1 estimate of current system load, used by
// the auto-detection heuristic. Swapped for a real /proc/loadavg or
// runtime-metrics sampler in production; tests supply a canned value.
type CPULoadSampler func() float64

// Manager tracks the active PressureLevel and admits or rejects requests
// against one concurrency budget of maxConcurrent slots shared by every
// level; the level decides only whether a full budget rejects or blocks.
type Manager struct {
	cfg     config.PressureConfig
	sampler CPULoadSampler
	now     func() time.Time

	current Level
	sem     *semaphore.Weighted
	semCap  int64
}

// New builds a Manager defaulting to config.Default ("medium" per spec
// §4.12), sized with a concurrency budget derived from maxConcurrent (the
// engine's own admission-control ceiling, analogous to the teacher's
// CoreLimits.MaxConcurrentShards).
func New(cfg config.PressureConfig, maxConcurrent int64, sampler CPULoadSampler) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	level := Level(cfg.Default)
	if level == "" {
		level = LevelMedium
	}
	return &Manager{
		cfg:     cfg,
		sampler: sampler,
		now:     time.Now,
		current: level,
		sem:     semaphore.NewWeighted(maxConcurrent),
		semCap:  maxConcurrent,
	}
}

func (m *Manager) levelConfig(level Level) config.PressureLevelConfig {
	if lc, ok := m.cfg.Levels[string(level)]; ok {
		return lc
	}
	return m.cfg.Levels[m.cfg.Default]
}

// Detect resolves the active PressureLevel per spec §4.12's precedence:
// explicit caller hint > CPU load heuristic > time-of-day window > default
// medium. Setting the result as current.
func (m *Manager) Detect(hint string) Level {
	if lvl, ok := parseHint(hint); ok {
		m.current = lvl
		logging.Pressure("pressure level set via explicit hint: %s", lvl)
		return lvl
	}

	if m.sampler != nil {
		load := m.sampler()
		switch {
		case load >= 0.85:
			m.current = LevelHigh
			logging.Pressure("pressure level set via CPU load heuristic (%.2f): high", load)
			return LevelHigh
		case load >= 0.50:
			m.current = LevelMedium
			logging.Pressure("pressure level set via CPU load heuristic (%.2f): medium", load)
			return LevelMedium
		case load >= 0:
			m.current = LevelLow
			logging.Pressure("pressure level set via CPU load heuristic (%.2f): low", load)
			return LevelLow
		}
	}

	hour := m.now().Hour()
	if hour >= 9 && hour < 18 {
		m.current = LevelHigh
		logging.PressureDebug("pressure level set via time-of-day window (business hours): high")
		return LevelHigh
	}

	m.current = LevelMedium
	return LevelMedium
}

func parseHint(hint string) (Level, bool) {
	switch Level(hint) {
	case LevelHigh, LevelMedium, LevelLow:
		return Level(hint), true
	default:
		return "", false
	}
}

// Current returns the last-detected or explicitly-set PressureLevel.
func (m *Manager) Current() Level {
	return m.current
}

// Settings returns the active level's min_quality/max_latency_ms/
// optimization/can_reject row.
func (m *Manager) Settings() config.PressureLevelConfig {
	return m.levelConfig(m.current)
}

// Negotiate implements spec §4.12's quality negotiation: if requiredQuality
// exceeds what the current level's floor can deliver headroom for, return
// (false, suggestedLevel) naming the cheapest level whose min_quality meets
// the requirement, so the caller can accept the downgrade or defer.
func (m *Manager) Negotiate(requiredQuality float64) (bool, Level) {
	current := m.levelConfig(m.current)
	if requiredQuality <= current.MinQuality || current.MinQuality == 0 {
		return true, m.current
	}
	candidates := make([]Level, len(levelOrder))
	copy(candidates, levelOrder)
	sort.Slice(candidates, func(i, j int) bool {
		return m.levelConfig(candidates[i]).MinQuality < m.levelConfig(candidates[j]).MinQuality
	})
	for _, lvl := range candidates {
		if m.levelConfig(lvl).MinQuality >= requiredQuality {
			return false, lvl
		}
	}
	return false, LevelLow
}

// AllowsCost reports whether a paid backend may be dispatched at the
// current pressure level. High and medium restrict to free/local tiers
// (spec §4.12's "optimization: none/local-only"); low allows any cost tier.
func (m *Manager) AllowsCost(costTier types.CostTier) bool {
	switch m.current {
	case LevelLow:
		return true
	default:
		return costTier == types.CostFree
	}
}

// Admit acquires one slot of the shared concurrency budget, blocking until
// one is free or ctx is done. CanReject levels return errs.ErrPressureDenied
// immediately instead of blocking when the budget is exhausted.
func (m *Manager) Admit(ctx context.Context) (func(), error) {
	settings := m.levelConfig(m.current)
	if settings.CanReject {
		if !m.sem.TryAcquire(1) {
			return nil, fmt.Errorf("%w: level=%s at capacity (%d)", errs.ErrPressureDenied, m.current, m.semCap)
		}
		return func() { m.sem.Release(1) }, nil
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrPressureDenied, err)
	}
	return func() { m.sem.Release(1) }, nil
}

// MaxLatency returns the current level's wall-clock budget. A zero value
// means unbounded (spec §4.12's low-pressure "∞").
func (m *Manager) MaxLatency() time.Duration {
	ms := m.levelConfig(m.current).MaxLatencyMs
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
