package config

// SandboxConfig configures the Runner/Sandbox (C11).
type SandboxConfig struct {
	AllowedEnvVars   []string `yaml:"allowed_env_vars"`
	ScratchRoot      string   `yaml:"scratch_root"`
	DefaultTimeout   string   `yaml:"default_timeout"`
	GraceMs          int64    `yaml:"grace_ms"`
	MaxOutputBytes   int64    `yaml:"max_output_bytes"`
	MaxMemoryMB      int      `yaml:"max_memory_mb"`
}

// DefaultSandboxConfig mirrors spec.md §4.9 and §5's grace_ms default.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		AllowedEnvVars: []string{"PATH", "HOME"},
		ScratchRoot:    ".forge/scratch",
		DefaultTimeout: "10s",
		GraceMs:        2000,
		MaxOutputBytes: 1 << 20,
		MaxMemoryMB:    512,
	}
}

// TestOrchConfig configures the TestOrchestrator (C12).
type TestOrchConfig struct {
	PassRateWeight    float64 `yaml:"pass_rate_weight"`
	CoverageWeight    float64 `yaml:"coverage_weight"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // for creative-task comparators
}

// DefaultTestOrchConfig mirrors spec.md §4.10.
func DefaultTestOrchConfig() TestOrchConfig {
	return TestOrchConfig{
		PassRateWeight:      0.6,
		CoverageWeight:      0.4,
		SimilarityThreshold: 0.80,
	}
}

// EscalateConfig configures the EscalationController (C13).
type EscalateConfig struct {
	MaxEscalations        int     `yaml:"max_escalations"`
	MinAcceptQuality      float64 `yaml:"min_accept_quality"`
	LearnedTierSimilarity float64 `yaml:"learned_tier_similarity"`
}

// DefaultEscalateConfig mirrors spec.md §4.11.
func DefaultEscalateConfig() EscalateConfig {
	return EscalateConfig{
		MaxEscalations:        4,
		MinAcceptQuality:      0.70,
		LearnedTierSimilarity: 0.85,
	}
}
