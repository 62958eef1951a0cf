package config

// EvolveConfig configures the EvolutionController (C15): how many
// artifacts are re-optimized per sweep and the thresholds its
// Mangle-based drift rules fire on.
type EvolveConfig struct {
	TopN                 int     `yaml:"top_n"`
	MinUsageCount        int     `yaml:"min_usage_count"`
	DriftWindow          int     `yaml:"drift_window"`           // rolling-mean sample count
	DriftQualityDelta    float64 `yaml:"drift_quality_delta"`    // trigger re-plan if mean quality drops by this much
	PromoteOnlyIfBetter  bool    `yaml:"promote_only_if_better"` // strictly-better gate
}

// DefaultEvolveConfig mirrors spec.md §4.13's ranking and drift defaults.
func DefaultEvolveConfig() EvolveConfig {
	return EvolveConfig{
		TopN:                10,
		MinUsageCount:       3,
		DriftWindow:         20,
		DriftQualityDelta:   0.10,
		PromoteOnlyIfBetter: true,
	}
}
