package config

// CacheConfig configures the two-stage SemanticCache (C7).
type CacheConfig struct {
	MinQuality    float64 `yaml:"min_quality"`     // stage 1 candidate floor
	MaxAgeDays    int     `yaml:"max_age_days"`    // stage 1 candidate age ceiling
	Stage1Gate    float64 `yaml:"stage1_gate"`     // below this, never invoke stage 2
	MutateFloor   int     `yaml:"mutate_floor"`    // stage2_score >= this and < 100 -> MUTATE
	JudgeTier     string  `yaml:"judge_tier"`      // tier used for the stage-2 judge call
	JudgeTemp     float64 `yaml:"judge_temperature"`
	TopK          int     `yaml:"top_k"`
}

// DefaultCacheConfig mirrors spec.md §4.5's defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MinQuality:  0.70,
		MaxAgeDays:  90,
		Stage1Gate:  0.90,
		MutateFloor: 50,
		JudgeTier:   "veryfast",
		JudgeTemp:   0.1,
		TopK:        5,
	}
}

// PlanConfig configures the Planner (C8).
type PlanConfig struct {
	MaxSequenceElements   int     `yaml:"max_sequence_elements"`
	MaxLoopIterations     int     `yaml:"max_loop_iterations"`
	MaxFileSizeBytes      int64   `yaml:"max_file_size_bytes"`
	ContextBudgetFraction float64 `yaml:"context_budget_fraction"` // of generator_context_window
	CharsPerToken         float64 `yaml:"chars_per_token"`
}

// DefaultPlanConfig mirrors spec.md §4.6's safety caps and context budget.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		MaxSequenceElements:   10000,
		MaxLoopIterations:     1000,
		MaxFileSizeBytes:      10 * 1024 * 1024,
		ContextBudgetFraction: 0.5,
		CharsPerToken:         2.0,
	}
}
