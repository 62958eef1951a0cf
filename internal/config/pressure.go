package config

// PressureLevelConfig is one row of the high/medium/low pressure table
// from spec.md §4.12.
type PressureLevelConfig struct {
	MinQuality    float64 `yaml:"min_quality"`
	MaxLatencyMs  int64   `yaml:"max_latency_ms"`
	Optimization  string  `yaml:"optimization"` // "none", "local-only", "full"
	CanReject     bool    `yaml:"can_reject"`
}

// PressureConfig configures the PressureManager (C14).
type PressureConfig struct {
	Levels  map[string]PressureLevelConfig `yaml:"levels"` // keyed "high"/"medium"/"low"
	Default string                         `yaml:"default"`
}

// DefaultPressureConfig mirrors spec.md §4.12's illustrative table and
// its time-of-day/CPU-load auto-detection default of "medium".
func DefaultPressureConfig() PressureConfig {
	return PressureConfig{
		Default: "medium",
		Levels: map[string]PressureLevelConfig{
			"high": {
				MinQuality:   0.60,
				MaxLatencyMs: 1000,
				Optimization: "none",
				CanReject:    true,
			},
			"medium": {
				MinQuality:   0.75,
				MaxLatencyMs: 10000,
				Optimization: "local-only",
				CanReject:    true,
			},
			"low": {
				MinQuality:   0.85,
				MaxLatencyMs: 0, // 0 means unbounded ("∞" per spec.md §4.12)
				Optimization: "full",
				CanReject:    false,
			},
		},
	}
}
