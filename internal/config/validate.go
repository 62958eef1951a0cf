package config

// ValidateConfig configures the ValidationPipeline (C10): validator
// weights, the thresholds the complexity validator enforces, and the
// external tool + bounded install timeout the lint validator's missing-tool
// auto-install flow uses.
type ValidateConfig struct {
	Weights  map[string]float64 `yaml:"weights"`
	MaxCC    int                `yaml:"max_cyclomatic_complexity"`
	MinMI    float64            `yaml:"min_maintainability_index"`

	// LintTool is the external binary the lint validator shells out to.
	LintTool string `yaml:"lint_tool"`
	// LintInstallCmd is run (via "sh -c") when LintTool is absent from PATH
	// and no learned static_tool_fix recipe artifact exists yet to seed one.
	LintInstallCmd string `yaml:"lint_install_cmd"`
	// LintInstallTimeoutSec bounds the one auto-install subprocess spec.md's
	// missing-tool flow allows per attempt.
	LintInstallTimeoutSec int `yaml:"lint_install_timeout_sec"`
}

// DefaultValidateConfig mirrors spec.md §4.8's illustrative default weights.
func DefaultValidateConfig() ValidateConfig {
	return ValidateConfig{
		Weights: map[string]float64{
			"syntax":      0.25,
			"structure":   0.15,
			"imports":     0.10,
			"undefined":   0.15,
			"tool-call":   0.10,
			"type-check":  0.10,
			"security":    0.10,
			"complexity":  0.05,
			"lint":        0.05,
		},
		MaxCC:                 15,
		MinMI:                 20.0,
		LintTool:              "golangci-lint",
		LintInstallCmd:        "go install github.com/golangci/golangci-lint/cmd/golangci-lint@latest",
		LintInstallTimeoutSec: 120,
	}
}
