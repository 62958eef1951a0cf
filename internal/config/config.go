// Package config holds forgecore's configuration: YAML-loadable, with
// environment-variable overrides and sensible defaults, following the same
// shape the rest of the pack uses for its config layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"forgecore/internal/logging"
)

// Config holds all forgecore configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Router    RouterConfig    `yaml:"router"`
	Cache     CacheConfig     `yaml:"cache"`
	Plan      PlanConfig      `yaml:"plan"`
	Validate  ValidateConfig  `yaml:"validate"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	TestOrch  TestOrchConfig  `yaml:"test_orch"`
	Escalate  EscalateConfig  `yaml:"escalate"`
	Pressure  PressureConfig  `yaml:"pressure"`
	Evolve    EvolveConfig    `yaml:"evolve"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "forgecore",
		Version: "0.1.0",

		LLM: LLMConfig{
			Provider: "local",
			Model:    "llama3.1",
			Timeout:  "120s",
		},

		Embedding: EmbeddingConfig{
			Provider:   "local",
			Dimensions: 256,
			GenAIModel: "gemini-embedding-001",
		},

		Store: StoreConfig{
			DatabasePath: "data/forgecore.db",
			RootDir:      ".forge",
		},

		Router: DefaultRouterConfig(),
		Cache:  DefaultCacheConfig(),
		Plan:   DefaultPlanConfig(),

		Validate: DefaultValidateConfig(),
		Sandbox:  DefaultSandboxConfig(),
		TestOrch: DefaultTestOrchConfig(),
		Escalate: DefaultEscalateConfig(),
		Pressure: DefaultPressureConfig(),
		Evolve:   DefaultEvolveConfig(),

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: provider=%s model=%s", cfg.LLM.Provider, cfg.LLM.Model)
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides, checked in
// provider priority order (first match wins).
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	} else if key := os.Getenv("XAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "xai"
	} else if key := os.Getenv("ZAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "zai"
	} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openrouter"
	}

	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" || c.Embedding.Provider == "local" {
			c.Embedding.Provider = "genai"
		}
	}
	if path := os.Getenv("FORGECORE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration, defaulting to 300s on
// a malformed config value.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers. "local" is the only
// provider that never requires an API key (it dispatches to a locally-hosted
// Ollama server instead of a paid API).
var ValidProviders = []string{"local", "anthropic", "openai", "gemini", "genai", "xai", "zai", "openrouter"}

// freeProviders never require an API key to construct.
var freeProviders = map[string]bool{"local": true}

// Validate validates the configuration (spec IA4: no paid backend may run
// without an explicit enabled=true and a present API key). This covers both
// the Router's per-tier backend table and the fallback LLMConfig llm.Registry
// dispatches to for any modelID outside that table — a stock DefaultConfig()
// must pass Validate() and actually be dispatchable, never pass validation
// and then fail deep inside engine.New().
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !freeProviders[c.LLM.Provider] && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.provider %q requires an api_key", c.LLM.Provider)
	}
	for name, b := range c.Router.Backends {
		if b.Enabled && !b.Free && b.APIKey == "" {
			return fmt.Errorf("backend %q is enabled and non-free but has no API key configured", name)
		}
	}
	return nil
}
