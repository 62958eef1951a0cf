package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "forgecore" {
		t.Errorf("expected Name=forgecore, got %s", cfg.Name)
	}
	if cfg.LLM.Provider != "local" {
		t.Errorf("expected Provider=local, got %s", cfg.LLM.Provider)
	}
	if cfg.Escalate.MaxEscalations != 4 {
		t.Errorf("expected MaxEscalations=4, got %d", cfg.Escalate.MaxEscalations)
	}
}

func TestDefaultConfig_NoBackendEnabledAndPaid(t *testing.T) {
	// IA4: the out-of-the-box router must not enable any paid backend.
	cfg := DefaultConfig()
	for id, b := range cfg.Router.Backends {
		if b.Enabled && !b.Free {
			t.Errorf("backend %q is enabled and paid by default, violates IA4", id)
		}
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("XAI_API_KEY", "")
	t.Setenv("ZAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "sk-test"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != "anthropic" {
		t.Errorf("expected Provider=anthropic, got %s", loaded.LLM.Provider)
	}
	if loaded.LLM.APIKey != "sk-test" {
		t.Errorf("expected APIKey=sk-test, got %s", loaded.LLM.APIKey)
	}
}

func TestConfig_Load_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "forgecore" {
		t.Errorf("expected default Name=forgecore, got %s", cfg.Name)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	os.Setenv("FORGECORE_DB", "/tmp/override.db")
	defer os.Unsetenv("FORGECORE_DB")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.LLM.APIKey != "env-anthropic-key" {
		t.Errorf("expected APIKey=env-anthropic-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected Provider=anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.Store.DatabasePath != "/tmp/override.db" {
		t.Errorf("expected DatabasePath override, got %s", cfg.Store.DatabasePath)
	}
}

func TestConfig_EnvOverrides_ProviderPriority(t *testing.T) {
	// Anthropic takes priority over OpenAI when both are set.
	os.Setenv("OPENAI_API_KEY", "env-openai-key")
	defer os.Unsetenv("OPENAI_API_KEY")
	os.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected anthropic to win priority, got %s", cfg.LLM.Provider)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate cleanly (no paid backend enabled), got %v", err)
	}

	cfg.LLM.Provider = "not-a-real-provider"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid LLM provider")
	}
}

func TestConfig_Validate_RejectsEnabledPaidBackendWithoutKey(t *testing.T) {
	cfg := DefaultConfig()
	b := cfg.Router.Backends["code-god"]
	b.Enabled = true
	b.Free = false
	b.APIKey = ""
	cfg.Router.Backends["code-god"] = b

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for enabled paid backend with no API key")
	}
}

func TestConfig_GetLLMTimeout(t *testing.T) {
	cfg := DefaultConfig()
	if d := cfg.GetLLMTimeout(); d.Seconds() != 120 {
		t.Errorf("expected 120s timeout, got %v", d)
	}

	cfg.LLM.Timeout = "not-a-duration"
	if d := cfg.GetLLMTimeout(); d.Seconds() != 300 {
		t.Errorf("expected fallback 300s timeout, got %v", d)
	}
}
