package config

// LLMConfig configures the default LlmBackend that llm.Registry falls back to
// for a model id the Router's per-tier backend table does not list. Every
// collaborator in the pipeline (the semantic cache's stage-2 judge included)
// passes a router descriptor id, so it is dispatched through that table.
type LLMConfig struct {
	Provider string `yaml:"provider"` // local, anthropic, openai, gemini, genai, xai, zai, openrouter
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the Embedder (C1).
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // "local" (deterministic, offline) or "genai"
	Dimensions  int    `yaml:"dimensions"`
	GenAIModel  string `yaml:"genai_model"`
	GenAIAPIKey string `yaml:"genai_api_key"`
}

// StoreConfig configures the ArtifactStore (C5) and VectorStore (C2).
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	RootDir      string `yaml:"root_dir"` // persisted-state layout root (spec §6.6)
}
