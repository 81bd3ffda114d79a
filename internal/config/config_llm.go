package config

// LLMConfig selects the LLM endpoint the turn engine streams from.
// APIKey is environment-only: set via LLM__PROVIDERS__<name>__API_KEY or
// the legacy flat API__API_KEY / API__BASE_URL / API__MODEL.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider
	// fails with an upstream-unavailable error, in order.
	FallbackChain []string `yaml:"fallback_chain"`

	// TapeMode gates recording or replaying LLM turns through the tape
	// package instead of (record) or in place of (replay) a live provider.
	// Empty leaves the provider unwrapped. See TapePath.
	TapeMode string `yaml:"tape_mode"`

	// TapePath is the JSON file tape recordings are written to (record
	// mode) or read from (replay mode). Required when TapeMode is set.
	TapePath string `yaml:"tape_path"`
}

type LLMProviderConfig struct {
	APIKey       string  `yaml:"api_key" secret:"true"`
	DefaultModel string  `yaml:"default_model"`
	BaseURL      string  `yaml:"base_url"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`

	// Region is the AWS region for the bedrock provider; ignored elsewhere.
	Region string `yaml:"region"`
}
