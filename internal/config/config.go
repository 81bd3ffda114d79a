package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully decoded, validated configuration tree. It is never
// mutated in place once loaded — callers that need to react to runtime
// changes observe a published Snapshot instead (see snapshot.go).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	LLM      LLMConfig      `yaml:"llm"`
	Session  SessionConfig  `yaml:"session"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig controls the slog handler used across the process.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (resolving $include directives via LoadRaw), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applySessionDefaults(&cfg.Session)
	applyToolsDefaults(&cfg.Tools)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.HistoryRounds == 0 {
		cfg.HistoryRounds = 20
	}
	if cfg.ToolHopsMax == 0 {
		cfg.ToolHopsMax = 6
	}
	if cfg.Memory.RecallMinQueryChars == 0 {
		cfg.Memory.RecallMinQueryChars = 8
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 30 * time.Second
	}
	if len(cfg.Execution.Approval.ConfirmRequired) == 0 {
		cfg.Execution.Approval.ConfirmRequired = []string{"shell.exec"}
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// applyEnvOverrides layers environment variables over the decoded document,
// using the SECTION__FIELD nesting convention, plus a couple of legacy flat
// aliases for the default LLM provider kept for operator convenience.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := strings.TrimSpace(os.Getenv("SERVER__HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("SERVER__HTTP_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("SERVER__METRICS_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}

	if v := strings.TrimSpace(os.Getenv("DATABASE__DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE__DRIVER")); v != "" {
		cfg.Database.Driver = v
	}

	if v := strings.TrimSpace(os.Getenv("AUTH__JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTH__TOKEN_EXPIRY")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOGGING__LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOGGING__FORMAT")); v != "" {
		cfg.Logging.Format = v
	}

	if v := strings.TrimSpace(os.Getenv("MEMORY__ENABLED")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Session.Memory.Enabled = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("MEMORY__NEO4J__URI")); v != "" {
		cfg.Session.Memory.Neo4j.URI = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMORY__NEO4J__USERNAME")); v != "" {
		cfg.Session.Memory.Neo4j.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMORY__NEO4J__PASSWORD")); v != "" {
		cfg.Session.Memory.Neo4j.Password = v
	}

	applyLLMEnvOverrides(cfg)
}

// applyLLMEnvOverrides supports both LLM__PROVIDERS__<name>__<field> and the
// legacy flat API__API_KEY / API__BASE_URL / API__MODEL aliases, which all
// target cfg.LLM.DefaultProvider's entry.
func applyLLMEnvOverrides(cfg *Config) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}

	const envPrefix = "LLM__PROVIDERS__"
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		rest := strings.TrimPrefix(name, envPrefix)
		parts := strings.SplitN(rest, "__", 2)
		if len(parts) != 2 {
			continue
		}
		provider := strings.ToLower(parts[0])
		field := parts[1]
		entry := cfg.LLM.Providers[provider]
		applyLLMProviderField(&entry, field, value)
		cfg.LLM.Providers[provider] = entry
	}

	if cfg.LLM.DefaultProvider == "" {
		return
	}
	entry := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	if v := strings.TrimSpace(os.Getenv("API__API_KEY")); v != "" {
		entry.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("API__BASE_URL")); v != "" {
		entry.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("API__MODEL")); v != "" {
		entry.DefaultModel = v
	}
	cfg.LLM.Providers[cfg.LLM.DefaultProvider] = entry
}

func applyLLMProviderField(cfg *LLMProviderConfig, field, value string) {
	switch field {
	case "API_KEY":
		cfg.APIKey = value
	case "BASE_URL":
		cfg.BaseURL = value
	case "DEFAULT_MODEL":
		cfg.DefaultModel = value
	case "MAX_TOKENS":
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.MaxTokens = parsed
		}
	}
}

// ValidationError reports the cumulative set of problems found while
// validating a decoded Config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, "server.http_port must be between 1 and 65535")
	}
	if cfg.Database.Driver != "" && cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		issues = append(issues, "database.driver must be \"sqlite\" or \"postgres\"")
	}
	if cfg.Session.HistoryRounds < 0 {
		issues = append(issues, "session.history_rounds must be >= 0")
	}
	if cfg.Session.ToolHopsMax <= 0 {
		issues = append(issues, "session.tool_hops_max must be > 0")
	}
	if cfg.Session.Memory.Enabled && cfg.Session.Memory.Neo4j.URI == "" {
		issues = append(issues, "session.memory.neo4j.uri is required when memory is enabled")
	}
	if cfg.Tools.Execution.Timeout <= 0 {
		issues = append(issues, "tools.execution.timeout must be > 0")
	}
	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be one of debug, info, warn, error")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
