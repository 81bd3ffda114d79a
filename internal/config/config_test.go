package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default http_port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Session.ToolHopsMax != 6 {
		t.Fatalf("expected default tool_hops_max 6, got %d", cfg.Session.ToolHopsMax)
	}
	if len(cfg.Tools.Execution.Approval.ConfirmRequired) != 1 || cfg.Tools.Execution.Approval.ConfirmRequired[0] != "shell.exec" {
		t.Fatalf("expected default confirm_required [shell.exec], got %v", cfg.Tools.Execution.Approval.ConfirmRequired)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("expected default logging info/json, got %+v", cfg.Logging)
	}
}

func TestLoadValidatesHTTPPort(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 99999
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "server.http_port") {
		t.Fatalf("expected server.http_port error, got %v", err)
	}
}

func TestLoadValidatesDatabaseDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: mongo
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "database.driver") {
		t.Fatalf("expected database.driver error, got %v", err)
	}
}

func TestLoadValidatesMemoryRequiresNeo4jURI(t *testing.T) {
	path := writeConfig(t, `
session:
  memory:
    enabled: true
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "neo4j.uri") {
		t.Fatalf("expected neo4j.uri error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
session:
  history_rounds: 10
  memory:
    enabled: true
    neo4j:
      uri: bolt://localhost:7687
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SERVER__HOST", "127.0.0.1")
	t.Setenv("SERVER__HTTP_PORT", "9999")
	t.Setenv("DATABASE__DSN", "postgres://override@localhost:5432/gateway?sslmode=disable")
	t.Setenv("AUTH__JWT_SECRET", "env-secret")
	t.Setenv("API__API_KEY", "env-api-key")

	path := writeConfig(t, `
server:
  host: 0.0.0.0
  http_port: 8080
database:
  dsn: postgres://default@localhost:5432/gateway?sslmode=disable
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected host override, got %q", cfg.Server.Host)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Fatalf("expected http_port override, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Database.DSN != "postgres://override@localhost:5432/gateway?sslmode=disable" {
		t.Fatalf("expected dsn override, got %q", cfg.Database.DSN)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Fatalf("expected jwt secret override, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "env-api-key" {
		t.Fatalf("expected api key override, got %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestLoadAppliesLLMProviderEnvOverride(t *testing.T) {
	t.Setenv("LLM__PROVIDERS__OPENAI__API_KEY", "sk-test")
	t.Setenv("LLM__PROVIDERS__OPENAI__DEFAULT_MODEL", "gpt-4o")

	path := writeConfig(t, `
llm:
  default_provider: openai
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	provider := cfg.LLM.Providers["openai"]
	if provider.APIKey != "sk-test" {
		t.Fatalf("expected api key sk-test, got %q", provider.APIKey)
	}
	if provider.DefaultModel != "gpt-4o" {
		t.Fatalf("expected default model gpt-4o, got %q", provider.DefaultModel)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
