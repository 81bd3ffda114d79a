package providers

import "testing"

func TestNewOpenRouterProvider_RequiresAPIKey(t *testing.T) {
	if _, err := NewOpenRouterProvider(OpenRouterConfig{}); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewOpenRouterProvider_Defaults(t *testing.T) {
	p, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenRouterProvider() error = %v", err)
	}
	if p.defaultModel != "openai/gpt-4o" {
		t.Errorf("defaultModel = %q, want default", p.defaultModel)
	}
	if p.Name() != "openrouter" {
		t.Errorf("Name() = %q, want %q", p.Name(), "openrouter")
	}
	if len(p.Models()) == 0 {
		t.Error("Models() returned no models")
	}
}
