package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/agent"
	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/config"
)

// echoTool echoes its "text" argument back, uppercased if "shout" is true.
type echoTool struct {
	name     string
	fail     bool
	sleepFor time.Duration
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes text back" }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
}

func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.sleepFor > 0 {
		select {
		case <-time.After(t.sleepFor):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.fail {
		return &agent.ToolResult{Content: "boom", IsError: true}, nil
	}
	var input struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: "echo:" + input.Text}, nil
}

func newTestRegistry(t *testing.T, cfg *config.Config) *Registry {
	t.Helper()
	var svc *config.Service
	if cfg != nil {
		svc = config.NewService(cfg, nil)
	}
	return NewRegistry(svc, nil, nil)
}

func TestRegistryInvokeSuccess(t *testing.T) {
	r := newTestRegistry(t, nil)
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := r.Invoke(context.Background(), "u1", "s1", "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result != "echo:hi" {
		t.Fatalf("got %q", result)
	}
}

func TestRegistryInvokeUnknownToolIsNotFound(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.Invoke(context.Background(), "u1", "s1", "missing", json.RawMessage(`{}`))
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRegistryInvokeRejectsInvalidArguments(t *testing.T) {
	r := newTestRegistry(t, nil)
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := r.Invoke(context.Background(), "u1", "s1", "echo", json.RawMessage(`{}`))
	if !apperr.Is(err, apperr.InvalidArguments) {
		t.Fatalf("expected InvalidArguments, got %v", err)
	}
}

func TestRegistryInvokeDeniedTool(t *testing.T) {
	cfg := &config.Config{Tools: config.ToolsConfig{Execution: config.ToolExecutionConfig{
		Timeout: time.Second,
		Deny:    []string{"echo"},
	}}}
	r := newTestRegistry(t, cfg)
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := r.Invoke(context.Background(), "u1", "s1", "echo", json.RawMessage(`{"text":"hi"}`))
	if !apperr.Is(err, apperr.ToolDenied) {
		t.Fatalf("expected ToolDenied, got %v", err)
	}
}

func TestRegistryInvokeToolErrorResultIsToolRuntime(t *testing.T) {
	r := newTestRegistry(t, nil)
	if err := r.Register(&echoTool{name: "echo", fail: true}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := r.Invoke(context.Background(), "u1", "s1", "echo", json.RawMessage(`{"text":"hi"}`))
	if !apperr.Is(err, apperr.ToolRuntime) {
		t.Fatalf("expected ToolRuntime, got %v", err)
	}
}

func TestRegistryInvokeTimesOut(t *testing.T) {
	cfg := &config.Config{Tools: config.ToolsConfig{Execution: config.ToolExecutionConfig{
		Timeout: 10 * time.Millisecond,
	}}}
	r := newTestRegistry(t, cfg)
	if err := r.Register(&echoTool{name: "echo", sleepFor: 100 * time.Millisecond}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := r.Invoke(context.Background(), "u1", "s1", "echo", json.RawMessage(`{"text":"hi"}`))
	if !apperr.Is(err, apperr.ToolTimeout) {
		t.Fatalf("expected ToolTimeout, got %v", err)
	}
}

func TestRegistryRequiresConfirmationReflectsPolicy(t *testing.T) {
	cfg := &config.Config{Tools: config.ToolsConfig{Execution: config.ToolExecutionConfig{
		Approval: config.ApprovalConfig{ConfirmRequired: []string{"shell.exec"}},
	}}}
	r := newTestRegistry(t, cfg)

	if !r.RequiresConfirmation("u1", "s1", "shell.exec") {
		t.Fatal("expected shell.exec to require confirmation")
	}
	if r.RequiresConfirmation("u1", "s1", "echo") {
		t.Fatal("expected echo not to require confirmation")
	}
}

func TestRegistryDefinitionsReturnsRegisteredTools(t *testing.T) {
	r := newTestRegistry(t, nil)
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&echoTool{name: "echo2"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
}

func TestRegistryRegisterRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry(t, nil)
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&echoTool{name: "echo"}); err == nil {
		t.Fatal("expected error registering duplicate tool name")
	}
}
