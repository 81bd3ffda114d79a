// Package tools is the Tool Service (spec.md §4.G): a name→tool registry
// that validates untrusted arguments against each tool's JSON Schema,
// enforces allow-list and per-user confirmation policy from the current
// config.Snapshot, bounds every invocation with a timeout, and emits
// tool.call.start/result/error on the event bus.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dndcreator/promethea-gateway/internal/agent"
	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/internal/config"
	"github.com/dndcreator/promethea-gateway/internal/observability"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// registration pairs a Tool with its pre-compiled argument schema, so
// Invoke never recompiles a schema on the hot path.
type registration struct {
	tool   agent.Tool
	schema *jsonschema.Schema
}

// Registry implements internal/turn.ToolInvoker. It is safe for concurrent
// use; Register is expected to run once at startup, Invoke/Definitions/
// RequiresConfirmation run per turn.
type Registry struct {
	cfg    *config.Service
	bus    *bus.Bus
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]*registration
}

// NewRegistry constructs an empty Registry. cfg may be nil, in which case
// every tool runs unconfirmed with the default 30s timeout and nothing is
// denied — used by tests that don't need policy gating.
func NewRegistry(cfg *config.Service, eventBus *bus.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:    cfg,
		bus:    eventBus,
		logger: logger,
		tools:  map[string]*registration{},
	}
}

// Register compiles tool's schema and adds it to the catalogue. It returns
// an error if another tool is already registered under the same name or the
// schema fails to compile.
func (r *Registry) Register(tool agent.Tool) error {
	name := tool.Name()
	compiled, err := jsonschema.CompileString(name, string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = &registration{tool: tool, schema: compiled}
	return nil
}

// Definitions returns the catalogue to advertise to the LLM. Order is
// unspecified; callers that need determinism should sort.
func (r *Registry) Definitions() []agent.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]agent.Tool, 0, len(r.tools))
	for _, reg := range r.tools {
		defs = append(defs, reg.tool)
	}
	return defs
}

// RequiresConfirmation reports whether toolName is on userID's effective
// confirm_required list.
func (r *Registry) RequiresConfirmation(userID, sessionID, toolName string) bool {
	for _, name := range r.toolsConfig(userID).Approval.ConfirmRequired {
		if name == toolName {
			return true
		}
	}
	return false
}

// Invoke resolves toolName, checks it against the deny list, validates args
// against its compiled schema, and runs it under a per-tool timeout. It
// returns the tool's textual result, or an *apperr.Error of Kind NotFound,
// ToolDenied, InvalidArguments, ToolTimeout, or ToolRuntime.
func (r *Registry) Invoke(ctx context.Context, userID, sessionID, toolName string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	reg, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return "", apperr.New(apperr.NotFound, "unknown tool "+toolName)
	}

	r.emit(models.EventToolCallStart, sessionID, map[string]string{"tool_name": toolName})

	toolCfg := r.toolsConfig(userID)
	if denied(toolCfg.Deny, toolName) {
		err := apperr.New(apperr.ToolDenied, "tool "+toolName+" is denied by policy")
		r.emit(models.EventToolCallError, sessionID, map[string]string{"tool_name": toolName, "error": err.Error()})
		return "", err
	}

	var decoded any
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		err = apperr.Wrap(apperr.InvalidArguments, "tool arguments are not valid JSON", err)
		r.emit(models.EventToolCallError, sessionID, map[string]string{"tool_name": toolName, "error": err.Error()})
		return "", err
	}
	if err := reg.schema.Validate(decoded); err != nil {
		err = apperr.Wrap(apperr.InvalidArguments, "tool arguments failed schema validation", err)
		r.emit(models.EventToolCallError, sessionID, map[string]string{"tool_name": toolName, "error": err.Error()})
		return "", err
	}

	timeout := toolTimeout(toolCfg, toolName)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runCtx = observability.AddUserID(runCtx, userID)

	result, err := reg.tool.Execute(runCtx, args)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			err = apperr.Wrap(apperr.ToolTimeout, "tool "+toolName+" timed out", err)
		} else {
			err = apperr.Wrap(apperr.ToolRuntime, "tool "+toolName+" failed", err)
		}
		r.emit(models.EventToolCallError, sessionID, map[string]string{"tool_name": toolName, "error": err.Error()})
		return "", err
	}
	if result.IsError {
		err := apperr.New(apperr.ToolRuntime, result.Content)
		r.emit(models.EventToolCallError, sessionID, map[string]string{"tool_name": toolName, "error": result.Content})
		return "", err
	}

	r.emit(models.EventToolCallResult, sessionID, map[string]string{"tool_name": toolName})
	return result.Content, nil
}

func (r *Registry) toolsConfig(userID string) config.ToolsConfig {
	if r.cfg == nil {
		return config.ToolsConfig{}
	}
	return r.cfg.GetSnapshot(userID).Effective().Tools
}

func toolTimeout(cfg config.ToolsConfig, toolName string) time.Duration {
	if d, ok := cfg.Execution.PerToolTimeout[toolName]; ok && d > 0 {
		return d
	}
	if cfg.Execution.Timeout > 0 {
		return cfg.Execution.Timeout
	}
	return 30 * time.Second
}

func denied(deny []string, toolName string) bool {
	for _, name := range deny {
		if name == toolName {
			return true
		}
	}
	return false
}

func (r *Registry) emit(eventType models.EventType, sessionID string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(eventType, payload, sessionID)
}
