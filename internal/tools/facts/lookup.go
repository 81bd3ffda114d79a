package facts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dndcreator/promethea-gateway/internal/agent"
	"github.com/dndcreator/promethea-gateway/internal/observability"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// Searcher is the subset of the Memory Service's backing store that
// LookupTool consumes: a user-scoped semantic search over previously
// captured facts. *memory.SQLiteGraphStore and *memory.Service both widen
// to satisfy it via their Search method.
type Searcher interface {
	Search(ctx context.Context, userID, query string, k int) ([]*models.Snippet, error)
}

// LookupTool lets the model explicitly query what it already knows about
// the current user, independent of the heuristic auto-recall path in
// internal/memory.Service.Recall. The caller's user id never comes from
// tool arguments: it is read back out of ctx, where Registry.Invoke places
// it before Execute runs, so a prompt can never forge a lookup against
// another user's facts.
type LookupTool struct {
	store   Searcher
	maxHits int
}

// NewLookupTool creates a fact lookup tool backed by store. maxHits bounds
// how many snippets a single call may return; non-positive defaults to 5.
func NewLookupTool(store Searcher, maxHits int) *LookupTool {
	if maxHits <= 0 {
		maxHits = 5
	}
	return &LookupTool{store: store, maxHits: maxHits}
}

// Name returns the tool name.
func (t *LookupTool) Name() string {
	return "facts_lookup"
}

// Description describes the tool.
func (t *LookupTool) Description() string {
	return "Searches previously remembered facts about the current user by meaning, not exact text."
}

// Schema defines the tool parameters.
func (t *LookupTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "What to recall, in natural language"},
    "max_results": {"type": "integer", "description": "Maximum number of facts to return"}
  },
  "required": ["query"]
}`)
}

// Execute runs the lookup. It fails closed if the invoking context carries
// no user id, rather than falling back to an unscoped search.
func (t *LookupTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, _ := ctx.Value(observability.UserIDKey).(string)
	if userID == "" {
		return &agent.ToolResult{Content: "no user id on this request; cannot look up facts", IsError: true}, nil
	}

	var input struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	if input.Query == "" {
		return &agent.ToolResult{Content: "query is required", IsError: true}, nil
	}

	limit := t.maxHits
	if input.MaxResults > 0 && input.MaxResults < limit {
		limit = input.MaxResults
	}

	snippets, err := t.store.Search(ctx, userID, input.Query, limit)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("lookup failed: %v", err), IsError: true}, nil
	}
	if len(snippets) == 0 {
		return &agent.ToolResult{Content: "no matching facts found"}, nil
	}

	payload, err := json.MarshalIndent(struct {
		Facts []*models.Snippet `json:"facts"`
	}{Facts: snippets}, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to encode results: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}
