// Package models defines the core data types for the gateway.
package models

import "time"

// MemoryCandidate is produced on turn commit and consumed asynchronously by
// the memory service's ingest pass. It is never surfaced to other users.
type MemoryCandidate struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Timestamp     time.Time `json:"timestamp"`
}

// Fact is a single unit stored by the graph memory backend, scoped to a
// user. Source/Tags help the store cluster and decay facts without the
// gateway ever inspecting the store's internal shape.
type Fact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Tags      []string  `json:"tags,omitempty"`
	ClusterID string    `json:"cluster_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Snippet is one hit returned by a graph store search, already scoped to
// the querying user.
type Snippet struct {
	FactID string  `json:"fact_id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Layer  string  `json:"layer"` // summary, concept, direct, related, recent
}

// MemoryEntry is a single item stored in the embedding-backed memory index
// that backs the graph store's concrete adapter. UserID is the mandatory
// top-level isolation filter (spec's fail-closed invariant); Scope/ScopeID
// are a secondary refinement within that user's data.
type MemoryEntry struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`

	Content  string         `json:"content"`
	Metadata MemoryMetadata `json:"metadata"`

	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryMetadata carries provenance and classification for a MemoryEntry.
type MemoryMetadata struct {
	Source string         `json:"source"`
	Role   string         `json:"role"`
	Tags   []string       `json:"tags"`
	Extra  map[string]any `json:"extra"`
}

// MemoryScope names a secondary partition within a user's memory, applied
// on top of the mandatory UserID filter.
type MemoryScope string

const (
	ScopeSession MemoryScope = "session"
	ScopeChannel MemoryScope = "channel"
	ScopeAgent   MemoryScope = "agent"
	ScopeGlobal  MemoryScope = "global"
	// ScopeAll matches every scope within the user's data. It was referenced
	// by the hierarchical search path without ever being defined; defining
	// it here is a straight bugfix carried forward, not new behavior.
	ScopeAll MemoryScope = "all"
)

// SearchRequest is the public request shape for a single-scope memory
// search. UserID is required; backends reject empty UserID.
type SearchRequest struct {
	UserID    string         `json:"user_id"`
	Query     string         `json:"query"`
	Scope     MemoryScope    `json:"scope"`
	ScopeID   string         `json:"scope_id"`
	Limit     int            `json:"limit"`
	Threshold float32        `json:"threshold"`
	Filters   map[string]any `json:"filters"`
}

// SearchResult pairs a MemoryEntry with its relevance score.
type SearchResult struct {
	Entry      *MemoryEntry `json:"entry"`
	Score      float32      `json:"score"`
	Highlights []string     `json:"highlights,omitempty"`
}

// SearchResponse is the result of a memory search.
type SearchResponse struct {
	Results    []*SearchResult `json:"results"`
	TotalCount int             `json:"total_count"`
	QueryTime  time.Duration   `json:"query_time"`
}
