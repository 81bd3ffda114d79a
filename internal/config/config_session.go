package config

import "time"

// SessionConfig controls per-session behavior: prompt assembly window,
// streaming, and in-memory tool-result pruning.
type SessionConfig struct {
	// HistoryRounds bounds how many user+assistant pairs are packed into
	// the prompt tail. Default: 20.
	HistoryRounds int `yaml:"history_rounds"`

	// ToolHopsMax bounds how many tool-call/result round trips a single
	// turn may take before it is aborted with tool_loop_limit. Default: 6.
	ToolHopsMax int `yaml:"tool_hops_max"`

	// Streaming toggles SSE token streaming; false accumulates the full
	// answer and sends one response frame.
	Streaming bool `yaml:"streaming"`

	Memory         MemoryConfig         `yaml:"memory"`
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
}

// MemoryConfig gates recall/ingestion against the graph memory store.
type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// RecallMinQueryChars is the minimum query length before recall
	// gating considers running a lookup.
	RecallMinQueryChars int `yaml:"recall_min_query_chars"`

	Neo4j Neo4jConfig `yaml:"neo4j"`
}

// Neo4jConfig configures the optional graph-store backend. Credentials are
// environment-only.
type Neo4jConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URI      string `yaml:"uri" secret:"true"`
	Username string `yaml:"username" secret:"true"`
	Password string `yaml:"password" secret:"true"`
	Database string `yaml:"database"`
}

// ContextPruningConfig controls in-memory tool result pruning for sessions.
type ContextPruningConfig struct {
	Mode                 string                  `yaml:"mode"`
	TTL                  *time.Duration          `yaml:"ttl"`
	KeepLastAssistants   *int                    `yaml:"keep_last_assistants"`
	SoftTrimRatio        *float64                `yaml:"soft_trim_ratio"`
	HardClearRatio       *float64                `yaml:"hard_clear_ratio"`
	MinPrunableToolChars *int                    `yaml:"min_prunable_tool_chars"`
	Tools                ContextPruningToolMatch `yaml:"tools"`
	SoftTrim             ContextPruningSoftTrim  `yaml:"soft_trim"`
	HardClear            ContextPruningHardClear `yaml:"hard_clear"`
}

// ContextPruningToolMatch selects which tool results can be trimmed.
type ContextPruningToolMatch struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ContextPruningSoftTrim configures soft trimming of tool result content.
type ContextPruningSoftTrim struct {
	MaxChars  *int `yaml:"max_chars"`
	HeadChars *int `yaml:"head_chars"`
	TailChars *int `yaml:"tail_chars"`
}

// ContextPruningHardClear configures hard clearing of tool result content.
type ContextPruningHardClear struct {
	Enabled     *bool  `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}
