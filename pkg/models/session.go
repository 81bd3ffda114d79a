package models

import "time"

// Session is an ordered sequence of turns owned by exactly one user.
// SessionID is globally unique but logically scoped by UserID: every
// operation naming a session must verify ownership before acting on it.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Title     string    `json:"title,omitempty"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is append-only within a committed turn. Drafts produced while a
// turn is streaming are not durable until the turn commits.
type Message struct {
	ID        string         `json:"message_id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	TurnIndex int64          `json:"turn_index"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TurnState is the lifecycle state of an in-flight turn transaction.
type TurnState string

const (
	TurnOpen      TurnState = "open"
	TurnCommitted TurnState = "committed"
	TurnAborted   TurnState = "aborted"
)

// Turn groups the messages produced while answering a single user message.
// At most one open turn may exist per session system-wide.
type Turn struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	TurnIndex        int64     `json:"turn_index"`
	State            TurnState `json:"state"`
	UserMessage      *Message  `json:"user_message,omitempty"`
	AssistantMessage *Message  `json:"assistant_message,omitempty"`
	ToolMessages     []Message `json:"tool_messages,omitempty"`
	OpenedAt         time.Time `json:"opened_at"`
}
