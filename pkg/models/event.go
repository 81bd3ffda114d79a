package models

import "time"

// EventType is the closed set of events the event bus carries.
type EventType string

const (
	EventChannelMessage EventType = "channel.message"

	EventConversationStart            EventType = "conversation.start"
	EventConversationStreamText        EventType = "conversation.stream.text"
	EventConversationStreamToolDetect  EventType = "conversation.stream.tool_detected"
	EventConversationStreamToolStart   EventType = "conversation.stream.tool_start"
	EventConversationStreamToolResult  EventType = "conversation.stream.tool_result"
	EventConversationStreamToolError   EventType = "conversation.stream.tool_error"
	EventConversationComplete         EventType = "conversation.complete"
	EventConversationError            EventType = "conversation.error"

	EventToolCallStart  EventType = "tool.call.start"
	EventToolCallResult EventType = "tool.call.result"
	EventToolCallError  EventType = "tool.call.error"

	EventMemorySaved        EventType = "memory.saved"
	EventMemoryRecalled     EventType = "memory.recalled"
	EventMemoryClusterDone  EventType = "memory.cluster.done"
	EventMemorySummaryDone  EventType = "memory.summary.done"

	EventConfigChanged EventType = "config.changed"

	EventConnectionBound  EventType = "connection.bound"
	EventConnectionClosed EventType = "connection.closed"
)

// Event is the envelope carried across the bus for every EventType above.
type Event struct {
	Type          EventType `json:"type"`
	Payload       any       `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}
