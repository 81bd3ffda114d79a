package models

// ChannelType identifies the transport adapter a message arrived through.
// The gateway core treats every value other than ChannelAPI as a thin,
// out-of-core adapter referenced only by the connection registry.
type ChannelType string

const (
	ChannelAPI ChannelType = "api"
)
