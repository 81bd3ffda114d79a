// Package models defines the core data types shared across the gateway.
package models

import "time"

// User is a registered account. Username is unique; ID is immutable once
// assigned and is never reused.
type User struct {
	ID                  string         `json:"id"`
	Username            string         `json:"username"`
	PasswordHash        string         `json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	AgentName           string         `json:"agent_name"`
	SystemPrompt        string         `json:"system_prompt,omitempty"`
	PerUserAPIOverrides map[string]any `json:"per_user_api_overrides,omitempty"`

	// Email/Name are retained for compatibility with auth providers that
	// identify principals by email rather than username (API keys, OAuth).
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// AuthToken is an opaque bearer token resolving to a user. Cryptographic
// generation is an implementation detail of the auth package; the rest of
// the gateway only ever sees the (token -> user_id) resolution.
type AuthToken struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token has passed its expiry, if any.
func (t AuthToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
