package config

import "time"

// AuthConfig controls bearer-token issuance and static API keys. Secrets
// here (JWTSecret, APIKeyConfig.Key) are environment-only: a user or system
// config patch naming these fields is rejected by the config service.
type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret" secret:"true"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key" secret:"true"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}
