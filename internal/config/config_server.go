package config

import "time"

// ServerConfig controls the HTTP/SSE listener and its metrics sidecar.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig points at the relational store backing users, sessions,
// and facts.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" secret:"true"`
	Driver          string        `yaml:"driver"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
