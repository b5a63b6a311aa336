package server

import (
	"time"

	"github.com/xiaoyuanzhu-com/claude-agent-go/claude"
	"github.com/xiaoyuanzhu-com/claude-agent-go/config"
)

// Config holds server configuration
type Config struct {
	// Server infrastructure (immutable, requires restart)
	Port int
	Host string
	Env  string // "development" or "production"

	// Session bridge
	PermissionTimeout  time.Duration
	MaxSessions        int
	SessionIdleTimeout time.Duration

	// Replaces the CLI subprocess; nil launches the real claude binary.
	NewTransport claude.TransportFactory
}

// FromAppConfig builds the server config from the environment-driven app config.
func FromAppConfig(cfg *config.Config) *Config {
	return &Config{
		Port:              cfg.Port,
		Host:              cfg.Host,
		Env:               cfg.Env,
		PermissionTimeout: cfg.PermissionTimeout,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// ToManagerOptions converts server config to session manager options
func (c *Config) ToManagerOptions() claude.ManagerOptions {
	return claude.ManagerOptions{
		NewTransport:      c.NewTransport,
		PermissionTimeout: c.PermissionTimeout,
		MaxSessions:       c.MaxSessions,
		IdleTimeout:       c.SessionIdleTimeout,
	}
}
