package config

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	LogLevel string

	// Claude CLI
	ClaudeCLIPath    string
	ClaudeWorkingDir string

	// Control protocol tunables
	MaxBufferSize     int
	ControlTimeout    time.Duration
	InitializeTimeout time.Duration

	// How long a bridged session waits for a subscriber to answer a permission request
	PermissionTimeout time.Duration
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	return &Config{
		Port: getEnvInt("PORT", 12346),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		ClaudeCLIPath:    getEnv("CLAUDE_CLI_PATH", ""),
		ClaudeWorkingDir: getEnv("CLAUDE_WORKING_DIR", ""),

		MaxBufferSize:     getEnvInt("CLAUDE_SDK_MAX_BUFFER_SIZE", 1024*1024),
		ControlTimeout:    getEnvDuration("CLAUDE_SDK_CONTROL_TIMEOUT", 60*time.Second),
		InitializeTimeout: getEnvDuration("CLAUDE_SDK_INITIALIZE_TIMEOUT", 60*time.Second),

		PermissionTimeout: getEnvDuration("CLAUDE_PERMISSION_TIMEOUT", 5*time.Minute),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
