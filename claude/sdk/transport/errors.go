package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrCLINotFound matches any *CLINotFoundError via errors.Is.
	ErrCLINotFound = errors.New("claude CLI not found")
)

// CLIConnectionError is a failure to spawn, pipe to, or talk to the CLI process.
type CLIConnectionError struct {
	Message string
	Cause   error
}

func (e *CLIConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("CLI connection error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("CLI connection error: %s", e.Message)
}

func (e *CLIConnectionError) Unwrap() error {
	return e.Cause
}

// CLINotFoundError reports that no executable could be resolved.
type CLINotFoundError struct {
	// Path is the explicit override that was tried, empty when discovery was used.
	Path     string
	Searched []string
}

func (e *CLINotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("claude CLI not found at %s", e.Path)
	}
	return "claude CLI not found: install it with `npm install -g @anthropic-ai/claude-code` " +
		"or set CLAUDE_CLI_PATH"
}

func (e *CLINotFoundError) Is(target error) bool {
	return target == ErrCLINotFound
}

// ProcessError is reported when the CLI exits on its own with a failure status.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("claude CLI exited with code %d", e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// BufferOverflowError is the framer's terminal error when a single message
// grows past the configured ceiling.
type BufferOverflowError struct {
	Limit int
	Size  int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("JSON message exceeded maximum buffer size of %d bytes (got %d)", e.Limit, e.Size)
}
