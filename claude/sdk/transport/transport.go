// Package transport provides the low-level communication layer for the Claude SDK.
package transport

import (
	"context"
)

// Transport is the interface for communication with Claude CLI.
// Implementations handle the actual I/O (subprocess, mock, etc.)
type Transport interface {
	// Connect establishes the connection to Claude CLI. Calling it again
	// on a connected transport is a no-op.
	Connect(ctx context.Context) error

	// Write sends one newline-terminated frame to Claude CLI's stdin
	Write(data string) error

	// ReadMessages yields framed JSON values from stdout in arrival order.
	// The channel is closed when the stream ends; Err then reports why.
	ReadMessages() <-chan []byte

	// Err returns the terminal stream error: nil for a clean end of input,
	// otherwise a *BufferOverflowError, *ProcessError or *CLIConnectionError.
	// Only meaningful after ReadMessages is closed.
	Err() error

	// EndInput closes the stdin stream (signals EOF to Claude)
	EndInput() error

	// Close terminates the connection and cleans up resources
	Close() error

	// IsConnected returns whether the transport is currently connected
	IsConnected() bool

	// SignalShutdown marks the transport as shutting down so that the
	// resulting process exit is logged at debug level and not reported as an error.
	SignalShutdown()
}
