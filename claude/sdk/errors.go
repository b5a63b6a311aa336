package sdk

import (
	"errors"
	"fmt"

	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk/transport"
)

var (
	// ErrNotConnected is returned when operations are attempted before connecting
	ErrNotConnected = transport.ErrNotConnected

	// ErrConnectionClosed is returned once the connection has been closed
	ErrConnectionClosed = transport.ErrConnectionClosed

	// ErrCLINotFound matches any *CLINotFoundError
	ErrCLINotFound = transport.ErrCLINotFound

	// ErrAlreadyConnected is returned when a client's Connect is called twice
	ErrAlreadyConnected = errors.New("already connected")

	// ErrStreamingModeRequired is returned when an operation requires streaming mode
	ErrStreamingModeRequired = errors.New("this operation requires streaming mode")

	// ErrTimeout is the cause of a control request that got no answer in time
	ErrTimeout = errors.New("operation timed out")

	// ErrChannelClosed is the cause of a control request abandoned because the
	// connection ended before its response arrived
	ErrChannelClosed = errors.New("control channel closed")

	// ErrControlFailed is the cause of a control request the CLI answered with an error
	ErrControlFailed = errors.New("control request failed")

	// ErrControlProtocol marks malformed control traffic
	ErrControlProtocol = errors.New("control protocol violation")
)

// Transport-level error types, re-exported so callers need only this package.
type (
	CLIConnectionError  = transport.CLIConnectionError
	CLINotFoundError    = transport.CLINotFoundError
	ProcessError        = transport.ProcessError
	BufferOverflowError = transport.BufferOverflowError
)

// MessageParseError represents an error parsing a message
type MessageParseError struct {
	Message string
	Data    []byte
	Cause   error
}

func (e *MessageParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("message parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("message parse error: %s", e.Message)
}

func (e *MessageParseError) Unwrap() error {
	return e.Cause
}

// ControlRequestError represents a failed outbound control request.
// Cause is ErrTimeout, ErrControlFailed, ErrChannelClosed, or a transport error.
type ControlRequestError struct {
	RequestID string
	Subtype   string
	Message   string
	Cause     error
}

func (e *ControlRequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("control request error [%s/%s]: %s: %v", e.RequestID, e.Subtype, e.Message, e.Cause)
	}
	return fmt.Sprintf("control request error [%s/%s]: %s", e.RequestID, e.Subtype, e.Message)
}

func (e *ControlRequestError) Unwrap() error {
	return e.Cause
}

// HookCallbackError represents an error in hook callback execution
type HookCallbackError struct {
	HookEvent  string
	CallbackID string
	Message    string
	Cause      error
}

func (e *HookCallbackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("hook callback error [%s/%s]: %s: %v", e.HookEvent, e.CallbackID, e.Message, e.Cause)
	}
	return fmt.Sprintf("hook callback error [%s/%s]: %s", e.HookEvent, e.CallbackID, e.Message)
}

func (e *HookCallbackError) Unwrap() error {
	return e.Cause
}
