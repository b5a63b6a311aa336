package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk"
	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

// maxBacklog bounds the frames replayed to a subscriber that joins late.
const maxBacklog = 1000

// subscriberBuffer is the per-subscriber send queue; a full queue drops frames.
const subscriberBuffer = 256

var (
	ErrPermissionNotFound = errors.New("permission request not found")
	ErrInvalidDecision    = errors.New("invalid permission decision")
)

// Session status values
const (
	StatusStarting = "starting"
	StatusActive   = "active"
	StatusEnded    = "ended"
	StatusClosed   = "closed"
)

// Client is one subscriber to a session's event stream, usually a WebSocket.
type Client struct {
	Send chan []byte
}

// PermissionDecision is a subscriber's answer to a forwarded permission request.
type PermissionDecision struct {
	Behavior     sdk.PermissionBehavior `json:"behavior"`
	Message      string                 `json:"message,omitempty"`
	UpdatedInput map[string]any         `json:"updatedInput,omitempty"`
	Interrupt    bool                   `json:"interrupt,omitempty"`

	// AlwaysAllow skips the prompt for this tool for the rest of the session.
	AlwaysAllow bool `json:"alwaysAllow,omitempty"`
}

type pendingPermission struct {
	toolName string
	ch       chan sdk.PermissionResult
}

// Session bridges one Claude CLI process to any number of subscribers.
type Session struct {
	ID             string
	WorkingDir     string
	Title          string
	Model          string
	PermissionMode sdk.PermissionMode
	CreatedAt      time.Time

	client            *sdk.ClaudeSDKClient
	permissionTimeout time.Duration

	mu           sync.RWMutex
	status       string
	lastActivity time.Time
	endErr       error
	clients      map[*Client]bool
	backlog      [][]byte

	permMu        sync.Mutex
	pending       map[string]*pendingPermission
	alwaysAllowed map[string]bool
}

func newSession(id, workingDir, title string, mode sdk.PermissionMode, permissionTimeout time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:                id,
		WorkingDir:        workingDir,
		Title:             title,
		PermissionMode:    mode,
		CreatedAt:         now,
		permissionTimeout: permissionTimeout,
		status:            StatusStarting,
		lastActivity:      now,
		clients:           make(map[*Client]bool),
		pending:           make(map[string]*pendingPermission),
		alwaysAllowed:     make(map[string]bool),
	}
}

// AddClient registers a subscriber and replays the backlog to it.
func (s *Session) AddClient() *Client {
	client := &Client{Send: make(chan []byte, subscriberBuffer)}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, frame := range s.backlog {
		select {
		case client.Send <- frame:
		default:
		}
	}

	// Nothing more will be broadcast once the stream is over.
	if s.status == StatusEnded || s.status == StatusClosed {
		close(client.Send)
		return client
	}
	s.clients[client] = true
	return client
}

// RemoveClient unregisters a subscriber and closes its Send channel.
func (s *Session) RemoveClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.Send)
	}
}

// ClientCount returns the number of connected subscribers.
func (s *Session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast sends a frame to all subscribers and appends it to the backlog.
func (s *Session) Broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(data)
}

// broadcastLocked requires s.mu.
func (s *Session) broadcastLocked(data []byte) {
	s.backlog = append(s.backlog, data)
	if len(s.backlog) > maxBacklog {
		s.backlog = s.backlog[len(s.backlog)-maxBacklog:]
	}

	for client := range s.clients {
		select {
		case client.Send <- data:
		default:
			log.Warn().Str("sessionId", s.ID).Msg("client send buffer full, skipping message")
		}
	}
}

func (s *Session) broadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to marshal frame for broadcast")
		return
	}
	s.Broadcast(data)
}

// Backlog returns a copy of the frames a new subscriber would replay.
func (s *Session) Backlog() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][]byte(nil), s.backlog...)
}

// Status returns the session's lifecycle state.
func (s *Session) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// TouchActivity records activity on the session.
func (s *Session) TouchActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns when the session last saw traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// ToJSON returns a JSON-safe representation of the session
func (s *Session) ToJSON() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[string]any{
		"id":             s.ID,
		"workingDir":     s.WorkingDir,
		"title":          s.Title,
		"model":          s.Model,
		"permissionMode": s.PermissionMode,
		"createdAt":      s.CreatedAt,
		"lastActivity":   s.lastActivity,
		"status":         s.status,
		"clients":        len(s.clients),
	}
	if s.endErr != nil {
		out["error"] = s.endErr.Error()
	}

	s.permMu.Lock()
	out["pendingPermissions"] = len(s.pending)
	s.permMu.Unlock()

	return out
}

// --- Permission forwarding ---

// CanUseTool implements sdk.PermissionHandler by asking subscribers. It
// publishes a permission_request frame and waits for RespondToPermission,
// denying when the permission timeout passes first.
func (s *Session) CanUseTool(ctx context.Context, toolName string, input map[string]any, permCtx sdk.ToolPermissionContext) (sdk.PermissionResult, error) {
	s.permMu.Lock()
	if s.alwaysAllowed[toolName] {
		s.permMu.Unlock()
		log.Debug().Str("sessionId", s.ID).Str("tool", toolName).Msg("tool is always allowed for this session")
		return sdk.PermissionResultAllow{}, nil
	}
	requestID := uuid.NewString()
	p := &pendingPermission{toolName: toolName, ch: make(chan sdk.PermissionResult, 1)}
	s.pending[requestID] = p
	s.permMu.Unlock()

	defer func() {
		s.permMu.Lock()
		delete(s.pending, requestID)
		s.permMu.Unlock()
	}()

	s.broadcastJSON(map[string]any{
		"type":        "permission_request",
		"requestId":   requestID,
		"toolName":    toolName,
		"input":       input,
		"suggestions": permCtx.Suggestions,
		"blockedPath": permCtx.BlockedPath,
		"toolUseId":   permCtx.ToolUseID,
	})

	log.Debug().
		Str("sessionId", s.ID).
		Str("requestId", requestID).
		Str("tool", toolName).
		Msg("forwarded permission request to subscribers")

	timer := time.NewTimer(s.permissionTimeout)
	defer timer.Stop()

	var result sdk.PermissionResult
	select {
	case result = <-p.ch:
	case <-timer.C:
		log.Warn().Str("sessionId", s.ID).Str("requestId", requestID).Msg("permission request timed out, denying")
		result = sdk.PermissionResultDeny{Message: fmt.Sprintf("no permission decision within %s", s.permissionTimeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	behavior := sdk.PermissionAllow
	if _, ok := result.(sdk.PermissionResultDeny); ok {
		behavior = sdk.PermissionDeny
	}
	s.broadcastJSON(map[string]any{
		"type":      "permission_resolved",
		"requestId": requestID,
		"behavior":  behavior,
	})
	s.TouchActivity()

	return result, nil
}

// RespondToPermission delivers a subscriber's decision for a forwarded request.
func (s *Session) RespondToPermission(requestID string, decision PermissionDecision) error {
	var result sdk.PermissionResult
	switch decision.Behavior {
	case sdk.PermissionAllow:
		result = sdk.PermissionResultAllow{UpdatedInput: decision.UpdatedInput}
	case sdk.PermissionDeny:
		msg := decision.Message
		if msg == "" {
			msg = "denied by user"
		}
		result = sdk.PermissionResultDeny{Message: msg, Interrupt: decision.Interrupt}
	default:
		return fmt.Errorf("%w: unknown behavior %q", ErrInvalidDecision, decision.Behavior)
	}

	s.permMu.Lock()
	p, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
		if decision.AlwaysAllow && decision.Behavior == sdk.PermissionAllow {
			s.alwaysAllowed[p.toolName] = true
		}
	}
	s.permMu.Unlock()

	if !ok {
		return ErrPermissionNotFound
	}

	p.ch <- result
	return nil
}

// PendingPermissions returns the ids of permission requests awaiting a decision.
func (s *Session) PendingPermissions() []string {
	s.permMu.Lock()
	defer s.permMu.Unlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

// --- Conversation control ---

func (s *Session) sdkClient() (*sdk.ClaudeSDKClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil || s.status == StatusClosed {
		return nil, sdk.ErrConnectionClosed
	}
	return s.client, nil
}

// SendMessage sends a user message into the conversation.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	client, err := s.sdkClient()
	if err != nil {
		return err
	}
	s.TouchActivity()
	return client.SendMessageWithSession(ctx, content, s.ID, "")
}

// Interrupt stops the current turn. Pending permission requests are denied
// first: they hold the receive loop, which must be free to read the
// interrupt's response.
func (s *Session) Interrupt(ctx context.Context) error {
	client, err := s.sdkClient()
	if err != nil {
		return err
	}
	for _, id := range s.PendingPermissions() {
		s.RespondToPermission(id, PermissionDecision{
			Behavior:  sdk.PermissionDeny,
			Message:   "interrupted by user",
			Interrupt: true,
		})
	}
	return client.Interrupt(ctx)
}

// SetModel switches the model; an empty model restores the default.
func (s *Session) SetModel(ctx context.Context, model string) error {
	client, err := s.sdkClient()
	if err != nil {
		return err
	}
	if err := client.SetModel(ctx, model); err != nil {
		return err
	}
	s.mu.Lock()
	s.Model = model
	s.mu.Unlock()
	return nil
}

// SetPermissionMode changes how the CLI authorizes tools.
func (s *Session) SetPermissionMode(ctx context.Context, mode sdk.PermissionMode) error {
	client, err := s.sdkClient()
	if err != nil {
		return err
	}
	if err := client.SetPermissionMode(ctx, mode); err != nil {
		return err
	}
	s.mu.Lock()
	s.PermissionMode = mode
	s.mu.Unlock()
	return nil
}

// McpStatus reports the CLI's MCP servers.
func (s *Session) McpStatus(ctx context.Context) (map[string]any, error) {
	client, err := s.sdkClient()
	if err != nil {
		return nil, err
	}
	return client.GetMcpStatus(ctx)
}

// ServerInfo returns what the CLI reported during initialize.
func (s *Session) ServerInfo() *sdk.ServerInfo {
	client, err := s.sdkClient()
	if err != nil {
		return nil
	}
	return client.GetServerInfo()
}

// forwardMessages pumps CLI messages to subscribers until the stream ends.
func (s *Session) forwardMessages(client *sdk.ClaudeSDKClient) {
	for msg := range client.Messages() {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to marshal message for broadcast")
			continue
		}
		s.Broadcast(data)
		s.TouchActivity()
	}

	endErr := client.Err()

	frame := map[string]any{"type": "session_ended"}
	if endErr != nil {
		frame["error"] = endErr.Error()
		log.Warn().Err(endErr).Str("sessionId", s.ID).Msg("claude session ended with error")
	} else {
		log.Info().Str("sessionId", s.ID).Msg("claude session ended")
	}
	data, _ := json.Marshal(frame)

	// Status, final frame and disconnect change together so a subscriber
	// joining concurrently either gets session_ended live or from the backlog.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endErr = endErr
	if s.status != StatusClosed {
		s.status = StatusEnded
	}
	s.broadcastLocked(data)
	s.disconnectClientsLocked()
}

// close shuts down the CLI and disconnects every subscriber.
func (s *Session) close() error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusClosed
	client := s.client
	s.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}

	s.mu.Lock()
	s.disconnectClientsLocked()
	s.mu.Unlock()
	return err
}

// disconnectClientsLocked closes every subscriber's Send channel. Requires s.mu.
func (s *Session) disconnectClientsLocked() {
	for c := range s.clients {
		close(c.Send)
	}
	s.clients = make(map[*Client]bool)
}

func (s *Session) signalShutdown() {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client != nil {
		client.SignalShutdown()
	}
}
