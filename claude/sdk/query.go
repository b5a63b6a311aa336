package sdk

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk/transport"
	"github.com/xiaoyuanzhu-com/claude-agent-go/config"
	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

// closeWaitTimeout bounds how long Close waits for the receive loop, which
// may be stuck inside a callback that ignores its context.
const closeWaitTimeout = 2 * time.Second

// Query handles the bidirectional control protocol on top of Transport.
// It correlates outbound control requests with their responses, answers
// inbound ones through the registered callbacks, and delivers data messages
// in the order the CLI wrote them.
type Query struct {
	transport         transport.Transport
	isStreamingMode   bool
	hooks             map[HookEvent][]HookMatcher
	initializeTimeout time.Duration
	controlTimeout    time.Duration
	autoFlush         bool

	pending  *pendingTable
	registry *callbackRegistry
	outgoing responseQueue
	flushMu  sync.Mutex

	messages   chan Message
	finishOnce sync.Once

	requestCounter atomic.Int64

	// Initialize is serialised so a second caller sees the cached result
	initMu sync.Mutex
	// Wire form of the hooks, built once so a retried initialize reuses the ids.
	// Guarded by initMu.
	hooksConfig map[HookEvent][]HookMatcherConfig
	hooksBuilt  bool

	mu         sync.RWMutex
	started    bool
	closed     bool
	serverInfo *ServerInfo
	err        error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// QueryOptions configures the Query
type QueryOptions struct {
	Transport       transport.Transport
	IsStreamingMode bool

	// PermissionHandler wins over CanUseTool when both are set
	CanUseTool        CanUseToolFunc
	PermissionHandler PermissionHandler

	Hooks map[HookEvent][]HookMatcher

	// Zero values fall back to the configured defaults
	InitializeTimeout time.Duration
	ControlTimeout    time.Duration

	// AutoFlush writes each control response as soon as it is queued.
	// Without it the caller must call Flush.
	AutoFlush bool
}

// NewQuery creates a new Query with the given options
func NewQuery(opts QueryOptions) *Query {
	cfg := config.Get()
	if opts.InitializeTimeout <= 0 {
		opts.InitializeTimeout = cfg.InitializeTimeout
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = cfg.ControlTimeout
	}

	permission := opts.PermissionHandler
	if permission == nil && opts.CanUseTool != nil {
		permission = opts.CanUseTool
	}

	return &Query{
		transport:         opts.Transport,
		isStreamingMode:   opts.IsStreamingMode,
		hooks:             opts.Hooks,
		initializeTimeout: opts.InitializeTimeout,
		controlTimeout:    opts.ControlTimeout,
		autoFlush:         opts.AutoFlush,
		pending:           newPendingTable(),
		registry:          newCallbackRegistry(permission),
		messages:          make(chan Message, 100),
	}
}

// Start connects the transport if needed and begins reading messages.
// Calling it again is a no-op.
func (q *Query) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrConnectionClosed
	}
	if q.started {
		return nil
	}

	if err := q.transport.Connect(ctx); err != nil {
		return err
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true

	q.wg.Add(1)
	go q.readMessages()

	return nil
}

// Initialize performs the control protocol initialization handshake.
// In one-shot mode there is no handshake and it returns (nil, nil).
func (q *Query) Initialize(ctx context.Context) (*ServerInfo, error) {
	q.initMu.Lock()
	defer q.initMu.Unlock()

	q.mu.RLock()
	closed, started, info := q.closed, q.started, q.serverInfo
	q.mu.RUnlock()

	switch {
	case closed:
		return nil, ErrConnectionClosed
	case !q.isStreamingMode:
		return nil, nil
	case !started:
		return nil, ErrNotConnected
	case info != nil:
		return info, nil
	}

	if !q.hooksBuilt {
		q.hooksConfig = q.buildHooksConfig()
		q.hooksBuilt = true
	}
	request := InitializeRequest{Hooks: q.hooksConfig}

	log.Debug().Int("hookEvents", len(request.Hooks)).Msg("sending initialize control request")

	payload, err := q.sendControlRequest(ctx, request, q.initializeTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	info = &ServerInfo{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, info); err != nil {
			return nil, fmt.Errorf("%w: invalid initialize response: %v", ErrControlProtocol, err)
		}
		if err := json.Unmarshal(payload, &info.Raw); err != nil {
			return nil, fmt.Errorf("%w: invalid initialize response: %v", ErrControlProtocol, err)
		}
	}

	q.mu.Lock()
	q.serverInfo = info
	q.mu.Unlock()

	log.Debug().
		Int("commands", len(info.Commands)).
		Str("outputStyle", info.OutputStyle).
		Msg("Claude SDK initialized")

	return info, nil
}

// buildHooksConfig registers every hook callback and returns the wire form
// that references them by id. Events are visited in sorted order so ids are
// stable for a given configuration.
func (q *Query) buildHooksConfig() map[HookEvent][]HookMatcherConfig {
	var wire map[HookEvent][]HookMatcherConfig
	for _, event := range slices.Sorted(maps.Keys(q.hooks)) {
		for _, matcher := range q.hooks[event] {
			ids := make([]string, 0, len(matcher.Hooks))
			for _, callback := range matcher.Hooks {
				if callback == nil {
					continue
				}
				ids = append(ids, q.registry.registerHook(callback))
			}
			if wire == nil {
				wire = make(map[HookEvent][]HookMatcherConfig)
			}
			wire[event] = append(wire[event], HookMatcherConfig{
				Matcher:         matcher.Matcher,
				HookCallbackIDs: ids,
				Timeout:         matcher.Timeout,
			})
		}
	}
	return wire
}

// readMessages reads from transport and routes messages appropriately
func (q *Query) readMessages() {
	defer q.wg.Done()

	var loopErr error
	defer func() { q.finish(loopErr) }()

	in := q.transport.ReadMessages()
	for {
		select {
		case <-q.ctx.Done():
			return

		case data, ok := <-in:
			if !ok {
				loopErr = q.transport.Err()
				return
			}
			if err := q.route(data); err != nil {
				log.Error().Err(err).Msg("stopping message stream")
				loopErr = err
				return
			}
		}
	}
}

// finish ends the message sequence exactly once and abandons every
// outstanding control request.
func (q *Query) finish(err error) {
	q.finishOnce.Do(func() {
		q.mu.Lock()
		q.err = err
		q.mu.Unlock()

		q.pending.closeAll()
		close(q.messages)
	})
}

// route classifies one line from the CLI. A returned error ends the stream.
func (q *Query) route(data []byte) error {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return &MessageParseError{Message: "failed to parse message type", Data: data, Cause: err}
	}

	switch head.Type {
	case MessageTypeControlResponse:
		q.handleControlResponse(data)
		return nil

	case MessageTypeControlRequest:
		q.handleControlRequest(data)
		return nil

	case MessageTypeControlCancelRequest:
		// Inbound requests are answered inline, so there is never one to cancel.
		log.Debug().Str("raw", string(data)).Msg("ignoring control_cancel_request")
		return nil
	}

	msg, err := ParseMessage(data)
	if err != nil {
		return err
	}

	select {
	case q.messages <- msg:
	case <-q.ctx.Done():
	}
	return nil
}

// handleControlResponse routes control responses to waiting callers
func (q *Query) handleControlResponse(data []byte) {
	resp, err := DecodeControlResponse(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed control response")
		return
	}

	res := controlResult{payload: resp.Payload, errMsg: resp.Error, isError: resp.IsError}
	if !q.pending.resolve(resp.RequestID, res) {
		log.Debug().Str("requestId", resp.RequestID).Msg("received response for unknown request")
	}
}

// handleControlRequest answers a request from the CLI. The answer is queued
// and, with AutoFlush, written immediately.
func (q *Query) handleControlRequest(data []byte) {
	req, err := DecodeControlRequest(data)
	if err != nil {
		log.Warn().Err(err).Str("requestId", req.RequestID).Msg("malformed control request")
		if req.RequestID != "" {
			q.enqueueResponse(ControlResponse{RequestID: req.RequestID, IsError: true, Error: err.Error()})
		}
		return
	}

	subtype := req.Body.Subtype()
	log.Debug().
		Str("requestId", req.RequestID).
		Str("subtype", string(subtype)).
		Msg("handling control request")

	resp := ControlResponse{RequestID: req.RequestID}
	payload, err := q.dispatch(req.Body)
	if err != nil {
		log.Debug().Err(err).Str("requestId", req.RequestID).Str("subtype", string(subtype)).Msg("control request failed")
		resp.IsError = true
		resp.Error = err.Error()
	} else {
		resp.Payload = payload
	}
	q.enqueueResponse(resp)
}

// dispatch runs the handler for body. Panics in caller code become errors.
func (q *Query) dispatch(body ControlRequestBody) (payload json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("subtype", string(body.Subtype())).Msg("control request handler panicked")
			payload, err = nil, fmt.Errorf("%s handler panicked: %v", body.Subtype(), r)
		}
	}()

	var result any
	switch b := body.(type) {
	case CanUseToolRequest:
		result, err = q.handleCanUseTool(b)
	case HookCallbackRequest:
		result, err = q.handleHookCallback(b)
	case McpMessageRequest:
		result = mcpServerNotFound(b)
	default:
		err = fmt.Errorf("unsupported control request: %s", body.Subtype())
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// handleCanUseTool handles tool permission requests via the permission handler
func (q *Query) handleCanUseTool(req CanUseToolRequest) (map[string]any, error) {
	handler := q.registry.permissionHandler()
	if handler == nil {
		return nil, errors.New("canUseTool callback is not provided")
	}

	permCtx := ToolPermissionContext{
		Suggestions: req.PermissionSuggestions,
		BlockedPath: req.BlockedPath,
		ToolUseID:   req.ToolUseID,
		AgentID:     req.AgentID,
	}

	result, err := handler.CanUseTool(q.ctx, req.ToolName, req.Input, permCtx)
	if err != nil {
		return nil, err
	}
	return permissionResultToResponse(result, req.Input)
}

// permissionResultToResponse converts a PermissionResult into the response
// body expected by the CLI.
func permissionResultToResponse(result PermissionResult, input map[string]any) (map[string]any, error) {
	switch r := result.(type) {
	case *PermissionResultAllow:
		if r == nil {
			break
		}
		return permissionResultToResponse(*r, input)

	case *PermissionResultDeny:
		if r == nil {
			break
		}
		return permissionResultToResponse(*r, input)

	case PermissionResultAllow:
		resp := map[string]any{
			"behavior":     string(PermissionAllow),
			"updatedInput": input,
		}
		if r.UpdatedInput != nil {
			resp["updatedInput"] = r.UpdatedInput
		}
		if len(r.UpdatedPermissions) > 0 {
			resp["updatedPermissions"] = r.UpdatedPermissions
		}
		return resp, nil

	case PermissionResultDeny:
		resp := map[string]any{
			"behavior": string(PermissionDeny),
			"message":  r.Message,
		}
		if r.Interrupt {
			resp["interrupt"] = true
		}
		return resp, nil
	}
	return nil, fmt.Errorf("unknown permission result type %T", result)
}

// handleHookCallback handles hook callback requests
func (q *Query) handleHookCallback(req HookCallbackRequest) (HookOutput, error) {
	handler, ok := q.registry.hook(req.CallbackID)
	if !ok {
		return HookOutput{}, fmt.Errorf("no hook callback found for ID: %s", req.CallbackID)
	}

	input, err := parseHookInput(req.Input)
	if err != nil {
		return HookOutput{}, &HookCallbackError{CallbackID: req.CallbackID, Message: "invalid input", Cause: err}
	}

	output, err := handler.HandleHook(q.ctx, input, req.ToolUseID)
	if err != nil {
		return HookOutput{}, &HookCallbackError{
			HookEvent:  input.GetHookEventName(),
			CallbackID: req.CallbackID,
			Message:    "callback failed",
			Cause:      err,
		}
	}
	return output, nil
}

// mcpServerNotFound is the JSON-RPC answer for every mcp_message: no
// in-process MCP servers are hosted here.
func mcpServerNotFound(req McpMessageRequest) map[string]any {
	var msg struct {
		ID any `json:"id"`
	}
	_ = json.Unmarshal(req.Message, &msg)

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      msg.ID,
		"error": map[string]any{
			"code":    -32601,
			"message": fmt.Sprintf("Server '%s' not found", req.ServerName),
		},
	}
}

func (q *Query) enqueueResponse(resp ControlResponse) {
	line, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("requestId", resp.RequestID).Msg("failed to marshal control response")
		return
	}
	q.outgoing.push(string(line) + "\n")

	if q.autoFlush {
		if err := q.Flush(); err != nil {
			log.Warn().Err(err).Str("requestId", resp.RequestID).Msg("failed to send control response")
		}
	}
}

// Flush writes every queued control response to the CLI in the order they
// were produced. On a write error the unsent responses stay queued.
func (q *Query) Flush() error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	lines := q.outgoing.drain()
	for i, line := range lines {
		if err := q.transport.Write(line); err != nil {
			q.outgoing.requeue(lines[i:])
			return err
		}
	}
	return nil
}

// QueuedResponses reports how many control responses are waiting for Flush.
func (q *Query) QueuedResponses() int {
	return q.outgoing.len()
}

// sendControlRequest sends a control request and waits for its response.
func (q *Query) sendControlRequest(ctx context.Context, body ControlRequestBody, timeout time.Duration) (json.RawMessage, error) {
	q.mu.RLock()
	closed, started := q.closed, q.started
	q.mu.RUnlock()

	switch {
	case closed:
		return nil, ErrConnectionClosed
	case !started:
		return nil, ErrNotConnected
	case !q.isStreamingMode:
		return nil, ErrStreamingModeRequired
	}

	requestID := q.generateRequestID()
	subtype := string(body.Subtype())

	ch, err := q.pending.register(requestID)
	if err != nil {
		return nil, err
	}

	line, err := json.Marshal(ControlRequest{RequestID: requestID, Body: body})
	if err != nil {
		q.pending.remove(requestID)
		return nil, fmt.Errorf("failed to marshal control request: %w", err)
	}

	log.Debug().Str("requestId", requestID).Str("subtype", subtype).Msg("sending control request")

	if err := q.transport.Write(string(line) + "\n"); err != nil {
		q.pending.remove(requestID)
		return nil, &ControlRequestError{RequestID: requestID, Subtype: subtype, Message: "failed to send", Cause: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, &ControlRequestError{
				RequestID: requestID,
				Subtype:   subtype,
				Message:   "connection closed before response",
				Cause:     ErrChannelClosed,
			}
		}
		if res.isError {
			return nil, &ControlRequestError{RequestID: requestID, Subtype: subtype, Message: res.errMsg, Cause: ErrControlFailed}
		}
		return res.payload, nil

	case <-timer.C:
		q.pending.remove(requestID)
		return nil, &ControlRequestError{
			RequestID: requestID,
			Subtype:   subtype,
			Message:   fmt.Sprintf("no response within %s", timeout),
			Cause:     ErrTimeout,
		}

	case <-ctx.Done():
		q.pending.remove(requestID)
		return nil, ctx.Err()
	}
}

// generateRequestID creates a unique request ID
func (q *Query) generateRequestID() string {
	counter := q.requestCounter.Add(1)
	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	return fmt.Sprintf("req_%d_%s", counter, hex.EncodeToString(randBytes))
}

// Interrupt sends an interrupt signal to stop the current operation
func (q *Query) Interrupt(ctx context.Context) error {
	_, err := q.sendControlRequest(ctx, InterruptRequest{}, q.controlTimeout)
	return err
}

// SetPermissionMode changes the permission mode mid-session
func (q *Query) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	_, err := q.sendControlRequest(ctx, SetPermissionModeRequest{Mode: mode}, q.controlTimeout)
	return err
}

// SetModel changes the AI model mid-session. An empty model restores the default.
func (q *Query) SetModel(ctx context.Context, model string) error {
	request := SetModelRequest{}
	if model != "" {
		request.Model = &model
	}
	_, err := q.sendControlRequest(ctx, request, q.controlTimeout)
	return err
}

// RewindFiles reverts tracked files to their state at a specific user message
func (q *Query) RewindFiles(ctx context.Context, userMessageID string) error {
	_, err := q.sendControlRequest(ctx, RewindFilesRequest{UserMessageID: userMessageID}, q.controlTimeout)
	return err
}

// GetMcpStatus asks the CLI for the state of its MCP server connections.
func (q *Query) GetMcpStatus(ctx context.Context) (map[string]any, error) {
	payload, err := q.sendControlRequest(ctx, McpStatusRequest{}, q.controlTimeout)
	if err != nil {
		return nil, err
	}
	status := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &status); err != nil {
			return nil, fmt.Errorf("%w: invalid mcp_status response: %v", ErrControlProtocol, err)
		}
	}
	return status, nil
}

// SendUserMessage sends a user message to Claude. content is a string or a
// slice of content blocks. When uuid is set, the CLI records the message
// under that id.
func (q *Query) SendUserMessage(ctx context.Context, content any, sessionID string, uuid string) error {
	if sessionID == "" {
		sessionID = "default"
	}

	message := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
		"parent_tool_use_id": nil,
		"session_id":         sessionID,
	}
	if uuid != "" {
		message["uuid"] = uuid
	}

	return q.writeData(ctx, message)
}

// SendToolResult sends a tool result back to Claude.
// The toolUseID must match the id from the tool_use block.
func (q *Query) SendToolResult(ctx context.Context, toolUseID string, content string, sessionID string) error {
	blocks := []ToolResultBlock{{
		Type:      "tool_result",
		ToolUseID: toolUseID,
		Content:   content,
	}}

	log.Debug().Str("toolUseId", toolUseID).Msg("sending tool_result to Claude CLI")

	return q.SendUserMessage(ctx, blocks, sessionID, "")
}

// SendRaw writes an arbitrary JSON object to the CLI as one line.
func (q *Query) SendRaw(ctx context.Context, message map[string]any) error {
	return q.writeData(ctx, message)
}

func (q *Query) writeData(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.RLock()
	closed, started := q.closed, q.started
	q.mu.RUnlock()
	if closed {
		return ErrConnectionClosed
	}
	if !started {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.transport.Write(string(data) + "\n")
}

// EndInput closes the CLI's stdin. Control requests can no longer be sent.
func (q *Query) EndInput() error {
	return q.transport.EndInput()
}

// Messages returns the ordered data messages from the CLI. The channel is
// closed when the stream ends; Err then reports why.
func (q *Query) Messages() <-chan Message {
	return q.messages
}

// Err returns the error that ended the message stream, or nil after a
// clean end of input or Close.
func (q *Query) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.err
}

// GetServerInfo returns the initialization result
func (q *Query) GetServerInfo() *ServerInfo {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.serverInfo
}

// Close shuts down the transport, then the receive loop. Control requests
// still waiting fail with ErrChannelClosed.
func (q *Query) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	// Close the transport first: the loop may be blocked reading from it.
	err := q.transport.Close()
	q.pending.closeAll()

	if !started {
		q.finish(nil)
		return err
	}

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("query goroutines finished cleanly")
	case <-time.After(closeWaitTimeout):
		log.Warn().Msg("query goroutines did not finish in time")
	}

	return err
}
