package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"

	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk/transport"
	"github.com/xiaoyuanzhu-com/claude-agent-go/config"
	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

// ClaudeSDKClient is the high-level client for bidirectional, interactive
// conversations with Claude Code.
//
// This client provides full control over the conversation flow with support
// for streaming, interrupts, and dynamic message sending. For simple one-shot
// queries, consider using QueryOnce instead.
//
// Control responses are written as soon as a callback returns, so a CLI
// waiting on a permission decision is never left blocked.
type ClaudeSDKClient struct {
	options   ClaudeAgentOptions
	transport transport.Transport
	query     *Query

	mu     sync.RWMutex
	closed bool
}

// NewClaudeSDKClient creates a new Claude SDK client with the given options
func NewClaudeSDKClient(options ClaudeAgentOptions) *ClaudeSDKClient {
	return &ClaudeSDKClient{
		options: options,
	}
}

// NewClaudeSDKClientWithTransport creates a client with a custom transport
// (useful for testing with mock transports)
func NewClaudeSDKClientWithTransport(options ClaudeAgentOptions, t transport.Transport) *ClaudeSDKClient {
	return &ClaudeSDKClient{
		options:   options,
		transport: t,
	}
}

// Connect starts the CLI and performs the initialize handshake.
// ctx bounds the lifetime of the CLI process, not just the call.
// If prompt is provided, it's sent as the initial message.
func (c *ClaudeSDKClient) Connect(ctx context.Context, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.query != nil {
		return ErrAlreadyConnected
	}

	options := c.options

	// A permission callback needs the CLI to ask over the control protocol
	// instead of prompting on a terminal.
	if options.CanUseTool != nil || options.PermissionHandler != nil {
		if options.PermissionPromptToolName != "" && options.PermissionPromptToolName != "stdio" {
			return fmt.Errorf("a permission callback requires PermissionPromptToolName to be 'stdio' or empty")
		}
		options.PermissionPromptToolName = "stdio"
	}

	t := c.transport
	if t == nil {
		topts, err := options.ToTransportOptions()
		if err != nil {
			return err
		}
		st, err := transport.NewSubprocessCLITransport(topts)
		if err != nil {
			return fmt.Errorf("failed to create transport: %w", err)
		}
		t = st
	}

	q := NewQuery(QueryOptions{
		Transport:         t,
		IsStreamingMode:   true,
		CanUseTool:        options.CanUseTool,
		PermissionHandler: options.PermissionHandler,
		Hooks:             options.Hooks,
		InitializeTimeout: options.InitializeTimeout,
		ControlTimeout:    options.ControlTimeout,
		AutoFlush:         true,
	})

	if err := q.Start(ctx); err != nil {
		q.Close()
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	if !options.SkipInitialization {
		if _, err := q.Initialize(ctx); err != nil {
			q.Close()
			return err
		}
	} else {
		log.Debug().Msg("skipping SDK initialization handshake")
	}

	if prompt != "" {
		if err := q.SendUserMessage(ctx, prompt, "", ""); err != nil {
			q.Close()
			return fmt.Errorf("failed to send initial prompt: %w", err)
		}
	}

	c.transport = t
	c.query = q

	log.Info().Msg("Claude SDK client connected")

	return nil
}

// activeQuery returns the query without holding the client lock during I/O.
func (c *ClaudeSDKClient) activeQuery() (*Query, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.query == nil {
		return nil, ErrNotConnected
	}
	return c.query, nil
}

// SendMessage sends a user message to Claude. content is a string or a
// slice of content blocks.
func (c *ClaudeSDKClient) SendMessage(ctx context.Context, content any) error {
	return c.SendMessageWithSession(ctx, content, "", "")
}

// SendMessageWithSession sends a user message with a specific session ID and
// optional message uuid.
func (c *ClaudeSDKClient) SendMessageWithSession(ctx context.Context, content any, sessionID, uuid string) error {
	q, err := c.activeQuery()
	if err != nil {
		return err
	}
	return q.SendUserMessage(ctx, content, sessionID, uuid)
}

// SendToolResult sends a tool result back to Claude.
// This is used for interactive tools like AskUserQuestion that require user input.
func (c *ClaudeSDKClient) SendToolResult(ctx context.Context, toolUseID string, content string) error {
	q, err := c.activeQuery()
	if err != nil {
		return err
	}
	return q.SendToolResult(ctx, toolUseID, content, "")
}

// Messages returns the typed messages from Claude. The channel closes when
// the CLI's output ends; Err reports why.
func (c *ClaudeSDKClient) Messages() <-chan Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.query == nil {
		ch := make(chan Message)
		close(ch)
		return ch
	}
	return c.query.Messages()
}

// Err returns the error that ended the message stream, if any.
func (c *ClaudeSDKClient) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.query == nil {
		return nil
	}
	return c.query.Err()
}

// Interrupt sends an interrupt signal to stop the current operation
func (c *ClaudeSDKClient) Interrupt(ctx context.Context) error {
	q, err := c.activeQuery()
	if err != nil {
		return err
	}
	return q.Interrupt(ctx)
}

// SetPermissionMode changes the permission mode during conversation
//
// Valid modes:
//   - PermissionModeDefault: CLI prompts for dangerous tools
//   - PermissionModeAcceptEdits: Auto-accept file edits
//   - PermissionModePlan: Planning only, no tool execution
//   - PermissionModeBypassPermissions: Allow all tools (use with caution)
func (c *ClaudeSDKClient) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	q, err := c.activeQuery()
	if err != nil {
		return err
	}
	return q.SetPermissionMode(ctx, mode)
}

// SetModel changes the AI model during conversation. An empty model
// restores the default.
func (c *ClaudeSDKClient) SetModel(ctx context.Context, model string) error {
	q, err := c.activeQuery()
	if err != nil {
		return err
	}
	return q.SetModel(ctx, model)
}

// RewindFiles reverts tracked files to their state at a specific user message.
//
// Requires:
//   - EnableFileCheckpointing: true in options to track file changes
//   - "replay-user-messages" in ExtraArgs to receive UserMessage with UUID
func (c *ClaudeSDKClient) RewindFiles(ctx context.Context, userMessageID string) error {
	q, err := c.activeQuery()
	if err != nil {
		return err
	}
	return q.RewindFiles(ctx, userMessageID)
}

// GetMcpStatus returns the CLI's view of its MCP servers
func (c *ClaudeSDKClient) GetMcpStatus(ctx context.Context) (map[string]any, error) {
	q, err := c.activeQuery()
	if err != nil {
		return nil, err
	}
	return q.GetMcpStatus(ctx)
}

// EndInput closes the CLI's stdin; it finishes the current turn and exits.
func (c *ClaudeSDKClient) EndInput() error {
	q, err := c.activeQuery()
	if err != nil {
		return err
	}
	return q.EndInput()
}

// GetServerInfo returns initialization info including available commands and output styles
func (c *ClaudeSDKClient) GetServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.query == nil {
		return nil
	}
	return c.query.GetServerInfo()
}

// IsConnected returns whether the client is currently connected
func (c *ClaudeSDKClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.query != nil && c.transport != nil && c.transport.IsConnected()
}

// Disconnect closes the connection to Claude. The client can connect again.
func (c *ClaudeSDKClient) Disconnect() error {
	c.mu.Lock()
	q := c.query
	c.query = nil
	c.transport = nil
	c.mu.Unlock()

	if q == nil {
		return nil
	}

	// Query.Close kills the process before waiting on the reader.
	err := q.Close()
	if err != nil {
		log.Debug().Err(err).Msg("error closing query")
	}

	log.Info().Msg("Claude SDK client disconnected")

	return err
}

// Close disconnects and prevents further use of the client
func (c *ClaudeSDKClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return c.Disconnect()
}

// SignalShutdown marks the client as shutting down.
// Call this early in shutdown sequence so process exit errors are expected.
func (c *ClaudeSDKClient) SignalShutdown() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.transport != nil {
		c.transport.SignalShutdown()
	}
}

// --- One-shot Query Function ---

// QueryOnce performs a one-shot query to Claude Code.
// This is ideal for simple, stateless queries where you don't need
// bidirectional communication or conversation management.
//
// The message channel yields everything up to and including the first
// ResultMessage, then the CLI is shut down. The error channel carries at
// most one error and is closed after the message channel.
func QueryOnce(ctx context.Context, prompt string, options ClaudeAgentOptions) (<-chan Message, <-chan error) {
	messages := make(chan Message, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(messages)

		topts, err := options.ToTransportOptions()
		if err != nil {
			errs <- err
			return
		}
		t, err := transport.NewSubprocessCLITransportWithPrompt(prompt, topts)
		if err != nil {
			errs <- fmt.Errorf("failed to create transport: %w", err)
			return
		}

		q := NewQuery(QueryOptions{Transport: t})
		defer q.Close()

		if err := q.Start(ctx); err != nil {
			errs <- fmt.Errorf("failed to connect: %w", err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return

			case msg, ok := <-q.Messages():
				if !ok {
					if err := q.Err(); err != nil {
						errs <- err
					}
					return
				}

				select {
				case messages <- msg:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}

				if _, ok := msg.(ResultMessage); ok {
					return
				}
			}
		}
	}()

	return messages, errs
}

// --- Convenience Helpers ---

// WithPermissionMode returns options with the specified permission mode
func WithPermissionMode(mode PermissionMode) ClaudeAgentOptions {
	return ClaudeAgentOptions{
		PermissionMode: mode,
	}
}

// WithModel returns options with the specified model
func WithModel(model string) ClaudeAgentOptions {
	return ClaudeAgentOptions{
		Model: model,
	}
}

// WithWorkingDir returns options with the specified working directory
func WithWorkingDir(cwd string) ClaudeAgentOptions {
	return ClaudeAgentOptions{
		Cwd: cwd,
	}
}

// WithCanUseTool returns options with a tool permission callback
func WithCanUseTool(callback CanUseToolFunc) ClaudeAgentOptions {
	return ClaudeAgentOptions{
		CanUseTool: callback,
	}
}

// ToTransportOptions converts ClaudeAgentOptions to transport.TransportOptions,
// rendering structured options as the JSON documents the CLI expects.
func (o ClaudeAgentOptions) ToTransportOptions() (transport.TransportOptions, error) {
	topts := transport.TransportOptions{
		SystemPrompt:             o.SystemPrompt,
		AppendSystemPrompt:       o.AppendSystemPrompt,
		Tools:                    o.Tools,
		AllowedTools:             o.AllowedTools,
		DisallowedTools:          o.DisallowedTools,
		PermissionMode:           string(o.PermissionMode),
		PermissionPromptToolName: o.PermissionPromptToolName,
		ContinueConversation:     o.ContinueConversation,
		Resume:                   o.Resume,
		ForkSession:              o.ForkSession,
		MaxTurns:                 o.MaxTurns,
		MaxBudgetUSD:             o.MaxBudgetUSD,
		Model:                    o.Model,
		FallbackModel:            o.FallbackModel,
		Cwd:                      o.Cwd,
		CliPath:                  o.CliPath,
		AddDirs:                  o.AddDirs,
		McpConfig:                o.McpConfig,
		Env:                      o.Env,
		ExtraArgs:                o.ExtraArgs,
		IncludePartialMessages:   o.IncludePartialMessages,
		MaxBufferSize:            o.MaxBufferSize,
		MaxThinkingTokens:        o.MaxThinkingTokens,
		EnableFileCheckpointing:  o.EnableFileCheckpointing,
		Stderr:                   o.Stderr,
	}

	if topts.MaxBufferSize <= 0 {
		topts.MaxBufferSize = config.Get().MaxBufferSize
	}

	for _, s := range o.SettingSources {
		topts.SettingSources = append(topts.SettingSources, string(s))
	}

	if len(o.McpServers) > 0 {
		data, err := json.Marshal(map[string]any{"mcpServers": o.McpServers})
		if err != nil {
			return topts, fmt.Errorf("marshal mcp servers: %w", err)
		}
		topts.McpConfig = string(data)
	}

	if len(o.Agents) > 0 {
		data, err := json.Marshal(o.Agents)
		if err != nil {
			return topts, fmt.Errorf("marshal agents: %w", err)
		}
		topts.Agents = string(data)
	}

	if o.OutputFormat != nil && o.OutputFormat["type"] == "json_schema" {
		if schema, ok := o.OutputFormat["schema"]; ok {
			data, err := json.Marshal(schema)
			if err != nil {
				return topts, fmt.Errorf("marshal output schema: %w", err)
			}
			topts.JSONSchema = string(data)
		}
	}

	settings, err := o.settingsValue()
	if err != nil {
		return topts, err
	}
	topts.Settings = settings

	return topts, nil
}

// settingsValue returns the --settings argument. Without a sandbox the
// Settings string is passed through untouched; with one, the settings are
// loaded as an object and the sandbox is merged in.
func (o ClaudeAgentOptions) settingsValue() (string, error) {
	if o.Sandbox == nil {
		return o.Settings, nil
	}

	obj := map[string]any{}
	if s := strings.TrimSpace(o.Settings); s != "" {
		doc := []byte(s)
		if !strings.HasPrefix(s, "{") {
			data, err := os.ReadFile(s)
			if err != nil {
				return "", fmt.Errorf("read settings file: %w", err)
			}
			doc = data
		}
		if err := json.Unmarshal(doc, &obj); err != nil {
			return "", fmt.Errorf("parse settings: %w", err)
		}
	}
	obj["sandbox"] = o.Sandbox

	data, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal settings: %w", err)
	}
	return string(data), nil
}

// MergeOptions combines multiple option sets, with later options taking precedence
func MergeOptions(opts ...ClaudeAgentOptions) ClaudeAgentOptions {
	result := ClaudeAgentOptions{}

	for _, opt := range opts {
		if opt.SystemPrompt != "" {
			result.SystemPrompt = opt.SystemPrompt
		}
		if opt.AppendSystemPrompt != "" {
			result.AppendSystemPrompt = opt.AppendSystemPrompt
		}
		if opt.PermissionMode != "" {
			result.PermissionMode = opt.PermissionMode
		}
		if opt.PermissionPromptToolName != "" {
			result.PermissionPromptToolName = opt.PermissionPromptToolName
		}
		if opt.Model != "" {
			result.Model = opt.Model
		}
		if opt.FallbackModel != "" {
			result.FallbackModel = opt.FallbackModel
		}
		if opt.Cwd != "" {
			result.Cwd = opt.Cwd
		}
		if opt.CliPath != "" {
			result.CliPath = opt.CliPath
		}
		if opt.Resume != "" {
			result.Resume = opt.Resume
		}
		if opt.MaxTurns != nil {
			result.MaxTurns = opt.MaxTurns
		}
		if opt.MaxBudgetUSD != nil {
			result.MaxBudgetUSD = opt.MaxBudgetUSD
		}
		if opt.CanUseTool != nil {
			result.CanUseTool = opt.CanUseTool
		}
		if opt.PermissionHandler != nil {
			result.PermissionHandler = opt.PermissionHandler
		}
		if opt.Hooks != nil {
			result.Hooks = opt.Hooks
		}
		if opt.Stderr != nil {
			result.Stderr = opt.Stderr
		}
		if opt.ControlTimeout > 0 {
			result.ControlTimeout = opt.ControlTimeout
		}
		if opt.InitializeTimeout > 0 {
			result.InitializeTimeout = opt.InitializeTimeout
		}
		if opt.ForkSession {
			result.ForkSession = true
		}
		if opt.ContinueConversation {
			result.ContinueConversation = true
		}
		if opt.IncludePartialMessages {
			result.IncludePartialMessages = true
		}
		if opt.EnableFileCheckpointing {
			result.EnableFileCheckpointing = true
		}
		if len(opt.AllowedTools) > 0 {
			result.AllowedTools = opt.AllowedTools
		}
		if len(opt.DisallowedTools) > 0 {
			result.DisallowedTools = opt.DisallowedTools
		}
		if len(opt.Env) > 0 {
			if result.Env == nil {
				result.Env = make(map[string]string)
			}
			maps.Copy(result.Env, opt.Env)
		}
		if len(opt.ExtraArgs) > 0 {
			if result.ExtraArgs == nil {
				result.ExtraArgs = make(map[string]*string)
			}
			maps.Copy(result.ExtraArgs, opt.ExtraArgs)
		}
	}

	return result
}
