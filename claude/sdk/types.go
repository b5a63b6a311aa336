package sdk

import (
	"context"
	"time"
)

// PermissionMode controls how tools are authorized
type PermissionMode string

const (
	PermissionModeDefault           PermissionMode = "default"           // CLI prompts for dangerous tools
	PermissionModeAcceptEdits       PermissionMode = "acceptEdits"       // Auto-accept file edits
	PermissionModePlan              PermissionMode = "plan"              // Planning mode
	PermissionModeBypassPermissions PermissionMode = "bypassPermissions" // Allow all tools (use with caution)
)

// PermissionBehavior is the response to a permission request
type PermissionBehavior string

const (
	PermissionAllow PermissionBehavior = "allow"
	PermissionDeny  PermissionBehavior = "deny"
	PermissionAsk   PermissionBehavior = "ask"
)

// HookEvent represents the type of hook event
type HookEvent string

const (
	HookPreToolUse         HookEvent = "PreToolUse"
	HookPostToolUse        HookEvent = "PostToolUse"
	HookPostToolUseFailure HookEvent = "PostToolUseFailure"
	HookUserPromptSubmit   HookEvent = "UserPromptSubmit"
	HookStop               HookEvent = "Stop"
	HookSubagentStop       HookEvent = "SubagentStop"
	HookPreCompact         HookEvent = "PreCompact"
)

// SettingSource indicates where a setting comes from
type SettingSource string

const (
	SettingSourceUser    SettingSource = "user"
	SettingSourceProject SettingSource = "project"
	SettingSourceLocal   SettingSource = "local"
)

// PermissionUpdateDestination specifies where permission updates are stored
type PermissionUpdateDestination string

const (
	DestinationUserSettings    PermissionUpdateDestination = "userSettings"
	DestinationProjectSettings PermissionUpdateDestination = "projectSettings"
	DestinationLocalSettings   PermissionUpdateDestination = "localSettings"
	DestinationSession         PermissionUpdateDestination = "session"
)

// PermissionUpdateType specifies the type of permission update
type PermissionUpdateType string

const (
	UpdateTypeAddRules          PermissionUpdateType = "addRules"
	UpdateTypeReplaceRules      PermissionUpdateType = "replaceRules"
	UpdateTypeRemoveRules       PermissionUpdateType = "removeRules"
	UpdateTypeSetMode           PermissionUpdateType = "setMode"
	UpdateTypeAddDirectories    PermissionUpdateType = "addDirectories"
	UpdateTypeRemoveDirectories PermissionUpdateType = "removeDirectories"
)

// PermissionRuleValue represents a permission rule
type PermissionRuleValue struct {
	ToolName    string  `json:"toolName"`
	RuleContent *string `json:"ruleContent,omitempty"`
}

// PermissionUpdate represents a permission configuration change
type PermissionUpdate struct {
	Type        PermissionUpdateType        `json:"type"`
	Rules       []PermissionRuleValue       `json:"rules,omitempty"`
	Behavior    PermissionBehavior          `json:"behavior,omitempty"`
	Mode        PermissionMode              `json:"mode,omitempty"`
	Directories []string                    `json:"directories,omitempty"`
	Destination PermissionUpdateDestination `json:"destination,omitempty"`
}

// ToolPermissionContext carries what the CLI sent alongside a can_use_tool request.
type ToolPermissionContext struct {
	Suggestions []PermissionUpdate `json:"suggestions,omitempty"`
	BlockedPath *string            `json:"blockedPath,omitempty"`
	ToolUseID   string             `json:"toolUseId,omitempty"`
	AgentID     string             `json:"agentId,omitempty"`
}

// PermissionResult is the result of a permission check: PermissionResultAllow or PermissionResultDeny.
type PermissionResult interface {
	isPermissionResult()
}

// PermissionResultAllow indicates the tool use is allowed.
// A nil UpdatedInput echoes the original input back to the CLI.
type PermissionResultAllow struct {
	UpdatedInput       map[string]any     `json:"updatedInput,omitempty"`
	UpdatedPermissions []PermissionUpdate `json:"updatedPermissions,omitempty"`
}

func (PermissionResultAllow) isPermissionResult() {}

// PermissionResultDeny indicates the tool use is denied
type PermissionResultDeny struct {
	Message   string `json:"message,omitempty"`
	Interrupt bool   `json:"interrupt,omitempty"`
}

func (PermissionResultDeny) isPermissionResult() {}

// CanUseToolFunc is the callback type for tool permission checks
type CanUseToolFunc func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error)

// BaseHookInput contains common fields for all hook inputs
type BaseHookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	PermissionMode string `json:"permission_mode,omitempty"`
	HookEventName  string `json:"hook_event_name"`
}

// GetHookEventName implements HookInput for every embedding type.
func (b BaseHookInput) GetHookEventName() string { return b.HookEventName }

// PreToolUseHookInput is input data for PreToolUse hook events
type PreToolUseHookInput struct {
	BaseHookInput
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

// PostToolUseHookInput is input data for PostToolUse hook events
type PostToolUseHookInput struct {
	BaseHookInput
	ToolName     string         `json:"tool_name"`
	ToolInput    map[string]any `json:"tool_input"`
	ToolResponse any            `json:"tool_response"`
	ToolUseID    string         `json:"tool_use_id,omitempty"`
}

// PostToolUseFailureHookInput is input data for PostToolUseFailure hook events
type PostToolUseFailureHookInput struct {
	BaseHookInput
	ToolName    string         `json:"tool_name"`
	ToolInput   map[string]any `json:"tool_input"`
	ToolUseID   string         `json:"tool_use_id,omitempty"`
	Error       string         `json:"error"`
	IsInterrupt bool           `json:"is_interrupt,omitempty"`
}

// UserPromptSubmitHookInput is input data for UserPromptSubmit hook events
type UserPromptSubmitHookInput struct {
	BaseHookInput
	Prompt string `json:"prompt"`
}

// StopHookInput is input data for Stop hook events
type StopHookInput struct {
	BaseHookInput
	StopHookActive bool `json:"stop_hook_active"`
}

// SubagentStopHookInput is input data for SubagentStop hook events
type SubagentStopHookInput struct {
	BaseHookInput
	StopHookActive bool   `json:"stop_hook_active"`
	AgentID        string `json:"agent_id,omitempty"`
}

// PreCompactHookInput is input data for PreCompact hook events
type PreCompactHookInput struct {
	BaseHookInput
	Trigger            string  `json:"trigger"` // "manual" or "auto"
	CustomInstructions *string `json:"custom_instructions"`
}

// UnknownHookInput carries events this SDK has no struct for.
type UnknownHookInput struct {
	BaseHookInput
	Fields map[string]any `json:"-"`
}

// HookInput is a union type for all hook inputs
type HookInput interface {
	GetHookEventName() string
}

// HookSpecificOutput contains hook-specific output fields
type HookSpecificOutput struct {
	HookEventName            string         `json:"hookEventName"`
	PermissionDecision       string         `json:"permissionDecision,omitempty"`       // PreToolUse only
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"` // PreToolUse only
	UpdatedInput             map[string]any `json:"updatedInput,omitempty"`             // PreToolUse only
	AdditionalContext        string         `json:"additionalContext,omitempty"`        // PostToolUse, UserPromptSubmit
}

// HookOutput is the output from a hook callback, marshalled with the CLI's field names.
type HookOutput struct {
	// Control fields
	Continue       *bool  `json:"continue,omitempty"`
	SuppressOutput bool   `json:"suppressOutput,omitempty"`
	StopReason     string `json:"stopReason,omitempty"`

	// Async hooks return immediately; the CLI waits up to AsyncTimeout ms.
	Async        bool `json:"async,omitempty"`
	AsyncTimeout *int `json:"asyncTimeout,omitempty"`

	// Decision fields
	Decision      string `json:"decision,omitempty"` // "block"
	SystemMessage string `json:"systemMessage,omitempty"`
	Reason        string `json:"reason,omitempty"`

	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookCallback is the function signature for hook handlers
type HookCallback func(ctx context.Context, input HookInput, toolUseID *string) (HookOutput, error)

// HookMatcher configures which hooks match which events
type HookMatcher struct {
	Matcher string         `json:"matcher,omitempty"` // Tool name pattern (e.g., "Bash", "Write|Edit")
	Hooks   []HookCallback `json:"-"`
	Timeout *float64       `json:"timeout,omitempty"` // Timeout in seconds
}

// McpServerConfig describes an external MCP server for --mcp-config
type McpServerConfig struct {
	Type    string            `json:"type,omitempty"` // "stdio", "sse", "http"
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// AgentDefinition defines a custom agent
type AgentDefinition struct {
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Tools       []string `json:"tools,omitempty"`
	Model       string   `json:"model,omitempty"` // "sonnet", "opus", "haiku", "inherit"
}

// SandboxNetworkConfig configures network access in sandbox
type SandboxNetworkConfig struct {
	AllowUnixSockets    []string `json:"allowUnixSockets,omitempty"`
	AllowAllUnixSockets bool     `json:"allowAllUnixSockets,omitempty"`
	AllowLocalBinding   bool     `json:"allowLocalBinding,omitempty"`
	HTTPProxyPort       int      `json:"httpProxyPort,omitempty"`
	SOCKSProxyPort      int      `json:"socksProxyPort,omitempty"`
}

// SandboxSettings configures bash command sandboxing
type SandboxSettings struct {
	Enabled                   bool                 `json:"enabled,omitempty"`
	AutoAllowBashIfSandboxed  bool                 `json:"autoAllowBashIfSandboxed,omitempty"`
	ExcludedCommands          []string             `json:"excludedCommands,omitempty"`
	AllowUnsandboxedCommands  bool                 `json:"allowUnsandboxedCommands,omitempty"`
	Network                   SandboxNetworkConfig `json:"network,omitempty"`
	EnableWeakerNestedSandbox bool                 `json:"enableWeakerNestedSandbox,omitempty"`
}

// ClaudeAgentOptions configures the Claude SDK client
type ClaudeAgentOptions struct {
	// Tools configuration
	Tools           []string `json:"tools,omitempty"`
	AllowedTools    []string `json:"allowedTools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty"`

	// Prompts
	SystemPrompt       string `json:"systemPrompt,omitempty"`
	AppendSystemPrompt string `json:"appendSystemPrompt,omitempty"`

	// McpServers is sent as {"mcpServers": ...}; McpConfig (a path or JSON
	// document) is passed through when McpServers is empty.
	McpServers map[string]McpServerConfig `json:"mcpServers,omitempty"`
	McpConfig  string                     `json:"mcpConfig,omitempty"`

	// Permission settings. PermissionHandler wins over CanUseTool when both are set.
	PermissionMode           PermissionMode    `json:"permissionMode,omitempty"`
	PermissionPromptToolName string            `json:"permissionPromptToolName,omitempty"`
	CanUseTool               CanUseToolFunc    `json:"-"`
	PermissionHandler        PermissionHandler `json:"-"`

	// Session management
	ContinueConversation bool   `json:"continueConversation,omitempty"`
	Resume               string `json:"resume,omitempty"`
	ForkSession          bool   `json:"forkSession,omitempty"`

	// Limits
	MaxTurns     *int     `json:"maxTurns,omitempty"`
	MaxBudgetUSD *float64 `json:"maxBudgetUsd,omitempty"`

	// Model configuration
	Model         string `json:"model,omitempty"`
	FallbackModel string `json:"fallbackModel,omitempty"`

	// Paths
	Cwd     string   `json:"cwd,omitempty"`
	CliPath string   `json:"cliPath,omitempty"`
	AddDirs []string `json:"addDirs,omitempty"`

	// Environment
	Env       map[string]string  `json:"env,omitempty"`
	ExtraArgs map[string]*string `json:"extraArgs,omitempty"` // Arbitrary CLI flags

	// Streaming
	IncludePartialMessages bool `json:"includePartialMessages,omitempty"`

	Hooks map[HookEvent][]HookMatcher `json:"-"`

	Agents         map[string]AgentDefinition `json:"agents,omitempty"`
	SettingSources []SettingSource            `json:"settingSources,omitempty"`

	// Settings is a JSON object or a settings file path. Sandbox is merged
	// into it under "sandbox".
	Settings string           `json:"settings,omitempty"`
	Sandbox  *SandboxSettings `json:"sandbox,omitempty"`

	// Output format for structured outputs: {"type": "json_schema", "schema": {...}}
	OutputFormat map[string]any `json:"outputFormat,omitempty"`

	// Advanced
	MaxBufferSize           int           `json:"maxBufferSize,omitempty"`
	MaxThinkingTokens       *int          `json:"maxThinkingTokens,omitempty"`
	EnableFileCheckpointing bool          `json:"enableFileCheckpointing,omitempty"`
	ControlTimeout          time.Duration `json:"-"`
	InitializeTimeout       time.Duration `json:"-"`
	SkipInitialization      bool          `json:"-"` // Skip the initialize control request handshake

	// Stderr callback
	Stderr func(string) `json:"-"`
}

// --- Content Block Types ---

// ContentBlock is the interface for all content blocks
type ContentBlock interface {
	BlockType() string
}

// TextBlock represents text content
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (TextBlock) BlockType() string { return "text" }

// ThinkingBlock represents Claude's thinking/reasoning
type ThinkingBlock struct {
	Type      string `json:"type"`
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

func (ThinkingBlock) BlockType() string { return "thinking" }

// ToolUseBlock represents a tool invocation
type ToolUseBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock represents the result of a tool execution
type ToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) BlockType() string { return "tool_result" }

// --- Message Types ---

// MessageType identifies the type of message
type MessageType string

const (
	MessageTypeUser                 MessageType = "user"
	MessageTypeAssistant            MessageType = "assistant"
	MessageTypeSystem               MessageType = "system"
	MessageTypeResult               MessageType = "result"
	MessageTypeStreamEvent          MessageType = "stream_event"
	MessageTypeControlRequest       MessageType = "control_request"
	MessageTypeControlResponse      MessageType = "control_response"
	MessageTypeControlCancelRequest MessageType = "control_cancel_request"
)

// Message is a decoded data message: one of UserMessage, AssistantMessage,
// SystemMessage, ResultMessage or StreamEvent.
type Message interface {
	GetType() MessageType
	GetUUID() string
}

// UserMessage represents a user message
type UserMessage struct {
	Type            MessageType    `json:"type"`
	UUID            string         `json:"uuid,omitempty"`
	Timestamp       time.Time      `json:"timestamp,omitzero"`
	SessionID       string         `json:"session_id,omitempty"`
	ParentToolUseID *string        `json:"parent_tool_use_id,omitempty"`
	ToolUseResult   map[string]any `json:"tool_use_result,omitempty"`
	Message         struct {
		Role    string `json:"role"`
		Content any    `json:"content"` // string or []ContentBlock
	} `json:"message"`
}

func (m UserMessage) GetType() MessageType { return MessageTypeUser }
func (m UserMessage) GetUUID() string      { return m.UUID }

// AssistantMessage represents Claude's response
type AssistantMessage struct {
	Type            MessageType `json:"type"`
	UUID            string      `json:"uuid,omitempty"`
	Timestamp       time.Time   `json:"timestamp,omitzero"`
	SessionID       string      `json:"session_id,omitempty"`
	ParentToolUseID *string     `json:"parent_tool_use_id,omitempty"`
	Message         struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
		Model   string         `json:"model"`
	} `json:"message"`
	Error string `json:"error,omitempty"` // authentication_failed, billing_error, rate_limit, etc.
}

func (m AssistantMessage) GetType() MessageType { return MessageTypeAssistant }
func (m AssistantMessage) GetUUID() string      { return m.UUID }

// SystemMessage represents internal system events
type SystemMessage struct {
	Type      MessageType    `json:"type"`
	UUID      string         `json:"uuid,omitempty"`
	Subtype   string         `json:"subtype"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (m SystemMessage) GetType() MessageType { return MessageTypeSystem }
func (m SystemMessage) GetUUID() string      { return m.UUID }

// ResultMessage represents the final result with cost/usage info
type ResultMessage struct {
	Type             MessageType    `json:"type"`
	UUID             string         `json:"uuid,omitempty"`
	Subtype          string         `json:"subtype"`
	DurationMs       int            `json:"duration_ms"`
	DurationAPIMs    int            `json:"duration_api_ms"`
	IsError          bool           `json:"is_error"`
	NumTurns         int            `json:"num_turns"`
	SessionID        string         `json:"session_id"`
	TotalCostUSD     *float64       `json:"total_cost_usd,omitempty"`
	Usage            map[string]any `json:"usage,omitempty"`
	Result           string         `json:"result,omitempty"`
	StructuredOutput any            `json:"structured_output,omitempty"`
}

func (m ResultMessage) GetType() MessageType { return MessageTypeResult }
func (m ResultMessage) GetUUID() string      { return m.UUID }

// StreamEvent represents partial message updates during streaming
type StreamEvent struct {
	Type            MessageType    `json:"type"`
	UUID            string         `json:"uuid"`
	SessionID       string         `json:"session_id"`
	Event           map[string]any `json:"event"`
	ParentToolUseID *string        `json:"parent_tool_use_id,omitempty"`
}

func (m StreamEvent) GetType() MessageType { return MessageTypeStreamEvent }
func (m StreamEvent) GetUUID() string      { return m.UUID }

// ServerInfo contains initialization response data
type ServerInfo struct {
	Commands     []map[string]any `json:"commands,omitempty"`
	OutputStyle  string           `json:"output_style,omitempty"`
	OutputStyles []string         `json:"output_styles,omitempty"`

	// Raw is the full initialize payload, including fields not mapped above
	Raw map[string]any `json:"-"`
}
