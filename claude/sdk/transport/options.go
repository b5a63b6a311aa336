package transport

// TransportOptions contains options for the subprocess transport.
// This is a subset of ClaudeAgentOptions relevant to the transport layer.
type TransportOptions struct {
	// Prompts
	SystemPrompt       string
	AppendSystemPrompt string

	// Tools
	Tools           []string
	AllowedTools    []string
	DisallowedTools []string

	// Permission settings
	PermissionMode           string
	PermissionPromptToolName string

	// Session management
	ContinueConversation bool
	Resume               string
	ForkSession          bool

	// Limits
	MaxTurns     *int
	MaxBudgetUSD *float64

	// Model configuration
	Model         string
	FallbackModel string

	// Paths
	Cwd     string
	CliPath string
	AddDirs []string

	// JSON documents (or file paths) handed to the CLI verbatim
	McpConfig  string
	Settings   string
	Agents     string
	JSONSchema string

	// nil means "no setting sources"; the CLI receives an empty list
	SettingSources []string

	// Environment
	Env       map[string]string
	ExtraArgs map[string]*string

	// Streaming
	IncludePartialMessages bool

	// Advanced
	MaxBufferSize           int
	MaxThinkingTokens       *int
	EnableFileCheckpointing bool

	// Stderr callback, invoked once per non-empty line
	Stderr func(string)
}
