package transport

import (
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
)

// buildCommand constructs the CLI command with all arguments
func (t *SubprocessCLITransport) buildCommand() []string {
	cmd := []string{t.cliPath, "--output-format", "stream-json", "--verbose"}

	opts := t.options

	cmd = append(cmd, "--system-prompt", opts.SystemPrompt)
	if opts.AppendSystemPrompt != "" {
		cmd = append(cmd, "--append-system-prompt", opts.AppendSystemPrompt)
	}

	if opts.Tools != nil {
		cmd = append(cmd, "--tools", strings.Join(opts.Tools, ","))
	}
	if len(opts.AllowedTools) > 0 {
		cmd = append(cmd, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		cmd = append(cmd, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}

	if opts.MaxTurns != nil {
		cmd = append(cmd, "--max-turns", strconv.Itoa(*opts.MaxTurns))
	}
	if opts.MaxBudgetUSD != nil {
		cmd = append(cmd, "--max-budget-usd", strconv.FormatFloat(*opts.MaxBudgetUSD, 'g', -1, 64))
	}

	if opts.Model != "" {
		cmd = append(cmd, "--model", opts.Model)
	}
	if opts.FallbackModel != "" {
		cmd = append(cmd, "--fallback-model", opts.FallbackModel)
	}

	// "stdio" routes permission prompts through can_use_tool control requests
	if opts.PermissionPromptToolName != "" {
		cmd = append(cmd, "--permission-prompt-tool", opts.PermissionPromptToolName)
	}
	if opts.PermissionMode != "" {
		cmd = append(cmd, "--permission-mode", opts.PermissionMode)
	}

	if opts.ContinueConversation {
		cmd = append(cmd, "--continue")
	}
	if opts.Resume != "" {
		cmd = append(cmd, "--resume", opts.Resume)
	}
	if opts.ForkSession {
		cmd = append(cmd, "--fork-session")
	}

	if opts.Settings != "" {
		cmd = append(cmd, "--settings", opts.Settings)
	}
	for _, dir := range opts.AddDirs {
		cmd = append(cmd, "--add-dir", dir)
	}
	if opts.McpConfig != "" {
		cmd = append(cmd, "--mcp-config", opts.McpConfig)
	}
	if opts.Agents != "" {
		cmd = append(cmd, "--agents", opts.Agents)
	}
	if opts.JSONSchema != "" {
		cmd = append(cmd, "--json-schema", opts.JSONSchema)
	}

	if opts.IncludePartialMessages {
		cmd = append(cmd, "--include-partial-messages")
	}

	cmd = append(cmd, "--setting-sources", strings.Join(opts.SettingSources, ","))

	if opts.MaxThinkingTokens != nil {
		cmd = append(cmd, "--max-thinking-tokens", strconv.Itoa(*opts.MaxThinkingTokens))
	}

	// Extra args in sorted order so argv is stable across runs
	for _, key := range slices.Sorted(maps.Keys(opts.ExtraArgs)) {
		flag := key
		if !strings.HasPrefix(flag, "--") {
			flag = "--" + flag
		}
		if value := opts.ExtraArgs[key]; value != nil {
			cmd = append(cmd, flag, *value)
		} else {
			cmd = append(cmd, flag)
		}
	}

	if t.isStreaming {
		cmd = append(cmd, "--input-format", "stream-json")
	} else {
		cmd = append(cmd, "--print", "--", t.prompt)
	}

	return cmd
}

// buildEnv returns the child environment: the parent's, then caller
// overrides, then the SDK markers which always win.
func (t *SubprocessCLITransport) buildEnv() []string {
	env := os.Environ()
	for _, key := range slices.Sorted(maps.Keys(t.options.Env)) {
		env = append(env, key+"="+t.options.Env[key])
	}

	env = append(env,
		"CLAUDE_CODE_ENTRYPOINT=sdk-go",
		"CLAUDE_AGENT_SDK_VERSION="+SDKVersion,
	)
	if t.options.EnableFileCheckpointing {
		env = append(env, "CLAUDE_CODE_ENABLE_SDK_FILE_CHECKPOINTING=true")
	}
	if t.cwd != "" {
		env = append(env, "PWD="+t.cwd)
	}
	return env
}
