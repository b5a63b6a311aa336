package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HookManager collects hook callbacks into the matcher layout expected by
// ClaudeAgentOptions.Hooks. Callback ids are assigned later, by Initialize.
type HookManager struct {
	matchers map[HookEvent][]HookMatcher
	mu       sync.RWMutex
}

// NewHookManager creates a new hook manager
func NewHookManager() *HookManager {
	return &HookManager{
		matchers: make(map[HookEvent][]HookMatcher),
	}
}

// Register adds a hook callback for the specified event and tool matcher
func (h *HookManager) Register(event HookEvent, matcher string, callback HookCallback) {
	h.register(event, matcher, nil, callback)
}

// RegisterWithTimeout adds a hook callback whose matcher carries a timeout in seconds.
// The timeout applies to the whole matcher; the first registration sets it.
func (h *HookManager) RegisterWithTimeout(event HookEvent, matcher string, timeout float64, callback HookCallback) {
	h.register(event, matcher, &timeout, callback)
}

func (h *HookManager) register(event HookEvent, matcher string, timeout *float64, callback HookCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, m := range h.matchers[event] {
		if m.Matcher == matcher {
			h.matchers[event][i].Hooks = append(h.matchers[event][i].Hooks, callback)
			if h.matchers[event][i].Timeout == nil {
				h.matchers[event][i].Timeout = timeout
			}
			return
		}
	}

	h.matchers[event] = append(h.matchers[event], HookMatcher{
		Matcher: matcher,
		Hooks:   []HookCallback{callback},
		Timeout: timeout,
	})
}

// GetMatchers returns all matchers for an event
func (h *HookManager) GetMatchers(event HookEvent) []HookMatcher {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]HookMatcher(nil), h.matchers[event]...)
}

// ToOptionsMap converts the hook manager's matchers to the options format
func (h *HookManager) ToOptionsMap() map[HookEvent][]HookMatcher {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[HookEvent][]HookMatcher, len(h.matchers))
	for event, matchers := range h.matchers {
		result[event] = make([]HookMatcher, len(matchers))
		copy(result[event], matchers)
	}
	return result
}

// parseHookInput decodes a hook_callback input by its hook_event_name.
func parseHookInput(raw json.RawMessage) (HookInput, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var base BaseHookInput
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("invalid hook input: %w", err)
	}

	switch HookEvent(base.HookEventName) {
	case HookPreToolUse:
		return decodeHookInput[PreToolUseHookInput](raw)
	case HookPostToolUse:
		return decodeHookInput[PostToolUseHookInput](raw)
	case HookPostToolUseFailure:
		return decodeHookInput[PostToolUseFailureHookInput](raw)
	case HookUserPromptSubmit:
		return decodeHookInput[UserPromptSubmitHookInput](raw)
	case HookStop:
		return decodeHookInput[StopHookInput](raw)
	case HookSubagentStop:
		return decodeHookInput[SubagentStopHookInput](raw)
	case HookPreCompact:
		return decodeHookInput[PreCompactHookInput](raw)
	}

	u := UnknownHookInput{BaseHookInput: base}
	if err := json.Unmarshal(raw, &u.Fields); err != nil {
		return nil, fmt.Errorf("invalid hook input: %w", err)
	}
	return u, nil
}

func decodeHookInput[T HookInput](raw json.RawMessage) (HookInput, error) {
	var in T
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("invalid %s hook input: %w", in.GetHookEventName(), err)
	}
	return in, nil
}

// --- Pre-built Hook Helpers ---

// PreToolUseAllow creates a hook output that allows the tool use
func PreToolUseAllow() HookOutput {
	return HookOutput{
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:      string(HookPreToolUse),
			PermissionDecision: "allow",
		},
	}
}

// PreToolUseDeny creates a hook output that denies the tool use
func PreToolUseDeny(reason string) HookOutput {
	return HookOutput{
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:            string(HookPreToolUse),
			PermissionDecision:       "deny",
			PermissionDecisionReason: reason,
		},
	}
}

// PreToolUseAsk creates a hook output that asks the user
func PreToolUseAsk() HookOutput {
	return HookOutput{
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:      string(HookPreToolUse),
			PermissionDecision: "ask",
		},
	}
}

// PreToolUseModify creates a hook output that allows with modified input
func PreToolUseModify(modifiedInput map[string]any) HookOutput {
	return HookOutput{
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:      string(HookPreToolUse),
			PermissionDecision: "allow",
			UpdatedInput:       modifiedInput,
		},
	}
}

// PostToolUseAddContext creates a hook output that adds context after tool use
func PostToolUseAddContext(context string) HookOutput {
	return HookOutput{
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:     string(HookPostToolUse),
			AdditionalContext: context,
		},
	}
}

// StopSession creates a hook output that stops the session
func StopSession(reason string) HookOutput {
	cont := false
	return HookOutput{
		Continue:   &cont,
		StopReason: reason,
	}
}

// ContinueSession creates a hook output that continues the session
func ContinueSession() HookOutput {
	cont := true
	return HookOutput{
		Continue: &cont,
	}
}

// BlockWithMessage creates a hook output that blocks with a system message
func BlockWithMessage(systemMessage string, reason string) HookOutput {
	return HookOutput{
		Decision:      "block",
		SystemMessage: systemMessage,
		Reason:        reason,
	}
}

// --- Common Hook Patterns ---

// LoggingHook creates a hook that logs tool usage
func LoggingHook(logFn func(event string, toolName string, input map[string]any)) HookCallback {
	return func(_ context.Context, input HookInput, _ *string) (HookOutput, error) {
		switch hi := input.(type) {
		case PreToolUseHookInput:
			logFn(string(HookPreToolUse), hi.ToolName, hi.ToolInput)
		case PostToolUseHookInput:
			logFn(string(HookPostToolUse), hi.ToolName, hi.ToolInput)
		case PostToolUseFailureHookInput:
			logFn(string(HookPostToolUseFailure), hi.ToolName, hi.ToolInput)
		}
		return ContinueSession(), nil
	}
}

// ValidationHook creates a hook that validates tool inputs
func ValidationHook(validateFn func(toolName string, input map[string]any) (bool, string)) HookCallback {
	return func(_ context.Context, input HookInput, _ *string) (HookOutput, error) {
		if hi, ok := input.(PreToolUseHookInput); ok {
			valid, reason := validateFn(hi.ToolName, hi.ToolInput)
			if !valid {
				return PreToolUseDeny(reason), nil
			}
		}
		return PreToolUseAllow(), nil
	}
}

// TransformHook creates a hook that transforms tool inputs
func TransformHook(transformFn func(toolName string, input map[string]any) map[string]any) HookCallback {
	return func(_ context.Context, input HookInput, _ *string) (HookOutput, error) {
		if hi, ok := input.(PreToolUseHookInput); ok {
			modifiedInput := transformFn(hi.ToolName, hi.ToolInput)
			if modifiedInput != nil {
				return PreToolUseModify(modifiedInput), nil
			}
		}
		return PreToolUseAllow(), nil
	}
}

// DenyToolsHook creates a hook that denies specific tools
func DenyToolsHook(deniedTools ...string) HookCallback {
	denySet := make(map[string]bool)
	for _, t := range deniedTools {
		denySet[t] = true
	}

	return func(_ context.Context, input HookInput, _ *string) (HookOutput, error) {
		if hi, ok := input.(PreToolUseHookInput); ok {
			if denySet[hi.ToolName] {
				return PreToolUseDeny("Tool " + hi.ToolName + " is not allowed"), nil
			}
		}
		return PreToolUseAllow(), nil
	}
}

// AllowToolsHook creates a hook that only allows specific tools
func AllowToolsHook(allowedTools ...string) HookCallback {
	allowSet := make(map[string]bool)
	for _, t := range allowedTools {
		allowSet[t] = true
	}

	return func(_ context.Context, input HookInput, _ *string) (HookOutput, error) {
		if hi, ok := input.(PreToolUseHookInput); ok {
			if !allowSet[hi.ToolName] {
				return PreToolUseDeny("Tool " + hi.ToolName + " is not in the allowed list"), nil
			}
		}
		return PreToolUseAllow(), nil
	}
}
