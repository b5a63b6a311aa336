package sdk

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ParseMessage parses one data line from the CLI into a typed Message.
// Control traffic never reaches here. Unknown types and missing required
// fields are reported as *MessageParseError.
func ParseMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, &MessageParseError{Message: "empty message data", Data: data}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &MessageParseError{Message: "message is not a JSON object", Data: data, Cause: err}
	}

	var msgType string
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &msgType)
	}
	if msgType == "" {
		return nil, &MessageParseError{Message: "message missing 'type' field", Data: data}
	}

	switch MessageType(msgType) {
	case MessageTypeUser:
		if err := requireNested(data, fields, "user", "message", "content"); err != nil {
			return nil, err
		}
		return parseUserMessage(data)

	case MessageTypeAssistant:
		if err := requireNested(data, fields, "assistant", "message", "content", "model"); err != nil {
			return nil, err
		}
		return parseAssistantMessage(data)

	case MessageTypeSystem:
		if err := requireFields(data, fields, "system", "subtype"); err != nil {
			return nil, err
		}
		return parseSystemMessage(data, fields)

	case MessageTypeResult:
		if err := requireFields(data, fields, "result",
			"subtype", "duration_ms", "duration_api_ms", "is_error", "num_turns", "session_id"); err != nil {
			return nil, err
		}
		return parseResultMessage(data)

	case MessageTypeStreamEvent:
		if err := requireFields(data, fields, "stream_event", "uuid", "session_id", "event"); err != nil {
			return nil, err
		}
		return parseStreamEvent(data)
	}

	return nil, &MessageParseError{Message: fmt.Sprintf("unknown message type: %s", msgType), Data: data}
}

func requireFields(data []byte, fields map[string]json.RawMessage, kind string, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MessageParseError{
			Message: fmt.Sprintf("%s message missing required field(s): %s", kind, strings.Join(missing, ", ")),
			Data:    data,
		}
	}
	return nil
}

// requireNested checks that fields[parent] is an object holding every name.
func requireNested(data []byte, fields map[string]json.RawMessage, kind, parent string, names ...string) error {
	if err := requireFields(data, fields, kind, parent); err != nil {
		return err
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(fields[parent], &inner); err != nil || inner == nil {
		return &MessageParseError{Message: fmt.Sprintf("%s message field %q is not an object", kind, parent), Data: data, Cause: err}
	}
	var missing []string
	for _, name := range names {
		if _, ok := inner[name]; !ok {
			missing = append(missing, parent+"."+name)
		}
	}
	if len(missing) > 0 {
		return &MessageParseError{
			Message: fmt.Sprintf("%s message missing required field(s): %s", kind, strings.Join(missing, ", ")),
			Data:    data,
		}
	}
	return nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseUserMessage(data []byte) (Message, error) {
	var raw struct {
		UUID            string         `json:"uuid,omitempty"`
		Timestamp       string         `json:"timestamp,omitempty"`
		SessionID       string         `json:"session_id,omitempty"`
		ParentToolUseID *string        `json:"parent_tool_use_id,omitempty"`
		ToolUseResult   map[string]any `json:"tool_use_result,omitempty"`
		Message         struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MessageParseError{Message: "failed to parse user message", Data: data, Cause: err}
	}

	msg := UserMessage{
		Type:            MessageTypeUser,
		UUID:            raw.UUID,
		Timestamp:       parseTimestamp(raw.Timestamp),
		SessionID:       raw.SessionID,
		ParentToolUseID: raw.ParentToolUseID,
		ToolUseResult:   raw.ToolUseResult,
	}
	msg.Message.Role = raw.Message.Role
	msg.Message.Content = raw.Message.Content

	return msg, nil
}

func parseAssistantMessage(data []byte) (Message, error) {
	var raw struct {
		UUID            string  `json:"uuid,omitempty"`
		Timestamp       string  `json:"timestamp,omitempty"`
		SessionID       string  `json:"session_id,omitempty"`
		ParentToolUseID *string `json:"parent_tool_use_id,omitempty"`
		Message         struct {
			Role    string `json:"role"`
			Model   string `json:"model"`
			Content []struct {
				Type      string         `json:"type"`
				Text      string         `json:"text,omitempty"`
				Thinking  string         `json:"thinking,omitempty"`
				Signature string         `json:"signature,omitempty"`
				ID        string         `json:"id,omitempty"`
				Name      string         `json:"name,omitempty"`
				Input     map[string]any `json:"input,omitempty"`
				ToolUseID string         `json:"tool_use_id,omitempty"`
				Content   any            `json:"content,omitempty"`
				IsError   bool           `json:"is_error,omitempty"`
			} `json:"content"`
		} `json:"message"`
		Error string `json:"error,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MessageParseError{Message: "failed to parse assistant message", Data: data, Cause: err}
	}

	msg := AssistantMessage{
		Type:            MessageTypeAssistant,
		UUID:            raw.UUID,
		Timestamp:       parseTimestamp(raw.Timestamp),
		SessionID:       raw.SessionID,
		ParentToolUseID: raw.ParentToolUseID,
		Error:           raw.Error,
	}
	msg.Message.Role = raw.Message.Role
	msg.Message.Model = raw.Message.Model

	for _, block := range raw.Message.Content {
		switch block.Type {
		case "text":
			msg.Message.Content = append(msg.Message.Content, TextBlock{
				Type: "text",
				Text: block.Text,
			})

		case "thinking":
			msg.Message.Content = append(msg.Message.Content, ThinkingBlock{
				Type:      "thinking",
				Thinking:  block.Thinking,
				Signature: block.Signature,
			})

		case "tool_use":
			msg.Message.Content = append(msg.Message.Content, ToolUseBlock{
				Type:  "tool_use",
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})

		case "tool_result":
			msg.Message.Content = append(msg.Message.Content, ToolResultBlock{
				Type:      "tool_result",
				ToolUseID: block.ToolUseID,
				Content:   block.Content,
				IsError:   block.IsError,
			})
		}
	}

	return msg, nil
}

func parseSystemMessage(data []byte, fields map[string]json.RawMessage) (Message, error) {
	var raw struct {
		UUID      string `json:"uuid,omitempty"`
		Subtype   string `json:"subtype"`
		Timestamp string `json:"timestamp,omitempty"`
		SessionID string `json:"session_id,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MessageParseError{Message: "failed to parse system message", Data: data, Cause: err}
	}

	full := make(map[string]any, len(fields))
	for k, v := range fields {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, &MessageParseError{Message: "failed to parse system message", Data: data, Cause: err}
		}
		full[k] = val
	}

	return SystemMessage{
		Type:      MessageTypeSystem,
		UUID:      raw.UUID,
		Subtype:   raw.Subtype,
		Timestamp: parseTimestamp(raw.Timestamp),
		SessionID: raw.SessionID,
		Data:      full,
	}, nil
}

func parseResultMessage(data []byte) (Message, error) {
	msg := ResultMessage{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &MessageParseError{Message: "failed to parse result message", Data: data, Cause: err}
	}
	msg.Type = MessageTypeResult
	return msg, nil
}

func parseStreamEvent(data []byte) (Message, error) {
	msg := StreamEvent{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &MessageParseError{Message: "failed to parse stream event", Data: data, Cause: err}
	}
	msg.Type = MessageTypeStreamEvent
	return msg, nil
}

// --- Content Block Helpers ---

// GetTextContent extracts all text content from an AssistantMessage
func GetTextContent(msg AssistantMessage) string {
	var parts []string
	for _, block := range msg.Message.Content {
		if tb, ok := block.(TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// GetToolUses extracts all tool use blocks from an AssistantMessage
func GetToolUses(msg AssistantMessage) []ToolUseBlock {
	var result []ToolUseBlock
	for _, block := range msg.Message.Content {
		if tb, ok := block.(ToolUseBlock); ok {
			result = append(result, tb)
		}
	}
	return result
}

// GetThinkingContent extracts all thinking blocks from an AssistantMessage
func GetThinkingContent(msg AssistantMessage) []ThinkingBlock {
	var result []ThinkingBlock
	for _, block := range msg.Message.Content {
		if tb, ok := block.(ThinkingBlock); ok {
			result = append(result, tb)
		}
	}
	return result
}

// IsResultMessage checks if a message is a ResultMessage
func IsResultMessage(msg Message) bool {
	_, ok := msg.(ResultMessage)
	return ok
}

// IsErrorResult checks if a message is an error result
func IsErrorResult(msg Message) bool {
	if rm, ok := msg.(ResultMessage); ok {
		return rm.IsError
	}
	return false
}

// FormatCost formats the cost in USD
func FormatCost(cost *float64) string {
	if cost == nil {
		return "N/A"
	}
	return fmt.Sprintf("$%.4f", *cost)
}
