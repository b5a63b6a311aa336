package sdk

import (
	"errors"
	"strings"
	"testing"
)

func TestParseMessage(t *testing.T) {
	t.Run("assistant with blocks", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"type":"assistant","uuid":"u1","session_id":"s1","timestamp":"2025-01-02T03:04:05.5Z",
			"message":{"role":"assistant","model":"claude-sonnet","content":[
				{"type":"thinking","thinking":"hmm","signature":"sig"},
				{"type":"text","text":"first"},
				{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}},
				{"type":"text","text":"second"},
				{"type":"server_tool_use","id":"x"}]}}`))
		if err != nil {
			t.Fatalf("ParseMessage: %v", err)
		}
		am, ok := msg.(AssistantMessage)
		if !ok {
			t.Fatalf("type = %T", msg)
		}
		if am.SessionID != "s1" || am.Message.Model != "claude-sonnet" || am.Timestamp.IsZero() {
			t.Errorf("assistant = %+v", am)
		}
		if len(am.Message.Content) != 4 {
			t.Errorf("blocks = %d, want 4 (unknown block skipped)", len(am.Message.Content))
		}
		if got := GetTextContent(am); got != "first\nsecond" {
			t.Errorf("GetTextContent = %q", got)
		}
		if uses := GetToolUses(am); len(uses) != 1 || uses[0].Name != "Bash" {
			t.Errorf("GetToolUses = %+v", uses)
		}
		if th := GetThinkingContent(am); len(th) != 1 || th[0].Signature != "sig" {
			t.Errorf("GetThinkingContent = %+v", th)
		}
	})

	t.Run("user", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"type":"user","uuid":"u2","parent_tool_use_id":"toolu_1","message":{"role":"user","content":"hi"}}`))
		if err != nil {
			t.Fatal(err)
		}
		um := msg.(UserMessage)
		if um.Message.Content != "hi" || um.ParentToolUseID == nil || um.GetUUID() != "u2" {
			t.Errorf("user = %+v", um)
		}
	})

	t.Run("system keeps full payload", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"type":"system","subtype":"init","session_id":"s1","tools":["Bash"]}`))
		if err != nil {
			t.Fatal(err)
		}
		sm := msg.(SystemMessage)
		if sm.Subtype != "init" || sm.Data["tools"] == nil {
			t.Errorf("system = %+v", sm)
		}
	})

	t.Run("result", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"type":"result","subtype":"success","duration_ms":1200,"duration_api_ms":900,
			"is_error":false,"num_turns":2,"session_id":"s1","total_cost_usd":0.0123,"result":"done"}`))
		if err != nil {
			t.Fatal(err)
		}
		rm := msg.(ResultMessage)
		if rm.DurationMs != 1200 || rm.NumTurns != 2 || rm.Result != "done" {
			t.Errorf("result = %+v", rm)
		}
		if !IsResultMessage(rm) || IsErrorResult(rm) {
			t.Error("result helpers disagree")
		}
		if got := FormatCost(rm.TotalCostUSD); got != "$0.0123" {
			t.Errorf("FormatCost = %q", got)
		}
	})

	t.Run("stream event", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"type":"stream_event","uuid":"e1","session_id":"s1","event":{"type":"message_start"}}`))
		if err != nil {
			t.Fatal(err)
		}
		if se := msg.(StreamEvent); se.Event["type"] != "message_start" {
			t.Errorf("event = %+v", se)
		}
	})
}

func TestParseMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"empty", ``, "empty"},
		{"not an object", `[1]`, "not a JSON object"},
		{"missing type", `{"subtype":"x"}`, "missing 'type'"},
		{"unknown type", `{"type":"telemetry"}`, "unknown message type: telemetry"},
		{"user without message", `{"type":"user"}`, "message"},
		{"user without content", `{"type":"user","message":{"role":"user"}}`, "message.content"},
		{"assistant without model", `{"type":"assistant","message":{"content":[]}}`, "message.model"},
		{"system without subtype", `{"type":"system"}`, "subtype"},
		{"result without session", `{"type":"result","subtype":"success","duration_ms":1,"duration_api_ms":1,"is_error":false,"num_turns":1}`, "session_id"},
		{"stream event without uuid", `{"type":"stream_event","session_id":"s","event":{}}`, "uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.line))
			var pe *MessageParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *MessageParseError", err)
			}
			if !strings.Contains(pe.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", pe.Error(), tt.want)
			}
		})
	}
}

func TestFormatCostNil(t *testing.T) {
	if got := FormatCost(nil); got != "N/A" {
		t.Errorf("FormatCost(nil) = %q", got)
	}
}
