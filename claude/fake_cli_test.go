package claude

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk"
	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk/transport"
)

// fakeCLI answers outbound control requests like the real CLI would and
// records everything else the SDK writes.
type fakeCLI struct {
	options sdk.ClaudeAgentOptions

	mu       sync.Mutex
	closed   bool
	err      error
	incoming chan []byte
	writes   chan map[string]any
}

func newFakeCLI(options sdk.ClaudeAgentOptions) *fakeCLI {
	return &fakeCLI{
		options:  options,
		incoming: make(chan []byte, 256),
		writes:   make(chan map[string]any, 256),
	}
}

func (f *fakeCLI) Connect(context.Context) error { return nil }

func (f *fakeCLI) Write(data string) error {
	var msg map[string]any
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrConnectionClosed
	}

	if msg["type"] == "control_request" {
		id, _ := msg["request_id"].(string)
		body, _ := msg["request"].(map[string]any)
		var payload any = map[string]any{}
		if body["subtype"] == "mcp_status" {
			payload = map[string]any{"mcpServers": []any{}}
		}
		line, _ := json.Marshal(map[string]any{
			"type": "control_response",
			"response": map[string]any{
				"subtype":    "success",
				"request_id": id,
				"response":   payload,
			},
		})
		f.incoming <- line
		if body["subtype"] == "initialize" {
			return nil
		}
	}

	f.writes <- msg
	return nil
}

func (f *fakeCLI) ReadMessages() <-chan []byte { return f.incoming }

func (f *fakeCLI) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeCLI) EndInput() error { return nil }

func (f *fakeCLI) Close() error {
	f.end(nil)
	return nil
}

func (f *fakeCLI) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeCLI) SignalShutdown() {}

// send delivers a line as if the CLI had printed it.
func (f *fakeCLI) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.incoming <- data
	}
}

// end simulates the CLI exiting.
func (f *fakeCLI) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.incoming)
}

func (f *fakeCLI) nextWrite(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-f.writes:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

func (f *fakeCLI) permissionRequest(t *testing.T, requestID, tool string) {
	t.Helper()
	f.send(t, map[string]any{
		"type":       "control_request",
		"request_id": requestID,
		"request": map[string]any{
			"subtype":   "can_use_tool",
			"tool_name": tool,
			"input":     map[string]any{"command": "ls"},
		},
	})
}

// controlResponse reads writes until the control_response for requestID.
func (f *fakeCLI) controlResponse(t *testing.T, requestID string) (subtype string, payload map[string]any) {
	t.Helper()
	for {
		msg := f.nextWrite(t)
		if msg["type"] != "control_response" {
			continue
		}
		resp, _ := msg["response"].(map[string]any)
		if resp["request_id"] != requestID {
			continue
		}
		subtype, _ = resp["subtype"].(string)
		payload, _ = resp["response"].(map[string]any)
		return subtype, payload
	}
}

func newTestManager(t *testing.T, opts ManagerOptions) (*Manager, <-chan *fakeCLI) {
	t.Helper()
	fakes := make(chan *fakeCLI, 16)
	if opts.NewTransport == nil {
		opts.NewTransport = func(options sdk.ClaudeAgentOptions) (transport.Transport, error) {
			f := newFakeCLI(options)
			fakes <- f
			return f, nil
		}
	}
	m := NewManager(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, fakes
}

func nextFake(t *testing.T, fakes <-chan *fakeCLI) *fakeCLI {
	t.Helper()
	select {
	case f := <-fakes:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no transport was created")
		return nil
	}
}

// waitFrame reads frames from c until one of type typ arrives.
func waitFrame(t *testing.T, c *Client, typ string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				t.Fatalf("subscriber closed while waiting for %s", typ)
			}
			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("frame is not JSON: %s", data)
			}
			if frame["type"] == typ {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a %s frame", typ)
			return nil
		}
	}
}

var errCLIExited = errors.New("exit status 1")
