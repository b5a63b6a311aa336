package sdk

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// mockTransport stands in for the CLI: tests push lines the CLI would
// write with send, and read what the SDK wrote with nextWrite.
type mockTransport struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	inputEnded bool
	connectErr error
	writeErr   error
	err        error
	written    []string

	writes    chan string
	incoming  chan []byte
	closeOnce sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		writes:   make(chan string, 256),
		incoming: make(chan []byte, 256),
	}
}

func (m *mockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockTransport) Write(data string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	m.written = append(m.written, data)
	m.mu.Unlock()

	m.writes <- data
	return nil
}

func (m *mockTransport) ReadMessages() <-chan []byte { return m.incoming }

func (m *mockTransport) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *mockTransport) EndInput() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputEnded = true
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.connected = false
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.incoming) })
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) SignalShutdown() {}

func (m *mockTransport) setWriteErr(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *mockTransport) writtenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}

// send delivers one line as if the CLI had written it.
func (m *mockTransport) send(t *testing.T, v any) {
	t.Helper()
	var data []byte
	switch x := v.(type) {
	case string:
		data = []byte(x)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	m.incoming <- data
}

// end simulates the CLI's output ending, optionally with a terminal error.
func (m *mockTransport) end(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.incoming) })
}

func (m *mockTransport) nextWrite(t *testing.T) map[string]any {
	t.Helper()
	select {
	case line := <-m.writes:
		var v map[string]any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			t.Fatalf("written line is not JSON: %q: %v", line, err)
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

func (m *mockTransport) expectNoWrite(t *testing.T) {
	t.Helper()
	select {
	case line := <-m.writes:
		t.Fatalf("unexpected write: %s", line)
	case <-time.After(50 * time.Millisecond):
	}
}

// nextRequest reads an outbound control_request and returns its id and body.
func (m *mockTransport) nextRequest(t *testing.T) (string, map[string]any) {
	t.Helper()
	v := m.nextWrite(t)
	if v["type"] != "control_request" {
		t.Fatalf("expected control_request, got %v", v)
	}
	id, _ := v["request_id"].(string)
	body, _ := v["request"].(map[string]any)
	return id, body
}

// nextResponse reads a control_response and returns its inner response object.
func (m *mockTransport) nextResponse(t *testing.T) map[string]any {
	t.Helper()
	v := m.nextWrite(t)
	if v["type"] != "control_response" {
		t.Fatalf("expected control_response, got %v", v)
	}
	resp, _ := v["response"].(map[string]any)
	return resp
}

func (m *mockTransport) respond(t *testing.T, requestID string, payload any) {
	t.Helper()
	m.send(t, map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   payload,
		},
	})
}

func (m *mockTransport) respondError(t *testing.T, requestID, message string) {
	t.Helper()
	m.send(t, map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "error",
			"request_id": requestID,
			"error":      message,
		},
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, ch <-chan Message) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		return msg, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil, false
	}
}

func systemLine(subtype string) map[string]any {
	return map[string]any{"type": "system", "subtype": subtype, "session_id": "s1"}
}
