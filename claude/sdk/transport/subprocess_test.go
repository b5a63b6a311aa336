package transport

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeCLI writes a shell script standing in for the claude binary. It
// answers the version probe and then runs body.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script CLI stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"-v\" ]; then echo '2.1.0 (Claude Code)'; exit 0; fi\n" +
		body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestTransport(t *testing.T, body string, opts TransportOptions) *SubprocessCLITransport {
	t.Helper()
	opts.CliPath = fakeCLI(t, body)
	if opts.Cwd == "" {
		opts.Cwd = t.TempDir()
	}
	tr, err := NewSubprocessCLITransport(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

// drain reads until the messages channel closes or the deadline passes.
func drain(t *testing.T, tr Transport) []string {
	t.Helper()
	var out []string
	timeout := time.After(10 * time.Second)
	for {
		select {
		case msg, ok := <-tr.ReadMessages():
			if !ok {
				return out
			}
			out = append(out, string(msg))
		case <-timeout:
			t.Fatalf("timed out draining messages, got %v", out)
		}
	}
}

func TestSubprocessFramesStdout(t *testing.T) {
	tr := newTestTransport(t, `printf '{"type":"system","subtype":"init"}\n{"a":1}{"b":2}\n{"type":\n"split"}\n'`, TransportOptions{})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got := drain(t, tr)
	want := []string{`{"type":"system","subtype":"init"}`, `{"a":1}`, `{"b":2}`, `{"type":"split"}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if err := tr.Err(); err != nil {
		t.Errorf("clean exit should leave no error, got %v", err)
	}
	if tr.IsConnected() {
		t.Error("transport still reports connected after process exit")
	}
}

func TestSubprocessEchoAndClose(t *testing.T) {
	tr := newTestTransport(t, `while IFS= read -r line; do echo "$line"; done`, TransportOptions{})
	ctx := context.Background()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Second Connect is a no-op
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if !tr.IsConnected() || tr.PID() == 0 {
		t.Fatal("expected a live process")
	}

	if err := tr.Write(`{"type":"user","n":1}` + "\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case msg := <-tr.ReadMessages():
		if string(msg) != `{"type":"user","n":1}` {
			t.Errorf("echo = %s", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no echo from child")
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	drain(t, tr)
	if err := tr.Err(); err != nil {
		t.Errorf("Close should not surface an error, got %v", err)
	}
	if err := tr.Write("{}\n"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Write after Close = %v, want ErrConnectionClosed", err)
	}
	if err := tr.Connect(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Connect after Close = %v, want ErrConnectionClosed", err)
	}
}

func TestSubprocessProcessError(t *testing.T) {
	var stderrLines []string
	tr := newTestTransport(t, `echo "fatal: bad credentials" >&2; exit 3`, TransportOptions{
		Stderr: func(line string) { stderrLines = append(stderrLines, line) },
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	drain(t, tr)

	var perr *ProcessError
	if !errors.As(tr.Err(), &perr) {
		t.Fatalf("expected *ProcessError, got %v", tr.Err())
	}
	if perr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", perr.ExitCode)
	}
	if !strings.Contains(perr.Stderr, "bad credentials") {
		t.Errorf("Stderr = %q", perr.Stderr)
	}
	if len(stderrLines) != 1 || stderrLines[0] != "fatal: bad credentials" {
		t.Errorf("stderr callback got %q", stderrLines)
	}
}

func TestSubprocessOneShotClosesStdin(t *testing.T) {
	// cat only returns once stdin is closed
	body := `cat >/dev/null; printf '{"type":"result","last":"%s"}\n' "$(eval echo \${$#})"`
	path := fakeCLI(t, body)

	tr, err := NewSubprocessCLITransportWithPrompt("what is 2+2", TransportOptions{CliPath: path, Cwd: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got := drain(t, tr)
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
	var res struct{ Last string }
	if err := json.Unmarshal([]byte(got[0]), &res); err != nil {
		t.Fatal(err)
	}
	if res.Last != "what is 2+2" {
		t.Errorf("prompt argument = %q", res.Last)
	}

	var cerr *CLIConnectionError
	if err := tr.Write("{}\n"); !errors.As(err, &cerr) && !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write in one-shot mode = %v", err)
	}
}

func TestSubprocessEnvironment(t *testing.T) {
	body := `printf '{"entrypoint":"%s","version":"%s","custom":"%s"}\n' "$CLAUDE_CODE_ENTRYPOINT" "$CLAUDE_AGENT_SDK_VERSION" "$MY_FLAG"`
	tr := newTestTransport(t, body, TransportOptions{Env: map[string]string{"MY_FLAG": "on"}})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	got := drain(t, tr)
	want := `{"entrypoint":"sdk-go","version":"` + SDKVersion + `","custom":"on"}`
	if len(got) != 1 || got[0] != want {
		t.Errorf("got %v, want %s", got, want)
	}
}

func TestSubprocessOverflowStopsChild(t *testing.T) {
	body := `printf '{"ok":true}\n{"data":"%0300d"}\n' 0; exec sleep 30`
	tr := newTestTransport(t, body, TransportOptions{MaxBufferSize: 128})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	start := time.Now()
	got := drain(t, tr)
	if len(got) != 1 || got[0] != `{"ok":true}` {
		t.Errorf("messages before overflow = %v", got)
	}
	var overflow *BufferOverflowError
	if !errors.As(tr.Err(), &overflow) {
		t.Fatalf("expected *BufferOverflowError, got %v", tr.Err())
	}
	if time.Since(start) > GracefulShutdownTimeout+2*time.Second {
		t.Error("child was not stopped after overflow")
	}
}

func TestSubprocessCloseInterruptsChild(t *testing.T) {
	tr := newTestTransport(t, `exec sleep 30`, TransportOptions{})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	start := time.Now()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > GracefulShutdownTimeout {
		t.Errorf("Close took %v; SIGINT should have ended the child", elapsed)
	}
	if tr.IsConnected() {
		t.Error("still connected after Close")
	}
}

func TestSubprocessEndInput(t *testing.T) {
	tr := newTestTransport(t, `cat >/dev/null; echo '{"stdin":"closed"}'`, TransportOptions{})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tr.EndInput(); err != nil {
		t.Fatalf("EndInput: %v", err)
	}
	if err := tr.EndInput(); err != nil {
		t.Errorf("second EndInput: %v", err)
	}

	got := drain(t, tr)
	if len(got) != 1 || got[0] != `{"stdin":"closed"}` {
		t.Errorf("got %v", got)
	}
}

func TestSubprocessCLINotFound(t *testing.T) {
	tr, err := NewSubprocessCLITransport(TransportOptions{
		CliPath: filepath.Join(t.TempDir(), "missing-claude"),
		Cwd:     t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	err = tr.Connect(context.Background())
	if !errors.Is(err, ErrCLINotFound) {
		t.Fatalf("expected ErrCLINotFound, got %v", err)
	}
	if err := tr.Write("{}\n"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write before a successful Connect = %v, want ErrNotConnected", err)
	}
}
