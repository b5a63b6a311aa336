package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

const (
	// GracefulShutdownTimeout is how long the CLI gets to exit after SIGINT
	// before it is killed.
	GracefulShutdownTimeout = 5 * time.Second

	stderrTailLines = 20
)

// SubprocessCLITransport implements Transport using a subprocess
type SubprocessCLITransport struct {
	options       TransportOptions
	prompt        string // Initial prompt (for non-streaming mode)
	isStreaming   bool   // Whether we're in streaming mode
	cliPath       string
	cwd           string
	maxBufferSize int

	// Process handles
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	messages   chan []byte
	done       chan struct{} // closed once the process has been reaped
	stderrDone chan struct{}
	stderrTail tailBuffer

	// State
	started     bool
	connected   bool
	closed      bool
	stdinClosed bool
	err         error
	mu          sync.RWMutex
	writeMu     sync.Mutex // Protects stdin writes

	cancel context.CancelFunc

	// Shutdown signaling - set early to expect process exit errors
	shuttingDown atomic.Bool
}

// NewSubprocessCLITransport creates a streaming-mode transport: user
// messages are written to stdin as stream-json.
func NewSubprocessCLITransport(options TransportOptions) (*SubprocessCLITransport, error) {
	cwd := options.Cwd
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	maxBufferSize := options.MaxBufferSize
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}

	return &SubprocessCLITransport{
		options:       options,
		isStreaming:   true,
		cwd:           cwd,
		maxBufferSize: maxBufferSize,
		messages:      make(chan []byte, 100),
		done:          make(chan struct{}),
		stderrDone:    make(chan struct{}),
	}, nil
}

// NewSubprocessCLITransportWithPrompt creates a one-shot transport: the
// prompt is passed on the command line and stdin is closed after spawn.
func NewSubprocessCLITransportWithPrompt(prompt string, options TransportOptions) (*SubprocessCLITransport, error) {
	t, err := NewSubprocessCLITransport(options)
	if err != nil {
		return nil, err
	}
	t.prompt = prompt
	t.isStreaming = false
	return t, nil
}

// Connect resolves the CLI, spawns it and starts the stdout/stderr readers.
// The process is bound to ctx: cancelling it terminates the CLI.
func (t *SubprocessCLITransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrConnectionClosed
	}
	if t.started {
		return nil
	}

	cliPath, err := FindCLI(t.options.CliPath)
	if err != nil {
		return err
	}
	t.cliPath = cliPath

	if info, err := os.Stat(t.cwd); err != nil || !info.IsDir() {
		return &CLIConnectionError{Message: fmt.Sprintf("working directory does not exist: %s", t.cwd), Cause: err}
	}

	checkCLIVersion(ctx, cliPath)

	procCtx, cancel := context.WithCancel(ctx)
	cmdArgs := t.buildCommand()

	log.Info().
		Str("cli", cliPath).
		Strs("args", cmdArgs[1:]).
		Str("cwd", t.cwd).
		Msg("starting Claude CLI subprocess")

	cmd := exec.CommandContext(procCtx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = t.cwd
	cmd.Env = t.buildEnv()
	// SIGINT first: the CLI (Node.js) ignores SIGTERM. WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = GracefulShutdownTimeout
	setProcessAttrs(cmd)

	if t.stdin, err = cmd.StdinPipe(); err != nil {
		cancel()
		return &CLIConnectionError{Message: "failed to create stdin pipe", Cause: err}
	}
	if t.stdout, err = cmd.StdoutPipe(); err != nil {
		cancel()
		return &CLIConnectionError{Message: "failed to create stdout pipe", Cause: err}
	}
	if t.stderr, err = cmd.StderrPipe(); err != nil {
		cancel()
		return &CLIConnectionError{Message: "failed to create stderr pipe", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			return &CLINotFoundError{Path: cliPath}
		}
		return &CLIConnectionError{Message: "failed to start CLI process", Cause: err}
	}

	t.cmd = cmd
	t.cancel = cancel
	t.started = true
	t.connected = true

	log.Info().
		Int("pid", cmd.Process.Pid).
		Str("cwd", t.cwd).
		Bool("streaming", t.isStreaming).
		Msg("Claude CLI subprocess started")

	if !t.isStreaming {
		// One-shot: the prompt is on argv, nothing will ever be written
		t.stdin.Close()
		t.stdinClosed = true
	}

	go t.readStderr()
	go t.readLoop(procCtx)

	return nil
}

// readLoop owns the messages channel: it frames stdout until the stream
// ends, reaps the process, records the terminal error and closes the channel.
func (t *SubprocessCLITransport) readLoop(ctx context.Context) {
	defer close(t.done)
	defer close(t.messages)

	log.Debug().Msg("transport: starting stdout reader")

	streamErr := t.pump(ctx)
	if streamErr != nil {
		var overflow *BufferOverflowError
		switch {
		case errors.As(streamErr, &overflow):
			log.Error().Err(streamErr).Msg("transport: stdout framing failed")
		case t.shuttingDown.Load():
			streamErr = nil
		default:
			streamErr = &CLIConnectionError{Message: "stdout read error", Cause: streamErr}
		}
		if streamErr != nil {
			// The stream is unusable; stop the child instead of leaving it blocked on a full pipe
			t.cancel()
		}
	}

	// stdout/stderr pipes must be drained before Wait closes them
	<-t.stderrDone
	waitErr := t.cmd.Wait()

	exitCode := -1
	if t.cmd.ProcessState != nil {
		exitCode = t.cmd.ProcessState.ExitCode()
		log.Info().
			Int("exitCode", exitCode).
			Str("state", t.cmd.ProcessState.String()).
			Msg("Claude CLI process exited")
	}

	expected := t.shuttingDown.Load() || ctx.Err() != nil
	if streamErr == nil && waitErr != nil && !expected {
		log.Error().Err(waitErr).Int("exitCode", exitCode).Msg("Claude CLI process error")
		streamErr = &ProcessError{ExitCode: exitCode, Stderr: t.stderrTail.String(), Cause: waitErr}
	} else if waitErr != nil {
		log.Debug().Err(waitErr).Msg("Claude CLI process terminated during shutdown")
	}

	t.mu.Lock()
	t.connected = false
	t.err = streamErr
	t.mu.Unlock()

	log.Debug().Msg("transport: stdout reader finished")
}

// pump forwards framed values until end of input, a framing error, or ctx
// cancellation. Clean endings return nil.
func (t *SubprocessCLITransport) pump(ctx context.Context) error {
	framer := NewLineFramer(t.stdout, t.maxBufferSize)
	for {
		msg, err := framer.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case t.messages <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// readStderr forwards stderr lines to the callback and the debug log.
func (t *SubprocessCLITransport) readStderr() {
	defer close(t.stderrDone)

	scanner := bufio.NewScanner(t.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), t.maxBufferSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		t.stderrTail.Add(line)
		if t.options.Stderr != nil {
			t.options.Stderr(line)
		}
		log.Debug().Str("stderr", line).Msg("Claude CLI stderr")
	}
	// Keep draining after a scanner error so the child never blocks on stderr
	io.Copy(io.Discard, t.stderr)
}

// Write sends data to Claude CLI's stdin
func (t *SubprocessCLITransport) Write(data string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	connected, closed, stdinClosed := t.connected, t.closed, t.stdinClosed
	t.mu.RUnlock()

	if closed {
		return ErrConnectionClosed
	}
	if !connected {
		return ErrNotConnected
	}
	if stdinClosed {
		return &CLIConnectionError{Message: "stdin already closed"}
	}

	if _, err := io.WriteString(t.stdin, data); err != nil {
		return &CLIConnectionError{Message: "failed to write to stdin", Cause: err}
	}
	return nil
}

// ReadMessages returns the channel for receiving messages
func (t *SubprocessCLITransport) ReadMessages() <-chan []byte {
	return t.messages
}

// Err returns the terminal stream error once ReadMessages is closed.
func (t *SubprocessCLITransport) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// EndInput closes the stdin stream
func (t *SubprocessCLITransport) EndInput() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil || t.stdinClosed {
		return nil
	}
	t.stdinClosed = true
	return t.stdin.Close()
}

// Close terminates the connection and cleans up resources.
//
// Shutdown sequence:
//  1. Close stdin (EOF to the CLI)
//  2. Cancel the process context, which sends SIGINT
//  3. SIGKILL after GracefulShutdownTimeout if the CLI is still running
//  4. Wait for the reader to reap the process
func (t *SubprocessCLITransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	t.mu.Unlock()

	if !started {
		close(t.messages)
		close(t.done)
		return nil
	}

	t.shuttingDown.Store(true)

	t.writeMu.Lock()
	if !t.stdinClosed {
		t.stdin.Close()
		t.stdinClosed = true
	}
	t.writeMu.Unlock()

	t.cancel()

	select {
	case <-t.done:
	case <-time.After(GracefulShutdownTimeout + 2*time.Second):
		// A grandchild may still hold the pipes open; unblock the readers
		log.Warn().Int("pid", t.cmd.Process.Pid).Msg("transport: reader did not finish, closing pipes")
		t.stdout.Close()
		t.stderr.Close()
		<-t.done
	}

	log.Debug().Msg("transport: closed")
	return nil
}

// IsConnected returns whether the transport is currently connected
func (t *SubprocessCLITransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && !t.closed
}

// SignalShutdown marks the transport as shutting down.
func (t *SubprocessCLITransport) SignalShutdown() {
	t.shuttingDown.Store(true)
}

// PID returns the child's process id, or 0 before Connect.
func (t *SubprocessCLITransport) PID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// tailBuffer keeps the last stderr lines for error reports.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *tailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == stderrTailLines {
		b.lines = append(b.lines[:0], b.lines[1:]...)
	}
	b.lines = append(b.lines, line)
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
