package claude

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk"
	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk/transport"
)

func TestCreateSessionOptions(t *testing.T) {
	m, fakes := newTestManager(t, ManagerOptions{})

	maxTurns := 3
	session, err := m.CreateSession(context.Background(), CreateSessionRequest{
		WorkingDir:     "/work",
		Model:          "claude-sonnet-4-5",
		PermissionMode: sdk.PermissionModePlan,
		SystemPrompt:   "be brief",
		AllowedTools:   []string{"Read"},
		MaxTurns:       &maxTurns,
	})
	if err != nil {
		t.Fatal(err)
	}
	cli := nextFake(t, fakes)
	opts := cli.options

	if opts.Cwd != "/work" || opts.Model != "claude-sonnet-4-5" || opts.PermissionMode != sdk.PermissionModePlan {
		t.Errorf("options = cwd %q model %q mode %q", opts.Cwd, opts.Model, opts.PermissionMode)
	}
	if opts.SystemPrompt != "be brief" || opts.MaxTurns == nil || *opts.MaxTurns != 3 {
		t.Errorf("system prompt or max turns not passed through")
	}
	if !slices.Equal(opts.AllowedTools, []string{"Read"}) {
		t.Errorf("AllowedTools = %v", opts.AllowedTools)
	}
	if !slices.Equal(opts.DisallowedTools, defaultDisallowedTools) {
		t.Errorf("DisallowedTools = %v, want defaults", opts.DisallowedTools)
	}
	if opts.PermissionHandler != sdk.PermissionHandler(session) {
		t.Error("session should answer permission requests")
	}
	if !opts.IncludePartialMessages {
		t.Error("partial messages should be streamed")
	}
	if v := opts.ExtraArgs["session-id"]; v == nil || *v != session.ID {
		t.Errorf("session-id arg = %v, want %s", v, session.ID)
	}
	if opts.Resume != "" {
		t.Errorf("Resume = %q for a new session", opts.Resume)
	}

	if session.Status() != StatusActive {
		t.Errorf("status = %s", session.Status())
	}
	if session.Title != "Session 1" {
		t.Errorf("Title = %q", session.Title)
	}
}

func TestCreateSessionResume(t *testing.T) {
	m, fakes := newTestManager(t, ManagerOptions{})

	session, err := m.CreateSession(context.Background(), CreateSessionRequest{
		ResumeSessionID: "prior-session",
		DisallowedTools: []string{},
	})
	if err != nil {
		t.Fatal(err)
	}
	opts := nextFake(t, fakes).options

	if session.ID != "prior-session" || session.Title != "Resumed Session" {
		t.Errorf("session = %s %q", session.ID, session.Title)
	}
	if opts.Resume != "prior-session" {
		t.Errorf("Resume = %q", opts.Resume)
	}
	if _, ok := opts.ExtraArgs["session-id"]; ok {
		t.Error("resumed sessions must not pass --session-id")
	}
	if len(opts.DisallowedTools) != 0 {
		t.Errorf("explicit empty deny list replaced with %v", opts.DisallowedTools)
	}

	_, err = m.CreateSession(context.Background(), CreateSessionRequest{ResumeSessionID: "prior-session"})
	if !errors.Is(err, ErrSessionExists) {
		t.Errorf("err = %v, want ErrSessionExists", err)
	}
}

func TestCreateSessionSendsPrompt(t *testing.T) {
	m, fakes := newTestManager(t, ManagerOptions{})

	session, err := m.CreateSession(context.Background(), CreateSessionRequest{Prompt: "what is here?"})
	if err != nil {
		t.Fatal(err)
	}
	cli := nextFake(t, fakes)

	msg := cli.nextWrite(t)
	if msg["type"] != "user" || msg["session_id"] != session.ID {
		t.Errorf("first write = %v", msg)
	}
}

func TestCreateSessionConnectFailure(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{
		NewTransport: func(sdk.ClaudeAgentOptions) (transport.Transport, error) {
			return nil, transport.ErrCLINotFound
		},
	})

	_, err := m.CreateSession(context.Background(), CreateSessionRequest{})
	if !errors.Is(err, transport.ErrCLINotFound) {
		t.Fatalf("err = %v, want ErrCLINotFound", err)
	}
	if n := len(m.ListSessions()); n != 0 {
		t.Errorf("failed session left in the list (%d sessions)", n)
	}
}

func TestTooManySessions(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{MaxSessions: 1})

	if _, err := m.CreateSession(context.Background(), CreateSessionRequest{}); err != nil {
		t.Fatal(err)
	}
	_, err := m.CreateSession(context.Background(), CreateSessionRequest{})
	if !errors.Is(err, ErrTooManySessions) {
		t.Errorf("err = %v, want ErrTooManySessions", err)
	}
}

func TestGetListCloseSession(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	first, err := m.CreateSession(ctx, CreateSessionRequest{Title: "first"})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	second, err := m.CreateSession(ctx, CreateSessionRequest{Title: "second"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.GetSession(first.ID)
	if err != nil || got != first {
		t.Fatalf("GetSession = %v, %v", got, err)
	}

	list := m.ListSessions()
	if len(list) != 2 || list[0] != second || list[1] != first {
		t.Errorf("ListSessions order = %v, want newest first", []string{list[0].Title, list[1].Title})
	}

	c := first.AddClient()
	if err := m.CloseSession(first.ID); err != nil {
		t.Fatal(err)
	}
	for range c.Send {
	}
	if first.Status() != StatusClosed {
		t.Errorf("status = %s, want closed", first.Status())
	}
	if err := first.SendMessage(ctx, "late"); !errors.Is(err, sdk.ErrConnectionClosed) {
		t.Errorf("SendMessage after close = %v", err)
	}

	if _, err := m.GetSession(first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession after close = %v", err)
	}
	if err := m.CloseSession(first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second CloseSession = %v", err)
	}
}

func TestReapEndedSessions(t *testing.T) {
	m, fakes := newTestManager(t, ManagerOptions{IdleTimeout: time.Minute})
	ctx := context.Background()

	ended, err := m.CreateSession(ctx, CreateSessionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	endedCLI := nextFake(t, fakes)

	watched, err := m.CreateSession(ctx, CreateSessionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	watchedCLI := nextFake(t, fakes)

	live, err := m.CreateSession(ctx, CreateSessionRequest{})
	if err != nil {
		t.Fatal(err)
	}

	c := watched.AddClient()
	endedCLI.end(nil)
	watchedCLI.end(nil)
	waitFrame(t, c, "session_ended")
	if _, ok := <-c.Send; ok {
		t.Fatal("subscriber should be disconnected when the session ends")
	}

	deadline := time.Now().Add(2 * time.Second)
	for ended.Status() != StatusEnded {
		if time.Now().After(deadline) {
			t.Fatal("session never ended")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Not idle long enough yet.
	m.reapEnded(time.Now())
	if len(m.ListSessions()) != 3 {
		t.Fatalf("reaped too early: %d sessions", len(m.ListSessions()))
	}

	m.reapEnded(time.Now().Add(time.Hour))

	if _, err := m.GetSession(ended.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Error("ended idle session should be reaped")
	}
	if _, err := m.GetSession(watched.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Error("ended session that had a subscriber should be reaped once idle")
	}
	if _, err := m.GetSession(live.ID); err != nil {
		t.Error("active session should be kept")
	}
}

func TestManagerShutdown(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	a, err := m.CreateSession(ctx, CreateSessionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.CreateSession(ctx, CreateSessionRequest{})
	if err != nil {
		t.Fatal(err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if a.Status() != StatusClosed || b.Status() != StatusClosed {
		t.Errorf("statuses = %s, %s", a.Status(), b.Status())
	}
	if len(m.ListSessions()) != 0 {
		t.Error("sessions left after shutdown")
	}
	if _, err := m.CreateSession(ctx, CreateSessionRequest{}); !errors.Is(err, sdk.ErrConnectionClosed) {
		t.Errorf("CreateSession after shutdown = %v", err)
	}
}
