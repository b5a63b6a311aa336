package claude

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk"
	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk/transport"
	"github.com/xiaoyuanzhu-com/claude-agent-go/config"
	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrTooManySessions = errors.New("too many sessions")
)

const MaxSessions = 10

// defaultIdleTimeout is how long an ended session with no subscribers stays listed.
const defaultIdleTimeout = 10 * time.Minute

// Tools that are never allowed unless the caller supplies its own deny list.
var defaultDisallowedTools = []string{
	"Bash(rm -rf *)",
	"Bash(sudo *)",
}

// TransportFactory builds the CLI connection for a session. Tests use it to
// substitute an in-memory transport.
type TransportFactory func(options sdk.ClaudeAgentOptions) (transport.Transport, error)

// ManagerOptions configures a Manager. Zero values fall back to config.
type ManagerOptions struct {
	NewTransport      TransportFactory
	PermissionTimeout time.Duration
	MaxSessions       int
	IdleTimeout       time.Duration
}

// CreateSessionRequest describes a new bridged session.
type CreateSessionRequest struct {
	WorkingDir      string             `json:"workingDir"`
	Title           string             `json:"title"`
	Model           string             `json:"model"`
	PermissionMode  sdk.PermissionMode `json:"permissionMode"`
	SystemPrompt    string             `json:"systemPrompt"`
	AllowedTools    []string           `json:"allowedTools"`
	DisallowedTools []string           `json:"disallowedTools"`
	MaxTurns        *int               `json:"maxTurns"`
	ResumeSessionID string             `json:"resumeSessionId"`
	Prompt          string             `json:"prompt"`
}

// Manager owns every bridged session and the CLI processes behind them.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	newTransport      TransportFactory
	permissionTimeout time.Duration
	maxSessions       int
	idleTimeout       time.Duration

	// Context for graceful shutdown; CLI processes live as long as it does.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager and starts its cleanup worker.
func NewManager(opts ManagerOptions) *Manager {
	cfg := config.Get()
	if opts.PermissionTimeout <= 0 {
		opts.PermissionTimeout = cfg.PermissionTimeout
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = MaxSessions
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		sessions:          make(map[string]*Session),
		newTransport:      opts.NewTransport,
		permissionTimeout: opts.PermissionTimeout,
		maxSessions:       opts.MaxSessions,
		idleTimeout:       opts.IdleTimeout,
		ctx:               ctx,
		cancel:            cancel,
	}

	m.wg.Add(1)
	go m.cleanupWorker()

	return m
}

// CreateSession starts a CLI process for a new (or resumed) conversation.
// The process outlives ctx; ctx bounds only the initial prompt.
func (m *Manager) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	cfg := config.Get()

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return nil, sdk.ErrConnectionClosed
	}
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}

	sessionID := req.ResumeSessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if _, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return nil, ErrSessionExists
	}

	workingDir := req.WorkingDir
	if workingDir == "" {
		workingDir = cfg.ClaudeWorkingDir
	}

	title := req.Title
	if title == "" {
		if req.ResumeSessionID != "" {
			title = "Resumed Session"
		} else {
			title = fmt.Sprintf("Session %d", len(m.sessions)+1)
		}
	}

	mode := req.PermissionMode
	if mode == "" {
		mode = sdk.PermissionModeDefault
	}

	session := newSession(sessionID, workingDir, title, mode, m.permissionTimeout)
	session.Model = req.Model
	m.sessions[sessionID] = session
	m.mu.Unlock()

	client, err := m.connect(session, req)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		log.Error().Err(err).Str("sessionId", sessionID).Str("workingDir", workingDir).Msg("failed to create claude session")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	session.mu.Lock()
	session.client = client
	session.status = StatusActive
	session.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		session.forwardMessages(client)
	}()

	log.Info().
		Str("sessionId", sessionID).
		Str("workingDir", workingDir).
		Bool("resume", req.ResumeSessionID != "").
		Msg("created claude session")

	if req.Prompt != "" {
		if err := session.SendMessage(ctx, req.Prompt); err != nil {
			m.CloseSession(sessionID)
			return nil, fmt.Errorf("failed to send initial prompt: %w", err)
		}
	}

	return session, nil
}

func (m *Manager) connect(session *Session, req CreateSessionRequest) (*sdk.ClaudeSDKClient, error) {
	cfg := config.Get()

	disallowed := req.DisallowedTools
	if disallowed == nil {
		disallowed = defaultDisallowedTools
	}

	options := sdk.ClaudeAgentOptions{
		Cwd:                    session.WorkingDir,
		CliPath:                cfg.ClaudeCLIPath,
		Model:                  req.Model,
		PermissionMode:         session.PermissionMode,
		SystemPrompt:           req.SystemPrompt,
		AllowedTools:           req.AllowedTools,
		DisallowedTools:        disallowed,
		MaxTurns:               req.MaxTurns,
		PermissionHandler:      session,
		IncludePartialMessages: true,
		Stderr: func(line string) {
			log.Debug().Str("sessionId", session.ID).Str("stderr", strings.TrimSpace(line)).Msg("claude cli")
		},
	}

	if req.ResumeSessionID != "" {
		options.Resume = session.ID
	} else {
		sessionIDValue := session.ID
		options.ExtraArgs = map[string]*string{
			"session-id": &sessionIDValue,
		}
	}

	var client *sdk.ClaudeSDKClient
	if m.newTransport != nil {
		t, err := m.newTransport(options)
		if err != nil {
			return nil, err
		}
		client = sdk.NewClaudeSDKClientWithTransport(options, t)
	} else {
		client = sdk.NewClaudeSDKClient(options)
	}

	if err := client.Connect(m.ctx, ""); err != nil {
		return nil, err
	}
	return client, nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns all sessions, newest first
func (m *Manager) ListSessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return sessions
}

// CloseSession stops a session's CLI and removes it.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	err := session.close()
	log.Info().Str("sessionId", id).Msg("closed claude session")
	return err
}

// SignalShutdown marks every CLI as shutting down so its exit is not reported as an error.
func (m *Manager) SignalShutdown() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, session := range m.sessions {
		session.signalShutdown()
	}
}

// Shutdown closes every session and waits for their goroutines.
func (m *Manager) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down Claude manager")

	m.SignalShutdown()
	m.cancel()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var closeWg sync.WaitGroup
	for id, session := range sessions {
		closeWg.Add(1)
		go func() {
			defer closeWg.Done()
			if err := session.close(); err != nil {
				log.Debug().Err(err).Str("sessionId", id).Msg("error closing session during shutdown")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		closeWg.Wait()
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Claude manager shutdown complete")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("Claude manager shutdown timed out")
		return ctx.Err()
	}
}

// cleanupWorker periodically removes ended sessions nobody is watching.
func (m *Manager) cleanupWorker() {
	defer m.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			log.Debug().Msg("cleanup worker stopping")
			return
		case now := <-ticker.C:
			m.reapEnded(now)
		}
	}
}

func (m *Manager) reapEnded(now time.Time) {
	var stale []string

	m.mu.RLock()
	for id, session := range m.sessions {
		if session.Status() != StatusEnded || session.ClientCount() > 0 {
			continue
		}
		if now.Sub(session.LastActivity()) > m.idleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		log.Info().Str("sessionId", id).Msg("cleaning up ended session")
		m.CloseSession(id)
	}
}
