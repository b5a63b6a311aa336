package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/claude-agent-go/claude"
	"github.com/xiaoyuanzhu-com/claude-agent-go/claude/sdk"
	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

const pingInterval = 30 * time.Second

// respondSessionError maps session and SDK errors to HTTP responses.
func respondSessionError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, claude.ErrSessionNotFound):
		RespondNotFound(c, "Session not found")
	case errors.Is(err, claude.ErrPermissionNotFound):
		RespondNotFound(c, "Permission request not found")
	case errors.Is(err, claude.ErrInvalidDecision):
		RespondBadRequest(c, err.Error())
	case errors.Is(err, claude.ErrSessionExists):
		RespondConflict(c, "Session already exists")
	case errors.Is(err, claude.ErrTooManySessions):
		RespondTooManyRequests(c, "Too many sessions")
	case errors.Is(err, sdk.ErrConnectionClosed), errors.Is(err, sdk.ErrNotConnected):
		RespondConflict(c, "Session is closed")
	case errors.Is(err, sdk.ErrCLINotFound):
		RespondServiceUnavailable(c, "Claude CLI not found")
	case errors.Is(err, sdk.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		RespondTimeout(c, "Claude CLI did not respond in time")
	case errors.Is(err, sdk.ErrControlFailed):
		RespondBadGateway(c, err.Error())
	default:
		log.Error().Err(err).Str("sessionId", c.Param("id")).Msg(fallback)
		RespondInternalError(c, fallback)
	}
}

func validPermissionMode(mode sdk.PermissionMode) bool {
	switch mode {
	case sdk.PermissionModeDefault, sdk.PermissionModeAcceptEdits,
		sdk.PermissionModePlan, sdk.PermissionModeBypassPermissions:
		return true
	}
	return false
}

// session looks up the :id session, answering 404 itself when it is missing.
func (h *Handlers) session(c *gin.Context) (*claude.Session, bool) {
	session, err := h.sessions().GetSession(c.Param("id"))
	if err != nil {
		RespondNotFound(c, "Session not found")
		return nil, false
	}
	return session, true
}

// ListClaudeSessions handles GET /api/claude/sessions
func (h *Handlers) ListClaudeSessions(c *gin.Context) {
	sessions := h.sessions().ListSessions()

	result := make([]map[string]any, len(sessions))
	for i, s := range sessions {
		result[i] = s.ToJSON()
	}
	RespondList(c, result)
}

// CreateClaudeSession handles POST /api/claude/sessions
func (h *Handlers) CreateClaudeSession(c *gin.Context) {
	var req claude.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.PermissionMode != "" && !validPermissionMode(req.PermissionMode) {
		RespondBadRequest(c, "Unknown permission mode: "+string(req.PermissionMode))
		return
	}

	session, err := h.sessions().CreateSession(c.Request.Context(), req)
	if err != nil {
		respondSessionError(c, err, "Failed to create session")
		return
	}

	RespondCreated(c, session.ToJSON(), "/api/claude/sessions/"+session.ID)
}

// GetClaudeSession handles GET /api/claude/sessions/:id
func (h *Handlers) GetClaudeSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	data := session.ToJSON()
	if info := session.ServerInfo(); info != nil {
		data["serverInfo"] = info
	}
	RespondData(c, data)
}

// DeleteClaudeSession handles DELETE /api/claude/sessions/:id
func (h *Handlers) DeleteClaudeSession(c *gin.Context) {
	if err := h.sessions().CloseSession(c.Param("id")); err != nil {
		respondSessionError(c, err, "Failed to close session")
		return
	}
	RespondNoContent(c)
}

// SendClaudeMessage handles POST /api/claude/sessions/:id/messages
// Sends a message to a Claude session via HTTP (alternative to WebSocket)
func (h *Handlers) SendClaudeMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.SendMessage(c.Request.Context(), req.Content); err != nil {
		respondSessionError(c, err, "Failed to send message to session")
		return
	}

	log.Info().
		Str("sessionId", session.ID).
		Int("length", len(req.Content)).
		Msg("message sent to claude session via HTTP")

	RespondAccepted(c, gin.H{
		"sessionId": session.ID,
		"status":    "sent",
	})
}

// InterruptClaudeSession handles POST /api/claude/sessions/:id/interrupt
func (h *Handlers) InterruptClaudeSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.Interrupt(c.Request.Context()); err != nil {
		respondSessionError(c, err, "Failed to interrupt session")
		return
	}
	RespondData(c, gin.H{"status": "interrupted"})
}

// SetClaudeModel handles POST /api/claude/sessions/:id/model
// An empty model restores the CLI default.
func (h *Handlers) SetClaudeModel(c *gin.Context) {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.SetModel(c.Request.Context(), req.Model); err != nil {
		respondSessionError(c, err, "Failed to set model")
		return
	}
	RespondData(c, session.ToJSON())
}

// SetClaudePermissionMode handles POST /api/claude/sessions/:id/permission-mode
func (h *Handlers) SetClaudePermissionMode(c *gin.Context) {
	var req struct {
		Mode sdk.PermissionMode `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if !validPermissionMode(req.Mode) {
		RespondBadRequest(c, "Unknown permission mode: "+string(req.Mode))
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.SetPermissionMode(c.Request.Context(), req.Mode); err != nil {
		respondSessionError(c, err, "Failed to set permission mode")
		return
	}
	RespondData(c, session.ToJSON())
}

// RespondClaudePermission handles POST /api/claude/sessions/:id/permissions/:requestId
// Answers a forwarded permission request via HTTP (alternative to WebSocket)
func (h *Handlers) RespondClaudePermission(c *gin.Context) {
	var decision claude.PermissionDecision
	if err := c.ShouldBindJSON(&decision); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.RespondToPermission(c.Param("requestId"), decision); err != nil {
		respondSessionError(c, err, "Failed to answer permission request")
		return
	}
	RespondNoContent(c)
}

// GetClaudeMcpStatus handles GET /api/claude/sessions/:id/mcp-status
func (h *Handlers) GetClaudeMcpStatus(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	status, err := session.McpStatus(c.Request.Context())
	if err != nil {
		respondSessionError(c, err, "Failed to get MCP status")
		return
	}
	RespondData(c, status)
}

// subscribeMessage is a frame sent by a WebSocket subscriber.
type subscribeMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	RequestID string `json:"requestId"`
	claude.PermissionDecision
}

// ClaudeSubscribeWebSocket handles GET /api/claude/sessions/:id/ws
// Streams session frames as text messages. Subscribers may send
// user_message, permission_response and interrupt frames back.
func (h *Handlers) ClaudeSubscribeWebSocket(c *gin.Context) {
	sessionID := c.Param("id")

	session, err := h.sessions().GetSession(sessionID)
	if err != nil {
		log.Debug().Str("sessionId", sessionID).Msg("subscribe: session not found")
		RespondNotFound(c, "Session not found")
		return
	}

	// Get the underlying http.ResponseWriter from Gin's wrapper
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	log.MarkHijacked(c)
	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Skip origin check - auth is handled at higher layer
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("subscribe WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Abort Gin context to prevent middleware from writing headers on hijacked connection
	c.Abort()

	// Gin's request context doesn't cancel when the WebSocket closes
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go func() {
		select {
		case <-h.server.ShutdownContext().Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	client := session.AddClient()
	defer session.RemoveClient(client)

	log.Debug().Str("sessionId", sessionID).Msg("subscribe WebSocket connected")

	// Session → WebSocket
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-client.Send:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "session closed")
					cancel()
					return
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					if ctx.Err() == nil {
						log.Debug().Err(err).Str("sessionId", sessionID).Msg("subscribe WebSocket write failed")
					}
					cancel()
					return
				}
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				if err := conn.Ping(ctx); err != nil {
					log.Debug().Err(err).Msg("WebSocket ping failed")
					return
				}
			}
		}
	}()

	writeError := func(message string) {
		data, _ := json.Marshal(map[string]any{"type": "error", "error": message})
		conn.Write(ctx, websocket.MessageText, data)
	}

	// WebSocket → session
	for {
		msgType, msg, err := conn.Read(ctx)
		if err != nil {
			// Normal closures (page refresh, navigation, switching sessions) → DEBUG
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusGoingAway ||
				closeStatus == websocket.StatusNormalClosure ||
				closeStatus == websocket.StatusNoStatusRcvd {
				log.Debug().Str("sessionId", sessionID).Int("closeStatus", int(closeStatus)).Msg("WebSocket closed normally")
			} else if ctx.Err() == nil {
				log.Info().Err(err).Str("sessionId", sessionID).Msg("subscribe WebSocket read error")
			}
			cancel()
			break
		}

		if msgType != websocket.MessageText {
			log.Debug().Str("sessionId", sessionID).Int("msgType", int(msgType)).Msg("ignoring non-text message")
			continue
		}

		var in subscribeMessage
		if err := json.Unmarshal(msg, &in); err != nil {
			log.Debug().Err(err).Msg("failed to parse subscribe message")
			writeError("Malformed message")
			continue
		}

		switch in.Type {
		case "user_message":
			if err := session.SendMessage(ctx, in.Content); err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to send message to session")
				writeError("Failed to send message to session")
			}

		case "permission_response":
			if err := session.RespondToPermission(in.RequestID, in.PermissionDecision); err != nil {
				log.Debug().Err(err).Str("sessionId", sessionID).Str("requestId", in.RequestID).Msg("permission response rejected")
				writeError(err.Error())
			}

		case "interrupt":
			if err := session.Interrupt(ctx); err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to interrupt session")
				writeError("Failed to interrupt session")
			}

		default:
			log.Debug().Str("type", in.Type).Msg("unknown subscribe message type")
		}
	}

	<-sendDone
	<-pingDone
}
