package api

import (
	"github.com/xiaoyuanzhu-com/claude-agent-go/claude"
	"github.com/xiaoyuanzhu-com/claude-agent-go/server"
)

// Handlers holds references to server components
type Handlers struct {
	server *server.Server
}

// NewHandlers creates a new Handlers instance with server reference
func NewHandlers(srv *server.Server) *Handlers {
	return &Handlers{server: srv}
}

func (h *Handlers) sessions() *claude.Manager {
	return h.server.Claude()
}
