package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")

	// Claude sessions
	api.GET("/claude/sessions", h.ListClaudeSessions)
	api.POST("/claude/sessions", h.CreateClaudeSession)
	api.GET("/claude/sessions/:id", h.GetClaudeSession)
	api.DELETE("/claude/sessions/:id", h.DeleteClaudeSession)
	api.POST("/claude/sessions/:id/messages", h.SendClaudeMessage)
	api.POST("/claude/sessions/:id/interrupt", h.InterruptClaudeSession)
	api.POST("/claude/sessions/:id/model", h.SetClaudeModel)
	api.POST("/claude/sessions/:id/permission-mode", h.SetClaudePermissionMode)
	api.POST("/claude/sessions/:id/permissions/:requestId", h.RespondClaudePermission)
	api.GET("/claude/sessions/:id/mcp-status", h.GetClaudeMcpStatus)
	api.GET("/claude/sessions/:id/ws", h.ClaudeSubscribeWebSocket)
}
