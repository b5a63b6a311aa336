package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/claude-agent-go/claude"
	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

// Server owns and coordinates all application components
type Server struct {
	cfg *Config

	// Components (owned by server)
	claude *claude.Manager

	// Shutdown context - cancelled when server is shutting down.
	// Long-running handlers (WebSocket) should listen to this.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	// HTTP
	router *gin.Engine
	http   *http.Server
}

// New creates a new server with all components initialized
func New(cfg *Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	log.Info().Msg("initializing claude session manager")
	s.claude = claude.NewManager(cfg.ToManagerOptions())

	s.setupRouter()

	log.Info().Msg("server initialized successfully")
	return s
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	// CORS for development
	if s.cfg.IsDevelopment() {
		s.router.Use(s.corsMiddleware())
	}

	// Security headers (production only)
	if !s.cfg.IsDevelopment() {
		s.router.Use(s.securityHeadersMiddleware())
	}

	// The session socket upgrades the connection and must not be compressed.
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{
		`^/api/claude/sessions/[^/]+/ws$`,
	})))

	s.router.SetTrustedProxies(nil)

	s.router.GET("/.well-known/*path", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(s.claude.ListSessions())})
	})

	// Note: API routes are set up by the api package to avoid import cycles
}

// corsMiddleware handles CORS for development environments
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			fmt.Sprintf("http://localhost:%d", s.cfg.Port): true,
			"http://localhost:5173":                         true,
		}

		if allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// securityHeadersMiddleware adds security headers for production
func (s *Server) securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:     fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:  s.router,
		ErrorLog: log.StdErrorLogger(), // Route Go's internal HTTP errors through zerolog
	}

	log.Info().
		Str("addr", s.http.Addr).
		Str("env", s.cfg.Env).
		Msg("HTTP server starting")

	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	// Signal session sockets first so they close before the HTTP server waits on them.
	s.shutdownCancel()
	s.claude.SignalShutdown()

	// Give handlers a moment to process the cancellation and close connections.
	time.Sleep(100 * time.Millisecond)

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// CLI processes last: each gets an interrupt before being killed.
	if err := s.claude.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("claude manager shutdown error")
		return err
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// Component accessors for API handlers
func (s *Server) Claude() *claude.Manager          { return s.claude }
func (s *Server) Router() *gin.Engine              { return s.router }
func (s *Server) ShutdownContext() context.Context { return s.shutdownCtx }
