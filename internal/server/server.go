// Package server exposes the chat API over HTTP: session issuance, the chat
// endpoint itself, suggestions, and the operational surface (tools, metrics,
// health). It owns the registry of per-session agents; the stores, LLM client
// and tracer behind them are shared and injected.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/database-ai/internal/agent"
	"github.com/seanankenbruck/database-ai/internal/auth"
	"github.com/seanankenbruck/database-ai/internal/llm"
	"github.com/seanankenbruck/database-ai/internal/observability"
	"github.com/seanankenbruck/database-ai/internal/session"
	"github.com/seanankenbruck/database-ai/internal/store"
	"github.com/seanankenbruck/database-ai/internal/trace"
)

// Dispatcher is the slice of the store layer the HTTP surface uses directly.
// *store.Dispatcher satisfies it.
type Dispatcher interface {
	agent.Executor
	Tools() []store.Tool
	Ping(ctx context.Context, kind store.Kind) error
}

// Config carries the assembled dependencies for the HTTP server
type Config struct {
	Dispatcher Dispatcher
	LLM        llm.Client
	Memory     agent.Memory
	Tracer     *trace.Tracer
	Auth       *auth.Authenticator
	Sessions   *session.Manager
	Health     *observability.HealthChecker

	MaxRows          int
	BlockedSQL       []string
	AgentIdleTimeout time.Duration
}

// Server hosts the chat API and the per-session agents behind it
type Server struct {
	cfg    Config
	logger *observability.Logger

	mutex  sync.Mutex
	agents map[string]*agentEntry
}

// New creates a Server and starts the janitor that evicts idle agents
func New(cfg Config) *Server {
	if cfg.AgentIdleTimeout <= 0 {
		cfg.AgentIdleTimeout = 30 * time.Minute
	}

	s := &Server{
		cfg:    cfg,
		logger: observability.NewLogger("server"),
		agents: make(map[string]*agentEntry),
	}

	go s.janitorLoop()

	return s
}

// SetupRoutes configures the gin engine with middleware and all routes
func (s *Server) SetupRoutes() *gin.Engine {
	r := gin.New()

	r.Use(observability.RecoveryMiddleware(s.logger))
	r.Use(observability.RequestLoggingMiddleware(s.logger))
	r.Use(observability.CORSWithLogging(s.logger))

	// Public operational endpoints
	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)

	// Key-authenticated routes
	api := r.Group("/api/v1")
	api.Use(s.cfg.Auth.RequireAPIKey())
	{
		api.POST("/sessions", s.handleCreateSession)
		api.GET("/suggestions", s.handleSuggestions)
		api.GET("/tools", s.handleTools)
	}

	// Session-token routes
	chat := r.Group("/api/v1")
	chat.Use(s.cfg.Auth.RequireSession())
	{
		chat.POST("/chat", s.handleChat)
		chat.DELETE("/history", s.handleClearHistory)
		chat.DELETE("/sessions", s.handleDeleteSession)
	}

	// Admin surface
	admin := r.Group("/api/v1")
	admin.Use(s.cfg.Auth.RequireAdmin())
	{
		admin.GET("/metrics", s.handleMetrics)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.cfg.Health != nil {
		response := s.cfg.Health.GetHealthResponse(c.Request.Context())
		statusCode := http.StatusOK
		if response.Status == observability.HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, response)
		return
	}

	// Fallback for when no health checker is configured
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "database-agent",
	})
}

// handleReady reports whether the configured stores answer pings. A server
// with no stores at all is not ready.
func (s *Server) handleReady(c *gin.Context) {
	ctx := c.Request.Context()

	available := s.cfg.Dispatcher.Available(ctx)
	ready := len(available) > 0
	stores := gin.H{}
	for _, kind := range available {
		if err := s.cfg.Dispatcher.Ping(ctx, kind); err != nil {
			stores[string(kind)] = err.Error()
			ready = false
			continue
		}
		stores[string(kind)] = "ok"
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":  ready,
		"stores": stores,
	})
}
