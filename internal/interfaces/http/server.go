package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/agentrt/core/internal/application/usecase"
	"github.com/agentrt/core/internal/domain/service"
	"github.com/agentrt/core/internal/infrastructure/monitoring"
	"github.com/agentrt/core/internal/infrastructure/plugin"
	"github.com/agentrt/core/internal/infrastructure/prompt"
	"github.com/agentrt/core/internal/interfaces/http/handlers"
	"go.uber.org/zap"
)

// monitorAdapter narrows *monitoring.Monitor to the handlers.Monitor interface.
type monitorAdapter struct{ m *monitoring.Monitor }

func (a monitorAdapter) GetStats() map[string]interface{} { return a.m.GetStats() }

func (a monitorAdapter) GetHistory() []interface{} {
	snapshots := a.m.GetHistory()
	out := make([]interface{}, len(snapshots))
	for i, s := range snapshots {
		out[i] = s
	}
	return out
}

func (a monitorAdapter) GetDashboardData() interface{} { return a.m.GetDashboardData() }

// pluginLoaderAdapter narrows *plugin.Loader to the handlers.PluginLoader interface.
type pluginLoaderAdapter struct{ l *plugin.Loader }

func (a pluginLoaderAdapter) List() []interface{} {
	metas := a.l.List()
	out := make([]interface{}, len(metas))
	for i, m := range metas {
		out[i] = m
	}
	return out
}

func (a pluginLoaderAdapter) Get(name string) (interface{}, bool) {
	p, ok := a.l.Get(name)
	if !ok {
		return nil, false
	}
	return p, true
}

// Server wraps the gin-based HTTP API.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds the HTTP server's bind address and gin mode.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// NewServer builds the HTTP server and wires up its routes. monitor and
// pluginLoader are optional (nil disables the corresponding debug routes).
func NewServer(cfg Config, uc *usecase.ProcessMessageUseCase, agentLoop *service.AgentLoop, toolExec service.ToolExecutor, promptEngine *prompt.PromptEngine, monitor *monitoring.Monitor, pluginLoader *plugin.Loader, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	messageHandler := handlers.NewMessageHandler(uc, logger)
	openaiHandler := handlers.NewOpenAIHandler(uc, logger, nil)
	var agentHandler *handlers.AgentHandler
	if agentLoop != nil {
		agentHandler = handlers.NewAgentHandler(agentLoop, toolExec, promptEngine, logger)
	}

	var debugHandler *handlers.DebugHandler
	if monitor != nil {
		var pl handlers.PluginLoader
		if pluginLoader != nil {
			pl = pluginLoaderAdapter{l: pluginLoader}
		}
		debugHandler = handlers.NewDebugHandler(monitorAdapter{m: monitor}, pl, nil, logger)
	}

	setupRoutes(router, messageHandler, openaiHandler, agentHandler, debugHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start launches the server in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes.
func setupRoutes(router *gin.Engine, messageHandler *handlers.MessageHandler, openaiHandler *handlers.OpenAIHandler, agentHandler *handlers.AgentHandler, debugHandler *handlers.DebugHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message": "pong",
			})
		})

		v1.POST("/messages", messageHandler.SendMessage)

		// Agent Loop endpoints (SSE streaming)
		if agentHandler != nil {
			v1.POST("/agent", agentHandler.RunAgent)
			v1.GET("/agent/tools", agentHandler.GetTools)
		}

		if debugHandler != nil {
			handlers.RegisterDebugRoutes(v1, debugHandler)
		}
	}

	// OpenAI-compatible API
	oai := router.Group("/v1")
	{
		oai.POST("/chat/completions", openaiHandler.ChatCompletions)
		oai.GET("/models", openaiHandler.ListModels)
	}
}

// ginLogger logs each request via zap.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
