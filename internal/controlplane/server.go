// Package controlplane exposes the supervisor's HTTP surface: bot lifecycle
// operations, custom command management, broadcast, stats, and health.
//
// The control-plane is thin glue over the manager and the store; all
// lifecycle semantics live in the manager. Mutating routes on an existing
// bot are gated by the bot's operator secret.
package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/botfleet/botfleet/internal/command"
	"github.com/botfleet/botfleet/internal/manager"
	"github.com/botfleet/botfleet/internal/store"
)

// Config holds the collaborators for a Server.
type Config struct {
	Manager  *manager.Manager
	Store    store.Store
	Registry *command.Registry

	// StaticDir optionally serves a dashboard under /dashboard
	StaticDir string
}

// Server is the HTTP control-plane.
type Server struct {
	manager   *manager.Manager
	store     store.Store
	registry  *command.Registry
	staticDir string
}

// New creates a Server.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if cfg.Manager == nil {
		return nil, ErrNilManager
	}
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.Registry == nil {
		return nil, ErrNilRegistry
	}

	return &Server{
		manager:   cfg.Manager,
		store:     cfg.Store,
		registry:  cfg.Registry,
		staticDir: cfg.StaticDir,
	}, nil
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/health", s.handleHealth)
	api.POST("/broadcast", s.handleBroadcast)

	bots := api.Group("/bots")
	bots.GET("", s.handleListBots)
	bots.POST("", s.handleAddBot)

	botID := bots.Group("/:botID")
	botID.GET("", s.handleGetBot)
	botID.DELETE("", s.handleRemoveBot)
	botID.POST("/restart", s.handleRestartBot)
	botID.PUT("/credentials", s.handleUpdateCredentials)
	botID.POST("/verify", s.handleVerifySecret)

	commands := botID.Group("/commands")
	commands.GET("", s.handleListCommands)
	commands.POST("", s.handleCreateCommand)
	commands.GET("/:name", s.handleGetCommand)
	commands.PUT("/:name", s.handleUpdateCommand)
	commands.DELETE("/:name", s.handleDeleteCommand)

	if s.staticDir != "" {
		r.Static("/dashboard", s.staticDir)
		r.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusTemporaryRedirect, "/dashboard")
		})
	}

	return r
}

func ok(c *gin.Context, code int, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	c.JSON(code, payload)
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"success": false, "error": message})
}
