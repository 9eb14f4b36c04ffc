package server

import (
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/internal/engine"
	"github.com/cascadeci/cascade/internal/restraint"
	"github.com/cascadeci/cascade/internal/waitnotify"
	"github.com/cascadeci/cascade/pkg/util"
)

// Server implements the HTTP API for the orchestration engine
type Server struct {
	engine    *engine.Engine
	wait      *waitnotify.Engine
	restraint *restraint.Scheduler
	eventHub  timebox.EventHub
	sockets   util.Set[*Client]
	mu        sync.Mutex
}

// NewServer creates a new HTTP API server
func NewServer(
	eng *engine.Engine, wait *waitnotify.Engine,
	sched *restraint.Scheduler, hub timebox.EventHub,
) *Server {
	return &Server{
		engine:    eng,
		wait:      wait,
		restraint: sched,
		eventHub:  hub,
		sockets:   util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API
// endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	// Callback webhooks for external workers
	router.POST("/callback/:correlationID/done", s.handleDoneWith)
	router.POST("/callback/:correlationID/progress", s.handleProgress)

	eng := router.Group("/engine")
	{
		// Plan execution endpoints
		eng.POST("/plan", s.startPlan)
		eng.GET("/plan/:planID", s.getPlan)
		eng.POST("/plan/:planID/interrupt", s.registerInterrupt)

		// Node execution endpoints
		eng.GET("/node/:nodeID", s.getNode)

		// Inbound SDK events
		eng.POST("/event", s.handleSdkEvent)

		// Restraint inspection
		eng.GET("/restraint/:restraintID/unit/:unit", s.getRestraintUnit)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := s.sockets.Members()
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
