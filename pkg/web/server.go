// Package web exposes the HTTP surface of the voice agent: the telephony
// webhook and media-stream WebSocket, monitor endpoints, health and
// Prometheus metrics.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordelio/go-ordelio/internal/store"
	"github.com/ordelio/go-ordelio/pkg/call"
	"github.com/ordelio/go-ordelio/pkg/hub"
	"github.com/ordelio/go-ordelio/pkg/telephony"
)

// Config for the HTTP server.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string

	// PublicHost is the externally reachable host used when building the
	// media-stream WebSocket URL handed to the telephony provider.
	PublicHost string
}

// Deps wires the server. Store may be nil in degraded setups; the
// endpoints that need it report accordingly.
type Deps struct {
	Coordinator *call.Coordinator
	Registry    *call.Registry
	Store       *store.Store
	Monitor     *hub.Hub
}

// Server is the HTTP and WebSocket front of the voice agent.
type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// NewServer builds the fiber app and registers all routes.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "ordelio",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	app.Get("/", s.handleRoot)
	app.Get("/health", s.handleHealth)
	app.Get("/calls", s.handleCalls)
	app.Get("/restaurants", s.handleRestaurants)
	app.Post("/voice", s.handleVoice)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/voice/:callSid", websocket.New(s.handleVoiceWS))
	app.Get("/ws/monitor", websocket.New(s.handleMonitorWS))

	s.app = app
	return s
}

// Start runs the monitor hub and listens for connections. Blocks until
// shutdown.
func (s *Server) Start() error {
	if s.deps.Monitor != nil {
		go s.deps.Monitor.Run()
	}
	s.logger.Info("listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "ordelio",
	})
}

// handleHealth reports service and dependency status.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":       "healthy",
		"timestamp":    time.Now().Format(time.RFC3339),
		"active_calls": s.deps.Registry.Count(),
	}

	if s.deps.Store == nil {
		resp["status"] = "degraded"
		resp["database"] = "not configured"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}

	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	count, err := s.deps.Store.ActiveRestaurantCount(ctx)
	if err != nil {
		s.logger.Warn("health check database error", "error", err)
		resp["status"] = "degraded"
		resp["database"] = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	resp["restaurants"] = count
	return c.JSON(resp)
}

// handleCalls lists active call sessions.
func (s *Server) handleCalls(c *fiber.Ctx) error {
	snaps := s.deps.Registry.Snapshots()
	return c.JSON(fiber.Map{
		"active_calls": len(snaps),
		"calls":        snaps,
	})
}

// handleRestaurants lists configured restaurants.
func (s *Server) handleRestaurants(c *fiber.Ctx) error {
	if s.deps.Store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "database not configured")
	}

	restaurants, err := s.deps.Store.Restaurants(c.Context())
	if err != nil {
		s.logger.Error("list restaurants failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "database error")
	}
	return c.JSON(fiber.Map{
		"count":       len(restaurants),
		"restaurants": restaurants,
	})
}

// handleVoice is the inbound-call webhook. It answers with the stream
// verb that bridges call audio onto our WebSocket, carrying the called
// number as a custom parameter for restaurant routing.
func (s *Server) handleVoice(c *fiber.Ctx) error {
	callSid := c.FormValue("CallSid")
	if callSid == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing CallSid")
	}
	called := c.FormValue("To")

	wsURL := fmt.Sprintf("wss://%s/ws/voice/%s", s.cfg.PublicHost, callSid)
	body, err := telephony.StreamResponse(wsURL, map[string]string{"called": called})
	if err != nil {
		s.logger.Error("stream response build failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "response build failed")
	}

	s.logger.Info("inbound call", "call_sid", callSid, "called", called)
	c.Set(fiber.HeaderContentType, "application/xml")
	return c.Send(body)
}

// handleVoiceWS runs the conversation loop for one call. Blocks for the
// call's lifetime on the connection's goroutine.
func (s *Server) handleVoiceWS(conn *websocket.Conn) {
	defer conn.Close()

	callSid := conn.Params("callSid")
	if err := s.deps.Coordinator.Handle(context.Background(), conn); err != nil {
		s.logger.Warn("call handler returned error", "call_sid", callSid, "error", err)
	}
}

// handleMonitorWS attaches a monitor client to the event hub.
func (s *Server) handleMonitorWS(conn *websocket.Conn) {
	if s.deps.Monitor == nil {
		conn.Close()
		return
	}
	client := hub.NewClient(s.deps.Monitor, conn)
	client.Run()
}
