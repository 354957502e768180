// Package server exposes a running engine over HTTP: register snapshots,
// the command list, intent submission, reconfiguration and a websocket
// stream of frames that also accepts intents and pings.
package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hub"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
	"github.com/fenghuanghao1986/NAO-engine/pkg/journal"
)

// DefaultReplyTimeout bounds how long POST /api/intents waits for the frame
// that processes the intent.
const DefaultReplyTimeout = 2 * time.Second

// Engine is what the server needs from the control module.
type Engine interface {
	Snapshot() *control.Snapshot
	Commands() []control.Command
	Submit(intent.Intent) error
	Reconfigure(path string, id uint16) error
}

// Journal lists recorded frames.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config configures a Server.
type Config struct {
	Addr         string
	ReplyTimeout time.Duration
	// Journal enables GET /api/frames when set.
	Journal Journal
	Logger  *slog.Logger
}

// Server is the HTTP and websocket front end.
type Server struct {
	app          *fiber.App
	addr         string
	engine       Engine
	journal      Journal
	frames       *hub.Hub
	replyTimeout time.Duration
	logger       *slog.Logger
}

// New builds the server. Register Frames() as a frame observer so websocket
// clients receive frames.
func New(engine Engine, cfg Config) *Server {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	logger := log.Or(cfg.Logger).With("component", "server")
	s := &Server{
		addr:         cfg.Addr,
		engine:       engine,
		journal:      cfg.Journal,
		frames:       hub.New("frames", logger),
		replyTimeout: cfg.ReplyTimeout,
		logger:       logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "naoengine",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/registers", s.handleRegisters)
	api.Get("/registers/:component", s.handleRegister)
	api.Get("/commands", s.handleCommands)
	api.Post("/intents", s.handleSubmit)
	api.Post("/reconfigure", s.handleReconfigure)
	api.Get("/frames", s.handleFrames)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))

	s.app = app
	return s
}

// Frames returns the hub frames are broadcast through.
func (s *Server) Frames() *hub.Hub { return s.frames }

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	go s.frames.Run()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Announce sends the current state and command list to every websocket
// client. Call it after reconfiguring the engine directly.
func (s *Server) Announce() error {
	return s.announce(s.engine.Snapshot())
}

// Shutdown disconnects websocket clients and stops the listener.
func (s *Server) Shutdown() error {
	s.frames.Stop()
	return s.app.Shutdown()
}
