package gateway

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"pigeon/internal/domain"
	"pigeon/internal/services/broker"
	"pigeon/internal/services/relation"
	"pigeon/internal/services/session"
	"pigeon/internal/wire"
)

// Config holds the listener settings.
type Config struct {
	Addr string
}

// Server is the HTTP and websocket front of the central service.
type Server struct {
	app  *fiber.App
	addr string
	log  *slog.Logger

	users     domain.UserStore
	sessions  *session.Service
	relations *relation.Service
	broker    *broker.Service
	registry  *Registry
}

// New builds the server and mounts its routes.
func New(cfg Config, users domain.UserStore, sessions *session.Service, relations *relation.Service, brk *broker.Service, registry *Registry, log *slog.Logger) *Server {
	s := &Server{
		app:       fiber.New(fiber.Config{DisableStartupMessage: true}),
		addr:      cfg.Addr,
		log:       log,
		users:     users,
		sessions:  sessions,
		relations: relations,
		broker:    brk,
		registry:  registry,
	}

	v1 := s.app.Group("/v1")
	v1.Post("/signup", s.handleSignUp)
	v1.Post("/login", s.handleLogin)

	auth := v1.Group("", s.requireAuth)
	auth.Post("/password", s.handlePassword)
	auth.Post("/disconnect", s.handleDisconnect)
	auth.Get("/friends", s.handleFriends)
	auth.Post("/friends/request", s.handleRequest)
	auth.Post("/friends/accept", s.handleAccept)
	auth.Post("/friends/reject", s.handleReject)
	auth.Post("/friends/end", s.handleEnd)
	auth.Post("/chat/initiate", s.handleChatInitiate)
	auth.Get("/ws", s.upgradeWS, websocket.New(s.registry.Handle))

	return s
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen() error {
	s.log.Info("listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// requireAuth resolves the bearer token (or, for websocket upgrades, the
// token query parameter) into a username for the downstream handler.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	raw := c.Query("token")
	if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
		raw = strings.TrimPrefix(header, "Bearer ")
	}
	if raw == "" {
		return writeError(c, domain.ErrInvalidToken)
	}

	username, err := s.sessions.Resolve(domain.SessionToken(raw))
	if err != nil {
		return writeError(c, err)
	}
	c.Locals("username", username)
	c.Locals("token", domain.SessionToken(raw))
	return c.Next()
}

func (s *Server) upgradeWS(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// writeError maps domain sentinels onto the uniform error envelope. Anything
// unrecognised is flattened to an operation failure so internal detail never
// leaves the server.
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		return c.Status(fiber.StatusUnauthorized).JSON(wire.ErrorResponse{
			Error: "invalid or expired session token",
			Kind:  wire.KindInvalidToken,
		})
	case errors.Is(err, domain.ErrAuthentication):
		return c.Status(fiber.StatusUnauthorized).JSON(wire.ErrorResponse{
			Error: "invalid credentials",
			Kind:  wire.KindAuthentication,
		})
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(wire.ErrorResponse{
			Error: err.Error(),
			Kind:  wire.KindRemoteUnavailable,
		})
	case errors.Is(err, domain.ErrOperationFailed):
		return c.Status(fiber.StatusConflict).JSON(wire.ErrorResponse{
			Error: err.Error(),
			Kind:  wire.KindOperationFailed,
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(wire.ErrorResponse{
			Error: "operation failed",
			Kind:  wire.KindOperationFailed,
		})
	}
}
