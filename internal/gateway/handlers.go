package gateway

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"pigeon/internal/crypto"
	"pigeon/internal/domain"
	"pigeon/internal/wire"
)

func (s *Server) handleSignUp(c *fiber.Ctx) error {
	var creds wire.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return writeError(c, fmt.Errorf("malformed body: %w", domain.ErrOperationFailed))
	}
	if creds.Username == "" || creds.Password == "" {
		return writeError(c, fmt.Errorf("username and password are required: %w", domain.ErrOperationFailed))
	}

	hash, salt := crypto.HashPassword(creds.Password)
	if err := s.users.CreateUser(c.UserContext(), creds.Username, hash, salt); err != nil {
		return writeError(c, fmt.Errorf("sign up %q: %w", creds.Username, errOp(err)))
	}

	// A fresh account is immediately logged in.
	token, err := s.sessions.Initiate(creds.Username)
	if err != nil {
		return writeError(c, err)
	}
	s.log.Info("user signed up", "user", creds.Username)
	return c.Status(fiber.StatusCreated).JSON(wire.TokenResponse{Token: token.String()})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var creds wire.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return writeError(c, fmt.Errorf("malformed body: %w", domain.ErrOperationFailed))
	}

	user, err := s.users.GetUser(c.UserContext(), creds.Username)
	if err != nil {
		return writeError(c, domain.ErrAuthentication)
	}
	if !crypto.VerifyPassword(creds.Password, user.PasswordSalt, user.PasswordHash) {
		return writeError(c, domain.ErrAuthentication)
	}

	token, err := s.sessions.Initiate(creds.Username)
	if err != nil {
		return writeError(c, err)
	}
	s.log.Info("user logged in", "user", creds.Username)
	return c.JSON(wire.TokenResponse{Token: token.String()})
}

func (s *Server) handlePassword(c *fiber.Ctx) error {
	me := c.Locals("username").(string)

	var change wire.PasswordChange
	if err := c.BodyParser(&change); err != nil {
		return writeError(c, fmt.Errorf("malformed body: %w", domain.ErrOperationFailed))
	}
	if change.New == "" {
		return writeError(c, fmt.Errorf("new password is required: %w", domain.ErrOperationFailed))
	}

	user, err := s.users.GetUser(c.UserContext(), me)
	if err != nil {
		return writeError(c, errOp(err))
	}
	if !crypto.VerifyPassword(change.Current, user.PasswordSalt, user.PasswordHash) {
		return writeError(c, domain.ErrAuthentication)
	}

	hash, salt := crypto.HashPassword(change.New)
	if err := s.users.UpdatePassword(c.UserContext(), me, hash, salt); err != nil {
		return writeError(c, errOp(err))
	}
	s.log.Info("password updated", "user", me)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleDisconnect ends the session: friends learn DISCONNECTED, the token
// stops verifying, and the push channel is torn down, in that order.
func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	me := c.Locals("username").(string)
	token := c.Locals("token").(domain.SessionToken)

	s.relations.HandleDisconnect(c.UserContext(), me)
	if _, err := s.sessions.Terminate(token); err != nil {
		return writeError(c, err)
	}
	s.registry.Drop(me)

	s.log.Info("user disconnected", "user", me)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleFriends(c *fiber.Ctx) error {
	me := c.Locals("username").(string)

	filter := domain.StatusType(c.Query("status"))
	if filter != "" && !filter.Valid() {
		return writeError(c, fmt.Errorf("unknown status %q: %w", filter, domain.ErrOperationFailed))
	}

	users, err := s.relations.Friends(c.UserContext(), me, filter)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(users)
}

func (s *Server) handleRequest(c *fiber.Ctx) error {
	me, peer, err := s.peerRequest(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.relations.Request(c.UserContext(), me, peer); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleAccept(c *fiber.Ctx) error {
	me, peer, err := s.peerRequest(c)
	if err != nil {
		return writeError(c, err)
	}
	online, err := s.relations.Accept(c.UserContext(), me, peer)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(wire.AcceptResponse{Online: online})
}

func (s *Server) handleReject(c *fiber.Ctx) error {
	me, peer, err := s.peerRequest(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.relations.Reject(c.UserContext(), me, peer); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleEnd(c *fiber.Ctx) error {
	me, peer, err := s.peerRequest(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.relations.End(c.UserContext(), me, peer); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleChatInitiate(c *fiber.Ctx) error {
	me := c.Locals("username").(string)

	var req wire.ChatInitiate
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fmt.Errorf("malformed body: %w", domain.ErrOperationFailed))
	}
	if req.Username == "" || req.Tunnel.Zero() || len(req.PublicKey) == 0 {
		return writeError(c, fmt.Errorf("username, tunnel and public key are required: %w", domain.ErrOperationFailed))
	}

	data, err := s.broker.InitiateChat(c.UserContext(), me, req.Username, req.Tunnel, req.PublicKey)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(wire.ChatGrant{Tunnel: data.Tunnel, WrappedKey: data.WrappedKey})
}

// errOp marks store errors as operation failures while keeping the store
// sentinel matchable.
func errOp(err error) error {
	if errors.Is(err, domain.ErrOperationFailed) {
		return err
	}
	return errors.Join(domain.ErrOperationFailed, err)
}

func (s *Server) peerRequest(c *fiber.Ctx) (me, peer string, err error) {
	me = c.Locals("username").(string)

	var req wire.UsernameRequest
	if err := c.BodyParser(&req); err != nil {
		return "", "", fmt.Errorf("malformed body: %w", domain.ErrOperationFailed)
	}
	if req.Username == "" {
		return "", "", fmt.Errorf("username is required: %w", domain.ErrOperationFailed)
	}
	return me, req.Username, nil
}
