package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pigeon/internal/domain"
	"pigeon/internal/wire"
)

// TunnelServer hosts the local inbound tunnels: unguessable per-conversation
// endpoints a peer posts encrypted payloads to. A closed tunnel answers 404,
// which is all an outsider ever learns from probing.
type TunnelServer struct {
	app       *fiber.App
	addr      string
	advertise string
	log       *slog.Logger

	mu     sync.Mutex
	routes map[string]string // tunnel id to peer username

	deliver func(from string, payload []byte)
}

// NewTunnelServer builds the local tunnel host. addr is the local listen
// address and advertise the base URL peers can reach it at; deliver receives
// every inbound payload together with the peer the tunnel was opened for.
func NewTunnelServer(addr, advertise string, deliver func(from string, payload []byte), log *slog.Logger) *TunnelServer {
	s := &TunnelServer{
		app:       fiber.New(fiber.Config{DisableStartupMessage: true}),
		addr:      addr,
		advertise: advertise,
		log:       log,
		routes:    make(map[string]string),
		deliver:   deliver,
	}
	s.app.Post("/tunnel/:id", s.handleInbound)
	return s
}

// Start serves the tunnels in the background.
func (s *TunnelServer) Start() {
	go func() {
		if err := s.app.Listen(s.addr); err != nil {
			s.log.Error("tunnel listener stopped", "addr", s.addr, "error", err)
		}
	}()
}

// Shutdown stops the listener and drops every open tunnel.
func (s *TunnelServer) Shutdown() error {
	s.mu.Lock()
	s.routes = make(map[string]string)
	s.mu.Unlock()
	return s.app.Shutdown()
}

// Open creates a fresh inbound tunnel bound to peer and returns the handle to
// hand out.
func (s *TunnelServer) Open(peer string) domain.TunnelHandle {
	id := uuid.NewString()
	s.mu.Lock()
	s.routes[id] = peer
	s.mu.Unlock()
	return domain.TunnelHandle{URL: s.advertise + "/tunnel/" + id}
}

// CloseFor tears down every tunnel opened for peer. Payloads arriving
// afterwards are refused.
func (s *TunnelServer) CloseFor(peer string) {
	s.mu.Lock()
	for id, owner := range s.routes {
		if owner == peer {
			delete(s.routes, id)
		}
	}
	s.mu.Unlock()
}

// CloseAll tears down every open tunnel.
func (s *TunnelServer) CloseAll() {
	s.mu.Lock()
	s.routes = make(map[string]string)
	s.mu.Unlock()
}

func (s *TunnelServer) handleInbound(c *fiber.Ctx) error {
	s.mu.Lock()
	peer, ok := s.routes[c.Params("id")]
	s.mu.Unlock()
	if !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}

	var msg wire.Message
	if err := c.BodyParser(&msg); err != nil || len(msg.Payload) == 0 {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	s.deliver(peer, msg.Payload)
	return c.SendStatus(fiber.StatusNoContent)
}

// PushPayload posts an encrypted payload to a peer's tunnel. A 404 means the
// peer has closed the tunnel.
func PushPayload(httpc *http.Client, tunnel domain.TunnelHandle, payload []byte) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(wire.Message{Payload: payload}); err != nil {
		return err
	}
	resp, err := httpc.Post(tunnel.URL, "application/json", buf)
	if err != nil {
		return fmt.Errorf("push to tunnel: %v: %w", err, domain.ErrRemoteUnavailable)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("tunnel closed by peer: %w", domain.ErrTunnel)
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("tunnel push refused: %s: %w", resp.Status, domain.ErrRemoteUnavailable)
	}
	return nil
}
