package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"pigeon/internal/domain"
	"pigeon/internal/wire"
)

// Registry tracks the live push channel of every connected user and
// implements domain.Notifier on top of them. One websocket per user: a new
// connection for a username displaces the previous one, mirroring the
// one-valid-session rule of the session layer.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	conns   map[string]*conn
	pending map[string]chan wire.Frame

	// Session lifecycle hooks, set once during wiring. Called when a push
	// channel attaches or drops.
	onConnect    func(ctx context.Context, username string)
	onDisconnect func(ctx context.Context, username string)
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex // serialises writes
}

func (c *conn) writeFrame(f wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		conns:   make(map[string]*conn),
		pending: make(map[string]chan wire.Frame),
	}
}

// SetSessionHooks wires the presence fan-out callbacks. Must be called
// before the first connection is served.
func (r *Registry) SetSessionHooks(onConnect, onDisconnect func(ctx context.Context, username string)) {
	r.onConnect = onConnect
	r.onDisconnect = onDisconnect
}

// Handle serves one client's push channel until it closes. The username has
// been resolved by the auth middleware before the upgrade.
func (r *Registry) Handle(ws *websocket.Conn) {
	username, _ := ws.Locals("username").(string)
	if username == "" {
		_ = ws.Close()
		return
	}

	c := &conn{ws: ws}
	r.mu.Lock()
	if prior, ok := r.conns[username]; ok {
		_ = prior.ws.Close()
	}
	r.conns[username] = c
	r.mu.Unlock()

	r.log.Info("push channel attached", "user", username)
	if r.onConnect != nil {
		r.onConnect(context.Background(), username)
	}

	for {
		var frame wire.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			break
		}
		switch frame.Type {
		case wire.FrameChatReply, wire.FrameChatError:
			r.deliverReply(frame)
		default:
			r.log.Warn("unexpected frame from client", "user", username, "type", frame.Type)
		}
	}

	// Only the connection that is still current tears the session down; a
	// displaced connection must not announce the new one as offline.
	r.mu.Lock()
	current := r.conns[username] == c
	if current {
		delete(r.conns, username)
	}
	r.mu.Unlock()

	if current {
		r.log.Info("push channel dropped", "user", username)
		if r.onDisconnect != nil {
			r.onDisconnect(context.Background(), username)
		}
	}
}

// Drop closes and forgets the user's push channel without firing the
// disconnect hook. Used by the explicit disconnect flow, which has already
// announced the departure.
func (r *Registry) Drop(username string) {
	r.mu.Lock()
	c, ok := r.conns[username]
	if ok {
		delete(r.conns, username)
	}
	r.mu.Unlock()
	if ok {
		_ = c.ws.Close()
	}
}

// IsOnline reports whether username has a live push channel.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[username]
	return ok
}

// PushStatus delivers a status update to username if connected. Best effort.
func (r *Registry) PushStatus(username string, user domain.RemoteUser) {
	r.mu.RLock()
	c, ok := r.conns[username]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.writeFrame(wire.Frame{Type: wire.FrameStatus, User: &user}); err != nil {
		r.log.Warn("status push failed", "user", username, "error", err)
	}
}

// RelayChatRequest forwards a chat request to target over its push channel
// and blocks until the correlated reply arrives or ctx expires.
func (r *Registry) RelayChatRequest(ctx context.Context, target, from string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error) {
	r.mu.RLock()
	c, ok := r.conns[target]
	r.mu.RUnlock()
	if !ok {
		return domain.NewChatData{}, fmt.Errorf("%q has no live push channel: %w", target, domain.ErrOperationFailed)
	}

	id := uuid.NewString()
	replies := make(chan wire.Frame, 1)
	r.mu.Lock()
	r.pending[id] = replies
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	err := c.writeFrame(wire.Frame{
		Type:      wire.FrameChatRequest,
		ID:        id,
		From:      from,
		Tunnel:    &tunnel,
		PublicKey: publicKey,
	})
	if err != nil {
		return domain.NewChatData{}, fmt.Errorf("write chat request: %w", err)
	}

	select {
	case <-ctx.Done():
		return domain.NewChatData{}, ctx.Err()
	case frame := <-replies:
		if frame.Type == wire.FrameChatError {
			return domain.NewChatData{}, fmt.Errorf("chat request declined: %s", frame.Error)
		}
		if frame.Tunnel == nil || len(frame.WrappedKey) == 0 {
			return domain.NewChatData{}, errors.New("malformed chat reply")
		}
		return domain.NewChatData{Tunnel: *frame.Tunnel, WrappedKey: frame.WrappedKey}, nil
	}
}

func (r *Registry) deliverReply(frame wire.Frame) {
	r.mu.RLock()
	replies, ok := r.pending[frame.ID]
	r.mu.RUnlock()
	if !ok {
		return // reply after timeout, drop
	}
	select {
	case replies <- frame:
	default:
	}
}

var _ domain.Notifier = (*Registry)(nil)
