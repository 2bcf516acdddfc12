package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"pigeon/internal/domain"
	"pigeon/internal/wire"
)

// Callbacks is what the push channel invokes on behalf of the server.
type Callbacks interface {
	// UpdateRemoteUserStatus applies a pushed status change.
	UpdateRemoteUserStatus(user domain.RemoteUser)
	// ReplyChatRequest sets up the local side of a chat initiated by from and
	// returns the local tunnel plus the conversation key wrapped under the
	// initiator's public key.
	ReplyChatRequest(from string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error)
}

// Listener holds the client's websocket to the server and dispatches inbound
// frames to the callbacks. Chat requests are answered on the same socket with
// the frame's correlation id.
type Listener struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu   sync.Mutex // serialises writes
	done chan struct{}
}

// Dial connects the push channel and starts reading. The returned Listener
// keeps running until Close or a read failure; Done reports which.
func Dial(wsURL string, callbacks Callbacks, log *slog.Logger) (*Listener, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %v: %w", err, domain.ErrRemoteUnavailable)
	}
	l := &Listener{conn: conn, log: log, done: make(chan struct{})}
	go l.readLoop(callbacks)
	return l, nil
}

// Done is closed once the push channel has stopped for any reason.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Close tears the push channel down.
func (l *Listener) Close() error { return l.conn.Close() }

func (l *Listener) readLoop(callbacks Callbacks) {
	defer close(l.done)
	for {
		var frame wire.Frame
		if err := l.conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case wire.FrameStatus:
			if frame.User != nil {
				callbacks.UpdateRemoteUserStatus(*frame.User)
			}
		case wire.FrameChatRequest:
			// Answered off the read loop so a slow handler cannot stall
			// status pushes.
			go l.answerChatRequest(callbacks, frame)
		default:
			l.log.Warn("unexpected frame from server", "type", frame.Type)
		}
	}
}

func (l *Listener) answerChatRequest(callbacks Callbacks, frame wire.Frame) {
	if frame.Tunnel == nil {
		l.writeFrame(wire.Frame{Type: wire.FrameChatError, ID: frame.ID, Error: "missing tunnel"})
		return
	}

	data, err := callbacks.ReplyChatRequest(frame.From, *frame.Tunnel, frame.PublicKey)
	if err != nil {
		l.log.Warn("chat request refused", "from", frame.From, "error", err)
		l.writeFrame(wire.Frame{Type: wire.FrameChatError, ID: frame.ID, Error: err.Error()})
		return
	}
	l.writeFrame(wire.Frame{
		Type:       wire.FrameChatReply,
		ID:         frame.ID,
		Tunnel:     &data.Tunnel,
		WrappedKey: data.WrappedKey,
	})
}

func (l *Listener) writeFrame(frame wire.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.conn.WriteJSON(frame); err != nil {
		l.log.Warn("push channel write failed", "type", frame.Type, "error", err)
	}
}
