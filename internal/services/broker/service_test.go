package broker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"pigeon/internal/domain"
	"pigeon/internal/services/broker"
	"pigeon/internal/store"
)

// scriptedNotifier serves a fixed presence set and a scripted relay answer.
type scriptedNotifier struct {
	online map[string]bool
	relay  func(ctx context.Context, target, from string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error)

	relayed int
}

func (n *scriptedNotifier) IsOnline(username string) bool { return n.online[username] }

func (n *scriptedNotifier) PushStatus(string, domain.RemoteUser) {}

func (n *scriptedNotifier) RelayChatRequest(ctx context.Context, target, from string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error) {
	n.relayed++
	return n.relay(ctx, target, from, tunnel, publicKey)
}

func befriend(t *testing.T, m *store.Memory, a, b string) {
	t.Helper()
	ctx := context.Background()
	if err := m.SetRequested(ctx, a, b); err != nil {
		t.Fatalf("SetRequested: %v", err)
	}
	if err := m.AcceptRequest(ctx, b, a); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
}

func newBroker(notifier *scriptedNotifier) (*broker.Service, *store.Memory) {
	m := store.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return broker.New(m, notifier, log), m
}

func TestInitiateChatRequiresFriendship(t *testing.T) {
	notifier := &scriptedNotifier{online: map[string]bool{"bob": true}}
	svc, _ := newBroker(notifier)

	_, err := svc.InitiateChat(context.Background(), "alice", "bob",
		domain.TunnelHandle{URL: "http://a/tunnel/1"}, make([]byte, 32))
	if !errors.Is(err, domain.ErrOperationFailed) {
		t.Fatalf("want ErrOperationFailed, got %v", err)
	}
	if notifier.relayed != 0 {
		t.Fatal("relay attempted for non-friends")
	}
}

func TestInitiateChatRequiresOnlineTarget(t *testing.T) {
	notifier := &scriptedNotifier{online: map[string]bool{}}
	svc, m := newBroker(notifier)
	befriend(t, m, "alice", "bob")

	_, err := svc.InitiateChat(context.Background(), "alice", "bob",
		domain.TunnelHandle{URL: "http://a/tunnel/1"}, make([]byte, 32))
	if !errors.Is(err, domain.ErrOperationFailed) {
		t.Fatalf("want ErrOperationFailed, got %v", err)
	}
	if notifier.relayed != 0 {
		t.Fatal("relay attempted for offline target")
	}
}

func TestInitiateChatRelaysReply(t *testing.T) {
	grant := domain.NewChatData{
		Tunnel:     domain.TunnelHandle{URL: "http://b/tunnel/9"},
		WrappedKey: []byte("wrapped"),
	}
	notifier := &scriptedNotifier{
		online: map[string]bool{"bob": true},
		relay: func(ctx context.Context, target, from string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error) {
			if target != "bob" || from != "alice" {
				t.Fatalf("relay addressed %s from %s", target, from)
			}
			if tunnel.URL != "http://a/tunnel/1" {
				t.Fatalf("initiator tunnel not forwarded: %q", tunnel.URL)
			}
			return grant, nil
		},
	}
	svc, m := newBroker(notifier)
	befriend(t, m, "alice", "bob")

	data, err := svc.InitiateChat(context.Background(), "alice", "bob",
		domain.TunnelHandle{URL: "http://a/tunnel/1"}, make([]byte, 32))
	if err != nil {
		t.Fatalf("InitiateChat: %v", err)
	}
	if data.Tunnel != grant.Tunnel || string(data.WrappedKey) != "wrapped" {
		t.Fatalf("reply not relayed verbatim: %+v", data)
	}
}

func TestInitiateChatRelayFailure(t *testing.T) {
	notifier := &scriptedNotifier{
		online: map[string]bool{"bob": true},
		relay: func(context.Context, string, string, domain.TunnelHandle, []byte) (domain.NewChatData, error) {
			return domain.NewChatData{}, errors.New("callback exploded")
		},
	}
	svc, m := newBroker(notifier)
	befriend(t, m, "alice", "bob")

	_, err := svc.InitiateChat(context.Background(), "alice", "bob",
		domain.TunnelHandle{URL: "http://a/tunnel/1"}, make([]byte, 32))
	if !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Fatalf("want ErrRemoteUnavailable, got %v", err)
	}
}

func TestInitiateChatHonoursCancellation(t *testing.T) {
	notifier := &scriptedNotifier{
		online: map[string]bool{"bob": true},
		relay: func(ctx context.Context, _, _ string, _ domain.TunnelHandle, _ []byte) (domain.NewChatData, error) {
			<-ctx.Done()
			return domain.NewChatData{}, ctx.Err()
		},
	}
	svc, m := newBroker(notifier)
	befriend(t, m, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.InitiateChat(ctx, "alice", "bob",
		domain.TunnelHandle{URL: "http://a/tunnel/1"}, make([]byte, 32))
	if !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Fatalf("want ErrRemoteUnavailable, got %v", err)
	}
}
