package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pigeon/internal/domain"
)

// replyTimeout bounds the synchronous round trip to the target's callback so
// an unresponsive client cannot hang the initiator indefinitely.
const replyTimeout = 15 * time.Second

// Service brokers chat establishment between two clients: it checks the
// friendship precondition, locates the target's live callback, and relays
// the target's answer back to the initiator unchanged. The server never
// sees the conversation key in the clear.
type Service struct {
	relations domain.RelationStore
	notifier  domain.Notifier
	log       *slog.Logger
}

// New constructs the tunnel broker.
func New(relations domain.RelationStore, notifier domain.Notifier, log *slog.Logger) *Service {
	return &Service{relations: relations, notifier: notifier, log: log}
}

// InitiateChat forwards the initiator's inbound tunnel and public key to
// target and returns the target's {tunnel, wrapped key}. Fails without side
// effects if the two are not friends, if target has no live callback, or if
// the callback itself fails; there is no queuing and no retry.
func (s *Service) InitiateChat(ctx context.Context, me, target string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error) {
	friends, err := s.relations.AreFriends(ctx, me, target)
	if err != nil {
		return domain.NewChatData{}, fmt.Errorf("initiate chat: %v: %w", err, domain.ErrOperationFailed)
	}
	if !friends {
		return domain.NewChatData{}, fmt.Errorf("not friends with %q: %w", target, domain.ErrOperationFailed)
	}
	if !s.notifier.IsOnline(target) {
		return domain.NewChatData{}, fmt.Errorf("%q is not currently available: %w", target, domain.ErrOperationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	data, err := s.notifier.RelayChatRequest(ctx, target, me, tunnel, publicKey)
	if err != nil {
		s.log.Warn("chat relay failed", "from", me, "to", target, "error", err)
		return domain.NewChatData{}, fmt.Errorf("relay chat request to %q: %w", target, domain.ErrRemoteUnavailable)
	}
	return data, nil
}
