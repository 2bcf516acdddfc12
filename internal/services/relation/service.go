package relation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pigeon/internal/domain"
)

// Service enforces the legal transitions of the friendship graph and fans
// presence updates out to online friends. Edge pairs are maintained by the
// store inside single atomic operations; this layer sequences them and owns
// the notifications.
type Service struct {
	relations domain.RelationStore
	notifier  domain.Notifier
	log       *slog.Logger
}

// New constructs the relationship service.
func New(relations domain.RelationStore, notifier domain.Notifier, log *slog.Logger) *Service {
	return &Service{relations: relations, notifier: notifier, log: log}
}

// Request sends a friendship request from me to peer. If peer has already
// requested me, the crossed requests auto-accept: both directions become
// friends atomically and both parties get an explicit status push, so
// neither cache is left guessing about the race.
func (s *Service) Request(ctx context.Context, me, peer string) error {
	if me == peer {
		return fmt.Errorf("cannot request friendship with yourself: %w", domain.ErrOperationFailed)
	}

	promoted, err := s.relations.PromoteIfRequested(ctx, me, peer)
	if err != nil {
		return operationFailed("request friendship", err)
	}
	if promoted {
		s.announcePromotion(me, peer)
		return nil
	}

	if err := s.relations.SetRequested(ctx, me, peer); err != nil {
		// A crossed request may have landed between the promote check and
		// the insert; apply the tie-break once more before giving up.
		if errors.Is(err, domain.ErrAlreadyRelated) {
			promoted, perr := s.relations.PromoteIfRequested(ctx, me, peer)
			if perr == nil && promoted {
				s.announcePromotion(me, peer)
				return nil
			}
		}
		return operationFailed("request friendship", err)
	}
	s.notifier.PushStatus(peer, domain.RemoteUser{Username: me, Status: domain.StatusRequestReceived})
	return nil
}

// announcePromotion tells both parties of an auto-accepted crossed request
// where they stand, so neither client is left with a stale pending entry.
func (s *Service) announcePromotion(me, peer string) {
	s.notifier.PushStatus(peer, domain.RemoteUser{Username: me, Status: domain.StatusOnline})
	s.notifier.PushStatus(me, domain.RemoteUser{Username: peer, Status: s.presence(peer)})
}

// Accept accepts a pending request from peer. Reports whether peer is
// currently online so the caller can enable chat immediately.
func (s *Service) Accept(ctx context.Context, me, peer string) (bool, error) {
	if err := s.relations.AcceptRequest(ctx, me, peer); err != nil {
		return false, operationFailed("accept friendship", err)
	}
	// The accepting side is necessarily online, so the peer learns ONLINE.
	s.notifier.PushStatus(peer, domain.RemoteUser{Username: me, Status: domain.StatusOnline})
	return s.notifier.IsOnline(peer), nil
}

// Reject declines a pending request from peer, leaving no edge behind.
func (s *Service) Reject(ctx context.Context, me, peer string) error {
	if err := s.relations.DeleteRequest(ctx, me, peer); err != nil {
		return operationFailed("reject friendship", err)
	}
	s.notifier.PushStatus(peer, domain.RemoteUser{Username: me, Status: domain.StatusNotRelated})
	return nil
}

// End terminates an existing friendship, deleting both edges.
func (s *Service) End(ctx context.Context, me, peer string) error {
	if err := s.relations.DeleteFriendship(ctx, me, peer); err != nil {
		return operationFailed("end friendship", err)
	}
	s.notifier.PushStatus(peer, domain.RemoteUser{Username: me, Status: domain.StatusNotRelated})
	return nil
}

// Friends returns every user related to me, optionally filtered by status.
// Friends are reported ONLINE or DISCONNECTED from the live listener
// registry at call time; liveness is never stored.
func (s *Service) Friends(ctx context.Context, me string, filter domain.StatusType) ([]domain.RemoteUser, error) {
	relations, err := s.relations.ListRelations(ctx, me)
	if err != nil {
		return nil, operationFailed("retrieve friends", err)
	}

	users := make([]domain.RemoteUser, 0, len(relations))
	for _, rel := range relations {
		var status domain.StatusType
		switch rel.State {
		case domain.RelationFriends:
			status = s.presence(rel.Peer)
		case domain.RelationRequestSent:
			status = domain.StatusRequestSent
		case domain.RelationRequestReceived:
			status = domain.StatusRequestReceived
		}
		if filter != "" && status != filter {
			continue
		}
		users = append(users, domain.RemoteUser{Username: rel.Peer, Status: status})
	}
	return users, nil
}

// HandleConnect announces me as ONLINE to every online friend. Called when
// the user's push channel attaches, which is the moment the user becomes
// reachable.
func (s *Service) HandleConnect(ctx context.Context, me string) {
	s.fanOut(ctx, me, domain.StatusOnline)
}

// HandleDisconnect announces me as DISCONNECTED to every online friend.
// Called on explicit disconnect and when the push channel drops.
func (s *Service) HandleDisconnect(ctx context.Context, me string) {
	s.fanOut(ctx, me, domain.StatusDisconnected)
}

func (s *Service) fanOut(ctx context.Context, me string, status domain.StatusType) {
	relations, err := s.relations.ListRelations(ctx, me)
	if err != nil {
		s.log.Error("presence fan-out failed", "user", me, "error", err)
		return
	}
	for _, rel := range relations {
		if rel.State != domain.RelationFriends {
			continue
		}
		s.notifier.PushStatus(rel.Peer, domain.RemoteUser{Username: me, Status: status})
	}
}

func (s *Service) presence(username string) domain.StatusType {
	if s.notifier.IsOnline(username) {
		return domain.StatusOnline
	}
	return domain.StatusDisconnected
}

// operationFailed marks store errors as operation failures for the RPC
// boundary while keeping the precondition sentinels matchable for tests and
// logs.
func operationFailed(op string, err error) error {
	if errors.Is(err, domain.ErrOperationFailed) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrOperationFailed, err))
}
