package domain

import "context"

// UserStore persists authentication identities.
type UserStore interface {
	CreateUser(ctx context.Context, username string, hash, salt []byte) error
	GetUser(ctx context.Context, username string) (User, error)
	UpdatePassword(ctx context.Context, username string, hash, salt []byte) error
}

// RelationStore persists directed relation edges. Every multi-edge transition
// is a single atomic operation: either the whole transition lands or none of
// it does.
type RelationStore interface {
	// PromoteIfRequested applies the crossed-request tie-break: iff the edge
	// peer->me is currently a pending request, it is replaced by the
	// symmetric friends pair. Reports whether the promotion happened.
	PromoteIfRequested(ctx context.Context, me, peer string) (bool, error)

	// SetRequested records the edge me->peer as a pending request. Fails with
	// ErrAlreadyRelated if any relation already exists between the pair.
	SetRequested(ctx context.Context, me, peer string) error

	// AcceptRequest requires the edge peer->me to be a pending request and
	// replaces it with the symmetric friends pair.
	AcceptRequest(ctx context.Context, me, peer string) error

	// DeleteRequest requires the edge peer->me to be a pending request and
	// deletes it.
	DeleteRequest(ctx context.Context, me, peer string) error

	// DeleteFriendship requires the symmetric friends pair and deletes both
	// edges.
	DeleteFriendship(ctx context.Context, me, peer string) error

	AreFriends(ctx context.Context, a, b string) (bool, error)

	// ListRelations folds all edges touching me into one Relation per peer.
	ListRelations(ctx context.Context, me string) ([]Relation, error)
}

// Notifier is the server's typed handle onto connected clients. The gateway's
// websocket registry implements it; services never see sockets.
type Notifier interface {
	// IsOnline reports whether the user currently has a live push channel.
	IsOnline(username string) bool

	// PushStatus delivers a relation/presence update to the user if online.
	// Best effort: delivery to an offline or failing channel is not an error.
	PushStatus(username string, user RemoteUser)

	// RelayChatRequest forwards a chat initiation to target's registered
	// callback and returns whatever the callback returns. Blocks until the
	// reply arrives, the callback fails, or ctx expires.
	RelayChatRequest(ctx context.Context, target, from string, tunnel TunnelHandle, publicKey []byte) (NewChatData, error)
}
