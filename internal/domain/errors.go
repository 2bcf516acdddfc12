package domain

import "errors"

// Failure taxonomy crossing component boundaries. Callers classify with
// errors.Is; the gateway flattens anything unrecognised into
// ErrOperationFailed before it reaches a client.
var (
	// ErrAuthentication covers a bad or missing credential on an
	// authenticated operation.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInvalidToken is the session-layer case of ErrAuthentication. It also
	// tells the client to drop its local session.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrOperationFailed signals a violated precondition: not friends, no
	// pending request, target offline. Never retried automatically.
	ErrOperationFailed = errors.New("operation failed")

	// ErrRemoteUnavailable signals a transport-level failure reaching the
	// server or a peer.
	ErrRemoteUnavailable = errors.New("remote party unavailable")

	// ErrIntegrity signals an authentication-tag mismatch while decrypting.
	// Fatal for that message only.
	ErrIntegrity = errors.New("message failed integrity check")

	// ErrTunnel signals a client-side tunnel misuse, such as sending without
	// an established channel.
	ErrTunnel = errors.New("tunnel operation failed")

	// ErrNoSession signals a client operation issued before login or after
	// disconnect.
	ErrNoSession = errors.New("no session initiated")
)

// Store-level preconditions. Services surface them wrapped in
// ErrOperationFailed so storage detail never leaks across the RPC boundary.
var (
	ErrUsernameTaken    = errors.New("username already registered")
	ErrUnknownUser      = errors.New("unknown user")
	ErrAlreadyRelated   = errors.New("a relation already exists")
	ErrNoPendingRequest = errors.New("no pending friendship request")
	ErrNotFriends       = errors.New("users are not friends")
)
