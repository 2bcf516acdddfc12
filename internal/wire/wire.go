// Package wire defines the JSON shapes exchanged between client, server and
// peers: REST bodies, websocket frames, and the tunnel payload.
package wire

import "pigeon/internal/domain"

// Credentials is the body of sign-up and login requests.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries a freshly issued session token.
type TokenResponse struct {
	Token string `json:"token"`
}

// PasswordChange is the body of a password update request.
type PasswordChange struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

// UsernameRequest targets a single remote user, as in the friendship calls.
type UsernameRequest struct {
	Username string `json:"username"`
}

// AcceptResponse reports whether the newly accepted friend is online, so the
// caller's UI can enable chat immediately.
type AcceptResponse struct {
	Online bool `json:"online"`
}

// ChatInitiate is the body of a chat establishment request: the initiator's
// inbound tunnel and public key, and the target user.
type ChatInitiate struct {
	Username  string              `json:"username"`
	Tunnel    domain.TunnelHandle `json:"tunnel"`
	PublicKey []byte              `json:"public_key"`
}

// ChatGrant is the responder's answer, relayed verbatim by the server.
type ChatGrant struct {
	Tunnel     domain.TunnelHandle `json:"tunnel"`
	WrappedKey []byte              `json:"wrapped_key"`
}

// Message is the peer-to-peer tunnel payload: nonce-prefixed ciphertext.
type Message struct {
	Payload []byte `json:"payload"`
}

// Error kinds crossing the RPC boundary. Storage and internal failure detail
// is flattened into KindOperationFailed before leaving the server.
const (
	KindAuthentication    = "authentication"
	KindInvalidToken      = "invalid_token"
	KindOperationFailed   = "operation_failed"
	KindRemoteUnavailable = "remote_unavailable"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Websocket frame types.
const (
	// FrameStatus is a server push updating one remote user's status.
	FrameStatus = "status"
	// FrameChatRequest asks the client to set up its side of a chat. The
	// client must answer with FrameChatReply or FrameChatError carrying the
	// same id.
	FrameChatRequest = "chat_request"
	FrameChatReply   = "chat_reply"
	FrameChatError   = "chat_error"
)

// Frame is a single websocket message in either direction. Fields are
// populated per Type.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	User *domain.RemoteUser `json:"user,omitempty"` // FrameStatus

	From       string               `json:"from,omitempty"`        // FrameChatRequest
	Tunnel     *domain.TunnelHandle `json:"tunnel,omitempty"`      // FrameChatRequest, FrameChatReply
	PublicKey  []byte               `json:"public_key,omitempty"`  // FrameChatRequest
	WrappedKey []byte               `json:"wrapped_key,omitempty"` // FrameChatReply

	Error string `json:"error,omitempty"` // FrameChatError
}
