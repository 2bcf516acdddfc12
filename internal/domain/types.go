package domain

// StatusType describes how a remote user relates to the local one.
type StatusType string

const (
	// StatusOnline marks a current friend with a live push channel.
	StatusOnline StatusType = "online"
	// StatusDisconnected marks a current friend without a live push channel.
	StatusDisconnected StatusType = "disconnected"
	// StatusRequestSent marks a user the local one has requested friendship of.
	StatusRequestSent StatusType = "request_sent"
	// StatusRequestReceived marks a user who has requested friendship of the local one.
	StatusRequestReceived StatusType = "request_received"
	// StatusNotRelated marks the absence of any relation. It is never stored;
	// it only travels in notifications.
	StatusNotRelated StatusType = "not_related"
)

// Statuses lists every StatusType a RemoteUser may carry.
var Statuses = []StatusType{
	StatusOnline,
	StatusDisconnected,
	StatusRequestSent,
	StatusRequestReceived,
	StatusNotRelated,
}

// Valid reports whether s is one of the known status values.
func (s StatusType) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Friendly reports whether s corresponds to an accepted friendship.
func (s StatusType) Friendly() bool {
	return s == StatusOnline || s == StatusDisconnected
}

// RemoteUser is the client-side projection of another user. Identity is the
// username alone; Status is mutable and excluded from equality.
type RemoteUser struct {
	Username string     `json:"username"`
	Status   StatusType `json:"status"`
}

// SessionToken is the signed credential a client presents on every
// authenticated call.
type SessionToken string

// String returns the string form of the token.
func (t SessionToken) String() string { return string(t) }

// User is a stored authentication identity.
type User struct {
	Username     string
	PasswordHash []byte
	PasswordSalt []byte
}

// RelationState is the folded, per-peer view of the directed relation edges
// between two users.
type RelationState string

const (
	RelationFriends         RelationState = "friends"
	RelationRequestSent     RelationState = "request_sent"
	RelationRequestReceived RelationState = "request_received"
)

// Relation pairs a peer with the folded state of the edges between the local
// user and that peer.
type Relation struct {
	Peer  string
	State RelationState
}

// TunnelHandle is a callback endpoint one peer exposes so the other can push
// encrypted messages to it directly.
type TunnelHandle struct {
	URL string `json:"url"`
}

// Zero reports whether the handle is unset.
func (h TunnelHandle) Zero() bool { return h.URL == "" }

// NewChatData is what the responder to a chat request hands back: its own
// inbound tunnel for the initiator, and the conversation key wrapped under
// the initiator's public key.
type NewChatData struct {
	Tunnel     TunnelHandle
	WrappedKey []byte
}
