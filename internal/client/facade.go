package client

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"pigeon/internal/crypto"
	"pigeon/internal/domain"
)

// ServerAPI is the slice of the central service the facade depends on.
// *API implements it; tests substitute a fake.
type ServerAPI interface {
	SignUp(username, password string) (domain.SessionToken, error)
	Login(username, password string) (domain.SessionToken, error)
	SetToken(token domain.SessionToken)
	UpdatePassword(current, updated string) error
	Disconnect() error
	Friends(filter domain.StatusType) ([]domain.RemoteUser, error)
	RequestFriendship(username string) error
	AcceptFriendship(username string) (bool, error)
	RejectFriendship(username string) error
	EndFriendship(username string) error
	InitiateChat(username string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error)
	WebsocketURL() (string, error)
}

// PushChannel is the client's live connection to the server.
type PushChannel interface {
	Close() error
	Done() <-chan struct{}
}

// TunnelHost manages the local inbound tunnel endpoints.
type TunnelHost interface {
	Start()
	Shutdown() error
	Open(peer string) domain.TunnelHandle
	CloseFor(peer string)
	CloseAll()
}

// Config holds the client's endpoints.
type Config struct {
	// ServerURL is the base URL of the central service.
	ServerURL string
	// ListenAddr is the local address the tunnel host binds.
	ListenAddr string
	// AdvertiseURL is the base URL peers reach the tunnel host at.
	AdvertiseURL string
}

// Facade is the client's single entry point: it owns the session token, the
// key material, the roster cache, the push channel and the tunnel host, and
// sequences them so callers only ever see whole operations.
type Facade struct {
	cfg Config
	api ServerAPI
	log *slog.Logger

	httpc *http.Client

	onMessage func(from, text string)
	observer  func(domain.RemoteUser)

	// Injection points so tests can run without sockets.
	dialPush   func(cb Callbacks) (PushChannel, error)
	newTunnels func(deliver func(from string, payload []byte)) TunnelHost

	mu       sync.Mutex
	username string
	cipher   *crypto.Cipher
	roster   *Roster
	push     PushChannel
	tunnels  TunnelHost
}

// New builds a facade against a live server. onMessage receives every
// decrypted inbound chat message; observer, if non-nil, every roster change.
func New(cfg Config, onMessage func(from, text string), observer func(domain.RemoteUser), log *slog.Logger) *Facade {
	api := NewAPI(cfg.ServerURL)
	f := &Facade{
		cfg:       cfg,
		api:       api,
		log:       log,
		httpc:     http.DefaultClient,
		onMessage: onMessage,
		observer:  observer,
	}
	f.dialPush = func(cb Callbacks) (PushChannel, error) {
		wsURL, err := api.WebsocketURL()
		if err != nil {
			return nil, err
		}
		return Dial(wsURL, cb, log)
	}
	f.newTunnels = func(deliver func(from string, payload []byte)) TunnelHost {
		return NewTunnelServer(cfg.ListenAddr, cfg.AdvertiseURL, deliver, log)
	}
	return f
}

// Username returns the logged-in user, or "" when no session is open.
func (f *Facade) Username() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.username
}

// LoggedIn reports whether a session is open.
func (f *Facade) LoggedIn() bool { return f.Username() != "" }

// SignUp registers a new account and opens its first session.
func (f *Facade) SignUp(username, password string) error {
	token, err := f.api.SignUp(username, password)
	if err != nil {
		return err
	}
	return f.establishSession(username, token)
}

// Login authenticates and opens a session, invalidating any token from a
// previous login of the same account.
func (f *Facade) Login(username, password string) error {
	token, err := f.api.Login(username, password)
	if err != nil {
		return err
	}
	return f.establishSession(username, token)
}

func (f *Facade) establishSession(username string, token domain.SessionToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.username != "" {
		return fmt.Errorf("already logged in as %q: %w", f.username, domain.ErrOperationFailed)
	}

	f.api.SetToken(token)

	cipher, err := crypto.NewCipher()
	if err != nil {
		f.api.SetToken("")
		return err
	}

	roster := NewRoster(f.observer)
	tunnels := f.newTunnels(f.deliver)
	tunnels.Start()

	// Attaching the push channel is what flips us ONLINE for friends.
	push, err := f.dialPush(facadeCallbacks{f})
	if err != nil {
		_ = tunnels.Shutdown()
		f.api.SetToken("")
		return err
	}

	f.username = username
	f.cipher = cipher
	f.roster = roster
	f.tunnels = tunnels
	f.push = push

	// Prime the cache; pushes arriving meanwhile repaint on top of it.
	users, err := f.api.Friends("")
	if err != nil {
		f.log.Warn("initial roster retrieval failed", "error", err)
	} else {
		roster.ReplaceAll(users)
	}
	return nil
}

// UpdatePassword changes the account password. The session stays open.
func (f *Facade) UpdatePassword(current, updated string) error {
	if _, err := f.session(); err != nil {
		return err
	}
	return f.api.UpdatePassword(current, updated)
}

// Disconnect closes every chat, ends the session server-side, and tears the
// local machinery down. Always leaves the facade logged out.
func (f *Facade) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.username == "" {
		return domain.ErrNoSession
	}

	f.tunnels.CloseAll()
	f.cipher.Close()

	err := f.api.Disconnect()

	_ = f.push.Close()
	_ = f.tunnels.Shutdown()
	f.api.SetToken("")

	f.username = ""
	f.cipher = nil
	f.roster = nil
	f.push = nil
	f.tunnels = nil
	return err
}

// RetrieveFriends fetches related users from the server, refreshing the
// whole cache when unfiltered.
func (f *Facade) RetrieveFriends(filter domain.StatusType) ([]domain.RemoteUser, error) {
	s, err := f.session()
	if err != nil {
		return nil, err
	}
	users, err := f.api.Friends(filter)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		s.roster.ReplaceAll(users)
	} else {
		for _, user := range users {
			s.roster.Update(user)
		}
	}
	return users, nil
}

// Friends returns the cached roster without a server round trip.
func (f *Facade) Friends(filter domain.StatusType) ([]domain.RemoteUser, error) {
	s, err := f.session()
	if err != nil {
		return nil, err
	}
	return s.roster.List(filter), nil
}

// RequestFriendship sends a friendship request to peer.
func (f *Facade) RequestFriendship(peer string) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	if peer == s.username {
		return fmt.Errorf("cannot befriend yourself: %w", domain.ErrOperationFailed)
	}
	if _, related := s.roster.Get(peer); related {
		return fmt.Errorf("already related to %q: %w", peer, domain.ErrOperationFailed)
	}
	if err := f.api.RequestFriendship(peer); err != nil {
		return err
	}
	// Crossed requests auto-accept server-side; if its push already marked
	// peer a friend, do not downgrade to a pending request.
	if status, ok := s.roster.Get(peer); !ok || !status.Friendly() {
		s.roster.Update(domain.RemoteUser{Username: peer, Status: domain.StatusRequestSent})
	}
	return nil
}

// AcceptFriendship accepts peer's pending request. Reports whether peer is
// online right now.
func (f *Facade) AcceptFriendship(peer string) (bool, error) {
	s, err := f.session()
	if err != nil {
		return false, err
	}
	if status, _ := s.roster.Get(peer); status != domain.StatusRequestReceived {
		return false, fmt.Errorf("no pending request from %q: %w", peer, domain.ErrOperationFailed)
	}
	online, err := f.api.AcceptFriendship(peer)
	if err != nil {
		return false, err
	}
	status := domain.StatusDisconnected
	if online {
		status = domain.StatusOnline
	}
	s.roster.Update(domain.RemoteUser{Username: peer, Status: status})
	return online, nil
}

// RejectFriendship declines peer's pending request.
func (f *Facade) RejectFriendship(peer string) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	if status, _ := s.roster.Get(peer); status != domain.StatusRequestReceived {
		return fmt.Errorf("no pending request from %q: %w", peer, domain.ErrOperationFailed)
	}
	if err := f.api.RejectFriendship(peer); err != nil {
		return err
	}
	s.roster.Remove(peer)
	return nil
}

// EndFriendship terminates the friendship with peer and forgets any chat
// state shared with them.
func (f *Facade) EndFriendship(peer string) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	if status, _ := s.roster.Get(peer); !status.Friendly() {
		return fmt.Errorf("not friends with %q: %w", peer, domain.ErrOperationFailed)
	}
	if err := f.api.EndFriendship(peer); err != nil {
		return err
	}
	f.closeChat(s, peer)
	s.roster.Remove(peer)
	return nil
}

// InitiateChat establishes an encrypted chat with peer: opens a local inbound
// tunnel, asks the server to relay the request, and installs the conversation
// key from peer's reply. Fails without leaving partial state behind.
func (f *Facade) InitiateChat(peer string) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	if status, _ := s.roster.Get(peer); status != domain.StatusOnline {
		return fmt.Errorf("%q is not an online friend: %w", peer, domain.ErrOperationFailed)
	}
	if s.roster.ChatReady(peer) && s.cipher.HasSecret(peer) {
		return nil
	}

	inbound, opened := s.roster.InboundTunnel(peer)
	if !opened {
		inbound = s.tunnels.Open(peer)
		s.roster.StoreInbound(peer, inbound)
	}

	data, err := f.api.InitiateChat(peer, inbound, s.cipher.PublicKey())
	if err == nil {
		err = s.cipher.StoreWrappedSecret(peer, data.WrappedKey)
	}
	if err != nil {
		// Roll the prepared tunnel back so a retry starts clean.
		f.closeChat(s, peer)
		return err
	}

	s.roster.StoreOutbound(peer, data.Tunnel)
	return nil
}

// ChatReady reports whether an established chat with peer exists.
func (f *Facade) ChatReady(peer string) bool {
	s, err := f.session()
	if err != nil {
		return false
	}
	return s.roster.ChatReady(peer) && s.cipher.HasSecret(peer)
}

// SendMessage encrypts text for peer and pushes it through their tunnel.
func (f *Facade) SendMessage(peer, text string) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	outbound, ok := s.roster.Outbound(peer)
	if !ok {
		return fmt.Errorf("no established chat with %q: %w", peer, domain.ErrTunnel)
	}
	payload, err := s.cipher.EncryptFor(peer, []byte(text))
	if err != nil {
		return err
	}
	return PushPayload(f.httpc, outbound, payload)
}

// session snapshots the open session's parts under the lock.
type sessionState struct {
	username string
	cipher   *crypto.Cipher
	roster   *Roster
	tunnels  TunnelHost
}

func (f *Facade) session() (sessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.username == "" {
		return sessionState{}, domain.ErrNoSession
	}
	return sessionState{
		username: f.username,
		cipher:   f.cipher,
		roster:   f.roster,
		tunnels:  f.tunnels,
	}, nil
}

// closeChat tears down all chat state with peer: local tunnels, the cached
// peer tunnel, and the conversation key.
func (f *Facade) closeChat(s sessionState, peer string) {
	s.tunnels.CloseFor(peer)
	s.roster.ClearTunnels(peer)
	s.cipher.Forget(peer)
}

// deliver handles a decrypted-or-not inbound tunnel payload.
func (f *Facade) deliver(from string, payload []byte) {
	s, err := f.session()
	if err != nil {
		return
	}
	text, err := s.cipher.DecryptFrom(from, payload)
	if err != nil {
		f.log.Warn("discarding undecryptable payload", "from", from, "error", err)
		return
	}
	if f.onMessage != nil {
		f.onMessage(from, string(text))
	}
}

// facadeCallbacks adapts the facade to the push channel.
type facadeCallbacks struct{ f *Facade }

// UpdateRemoteUserStatus applies a pushed status change. NOT_RELATED also
// closes any chat with that user, because the relation it rode on is gone.
func (cb facadeCallbacks) UpdateRemoteUserStatus(user domain.RemoteUser) {
	s, err := cb.f.session()
	if err != nil {
		return
	}
	if user.Status == domain.StatusNotRelated {
		cb.f.closeChat(s, user.Username)
	}
	s.roster.Update(user)
}

// ReplyChatRequest answers a relayed chat request: only friends get a tunnel
// and a key.
func (cb facadeCallbacks) ReplyChatRequest(from string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error) {
	s, err := cb.f.session()
	if err != nil {
		return domain.NewChatData{}, err
	}
	if !s.roster.Friend(from) {
		return domain.NewChatData{}, fmt.Errorf("%q is not a friend: %w", from, domain.ErrOperationFailed)
	}

	inbound, opened := s.roster.InboundTunnel(from)
	if !opened {
		inbound = s.tunnels.Open(from)
		s.roster.StoreInbound(from, inbound)
	}

	wrapped, err := s.cipher.GenerateSecretFor(from, publicKey)
	if err != nil {
		cb.f.closeChat(s, from)
		return domain.NewChatData{}, err
	}

	s.roster.StoreOutbound(from, tunnel)
	return domain.NewChatData{Tunnel: inbound, WrappedKey: wrapped}, nil
}

var _ Callbacks = facadeCallbacks{}
