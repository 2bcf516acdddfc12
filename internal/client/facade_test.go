package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"pigeon/internal/domain"
	"pigeon/internal/wire"
)

// memRouter delivers tunnel pushes in process, standing in for the peers'
// HTTP listeners. It also keeps the last payload so tests can check what
// actually travelled.
type memRouter struct {
	mu          sync.Mutex
	routes      map[string]func([]byte)
	lastPayload []byte
}

func newMemRouter() *memRouter {
	return &memRouter{routes: make(map[string]func([]byte))}
}

func (r *memRouter) add(url string, fn func([]byte)) {
	r.mu.Lock()
	r.routes[url] = fn
	r.mu.Unlock()
}

func (r *memRouter) remove(url string) {
	r.mu.Lock()
	delete(r.routes, url)
	r.mu.Unlock()
}

func (r *memRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	fn, ok := r.routes[req.URL.String()]
	r.mu.Unlock()
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(""))}, nil
	}

	var msg wire.Message
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.lastPayload = msg.Payload
	r.mu.Unlock()
	fn(msg.Payload)
	return &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(strings.NewReader(""))}, nil
}

type fakeAPI struct {
	friends  []domain.RemoteUser
	initiate func(username string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error)

	token        domain.SessionToken
	requests     []string
	ends         []string
	disconnected bool
}

func (a *fakeAPI) SignUp(username, _ string) (domain.SessionToken, error) {
	return domain.SessionToken("token-" + username), nil
}

func (a *fakeAPI) Login(username, _ string) (domain.SessionToken, error) {
	return domain.SessionToken("token-" + username), nil
}

func (a *fakeAPI) SetToken(token domain.SessionToken) { a.token = token }

func (a *fakeAPI) UpdatePassword(_, _ string) error { return nil }

func (a *fakeAPI) Disconnect() error {
	a.disconnected = true
	return nil
}

func (a *fakeAPI) Friends(domain.StatusType) ([]domain.RemoteUser, error) {
	return a.friends, nil
}

func (a *fakeAPI) RequestFriendship(username string) error {
	a.requests = append(a.requests, username)
	return nil
}

func (a *fakeAPI) AcceptFriendship(string) (bool, error) { return true, nil }

func (a *fakeAPI) RejectFriendship(string) error { return nil }

func (a *fakeAPI) EndFriendship(username string) error {
	a.ends = append(a.ends, username)
	return nil
}

func (a *fakeAPI) InitiateChat(username string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error) {
	return a.initiate(username, tunnel, publicKey)
}

func (a *fakeAPI) WebsocketURL() (string, error) { return "ws://unused", nil }

type fakePush struct {
	done chan struct{}
	once sync.Once
}

func (p *fakePush) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakePush) Done() <-chan struct{} { return p.done }

type fakeTunnels struct {
	name    string
	router  *memRouter
	deliver func(from string, payload []byte)

	mu       sync.Mutex
	open     map[string]string
	shutdown bool
}

func (ft *fakeTunnels) Start() {}

func (ft *fakeTunnels) Shutdown() error {
	ft.mu.Lock()
	ft.shutdown = true
	ft.mu.Unlock()
	ft.CloseAll()
	return nil
}

func (ft *fakeTunnels) Open(peer string) domain.TunnelHandle {
	url := "http://" + ft.name + ".test/tunnel/" + peer
	ft.mu.Lock()
	ft.open[peer] = url
	ft.mu.Unlock()
	ft.router.add(url, func(payload []byte) { ft.deliver(peer, payload) })
	return domain.TunnelHandle{URL: url}
}

func (ft *fakeTunnels) CloseFor(peer string) {
	ft.mu.Lock()
	url, ok := ft.open[peer]
	delete(ft.open, peer)
	ft.mu.Unlock()
	if ok {
		ft.router.remove(url)
	}
}

func (ft *fakeTunnels) CloseAll() {
	ft.mu.Lock()
	urls := make([]string, 0, len(ft.open))
	for _, url := range ft.open {
		urls = append(urls, url)
	}
	ft.open = make(map[string]string)
	ft.mu.Unlock()
	for _, url := range urls {
		ft.router.remove(url)
	}
}

func newTestFacade(name string, api ServerAPI, router *memRouter, onMessage func(from, text string)) (*Facade, *fakeTunnels) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &Facade{
		api:       api,
		log:       log,
		httpc:     &http.Client{Transport: router},
		onMessage: onMessage,
	}
	ft := &fakeTunnels{name: name, router: router, open: make(map[string]string)}
	f.newTunnels = func(deliver func(from string, payload []byte)) TunnelHost {
		ft.deliver = deliver
		return ft
	}
	f.dialPush = func(Callbacks) (PushChannel, error) {
		return &fakePush{done: make(chan struct{})}, nil
	}
	return f, ft
}

func TestLoginPrimesRoster(t *testing.T) {
	api := &fakeAPI{friends: []domain.RemoteUser{{Username: "bob", Status: domain.StatusOnline}}}
	f, _ := newTestFacade("alice", api, newMemRouter(), nil)

	if err := f.Login("alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if api.token != "token-alice" {
		t.Fatalf("token not installed: %q", api.token)
	}
	users, err := f.Friends("")
	if err != nil {
		t.Fatalf("Friends: %v", err)
	}
	if len(users) != 1 || users[0].Username != "bob" {
		t.Fatalf("roster: %+v", users)
	}

	if err := f.Login("alice", "pw"); !errors.Is(err, domain.ErrOperationFailed) {
		t.Fatalf("double login: want ErrOperationFailed, got %v", err)
	}
}

func TestRequestFriendshipGuards(t *testing.T) {
	api := &fakeAPI{friends: []domain.RemoteUser{{Username: "bob", Status: domain.StatusOnline}}}
	f, _ := newTestFacade("alice", api, newMemRouter(), nil)
	if err := f.Login("alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.RequestFriendship("alice"); !errors.Is(err, domain.ErrOperationFailed) {
		t.Fatalf("self request: got %v", err)
	}
	if err := f.RequestFriendship("bob"); !errors.Is(err, domain.ErrOperationFailed) {
		t.Fatalf("request to existing friend: got %v", err)
	}
	if len(api.requests) != 0 {
		t.Fatalf("guarded requests reached the server: %+v", api.requests)
	}

	if err := f.RequestFriendship("carol"); err != nil {
		t.Fatalf("RequestFriendship: %v", err)
	}
	if status, _ := f.roster.Get("carol"); status != domain.StatusRequestSent {
		t.Fatalf("carol cached as %q", status)
	}
}

func TestInitiateChatRequiresOnlineFriend(t *testing.T) {
	api := &fakeAPI{
		friends: []domain.RemoteUser{{Username: "bob", Status: domain.StatusDisconnected}},
		initiate: func(string, domain.TunnelHandle, []byte) (domain.NewChatData, error) {
			t.Fatal("initiate reached the server for an offline friend")
			return domain.NewChatData{}, nil
		},
	}
	f, _ := newTestFacade("alice", api, newMemRouter(), nil)
	if err := f.Login("alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.InitiateChat("bob"); !errors.Is(err, domain.ErrOperationFailed) {
		t.Fatalf("want ErrOperationFailed, got %v", err)
	}
}

func TestInitiateChatRollsBackOnFailure(t *testing.T) {
	api := &fakeAPI{
		friends: []domain.RemoteUser{{Username: "bob", Status: domain.StatusOnline}},
		initiate: func(string, domain.TunnelHandle, []byte) (domain.NewChatData, error) {
			return domain.NewChatData{}, errors.New("target vanished")
		},
	}
	f, ft := newTestFacade("alice", api, newMemRouter(), nil)
	if err := f.Login("alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.InitiateChat("bob"); err == nil {
		t.Fatal("want error from failed initiation")
	}

	// No half-open chat may remain: no tunnels, no cached key.
	if _, ok := f.roster.InboundTunnel("bob"); ok {
		t.Fatal("inbound tunnel survived the rollback")
	}
	if f.ChatReady("bob") {
		t.Fatal("chat reported ready after failure")
	}
	if f.cipher.HasSecret("bob") {
		t.Fatal("conversation key cached after failure")
	}
	ft.mu.Lock()
	open := len(ft.open)
	ft.mu.Unlock()
	if open != 0 {
		t.Fatal("local tunnel route left open after rollback")
	}
}

// establishChat wires two facades through an in-memory transport, logs both
// in, and lets alice initiate a chat with bob.
func establishChat(t *testing.T) (alice, bob *Facade, aliceTunnels *fakeTunnels, router *memRouter, aliceGot, bobGot *[]string) {
	t.Helper()
	router = newMemRouter()
	aliceGot, bobGot = new([]string), new([]string)

	bobAPI := &fakeAPI{friends: []domain.RemoteUser{{Username: "alice", Status: domain.StatusOnline}}}
	bob, _ = newTestFacade("bob", bobAPI, router, func(from, text string) {
		*bobGot = append(*bobGot, from+": "+text)
	})
	if err := bob.Login("bob", "pw"); err != nil {
		t.Fatalf("bob login: %v", err)
	}

	aliceAPI := &fakeAPI{
		friends: []domain.RemoteUser{{Username: "bob", Status: domain.StatusOnline}},
		initiate: func(username string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error) {
			if username != "bob" {
				t.Fatalf("initiate addressed to %q", username)
			}
			return facadeCallbacks{bob}.ReplyChatRequest("alice", tunnel, publicKey)
		},
	}
	alice, aliceTunnels = newTestFacade("alice", aliceAPI, router, func(from, text string) {
		*aliceGot = append(*aliceGot, from+": "+text)
	})
	if err := alice.Login("alice", "pw"); err != nil {
		t.Fatalf("alice login: %v", err)
	}
	if err := alice.InitiateChat("bob"); err != nil {
		t.Fatalf("InitiateChat: %v", err)
	}
	return alice, bob, aliceTunnels, router, aliceGot, bobGot
}

func TestChatRoundTrip(t *testing.T) {
	alice, bob, _, router, aliceGot, bobGot := establishChat(t)

	if !alice.ChatReady("bob") || !bob.ChatReady("alice") {
		t.Fatal("chat not ready on both sides")
	}

	if err := alice.SendMessage("bob", "hello bob"); err != nil {
		t.Fatalf("alice send: %v", err)
	}
	if len(*bobGot) != 1 || (*bobGot)[0] != "alice: hello bob" {
		t.Fatalf("bob received: %+v", *bobGot)
	}
	// What travelled was ciphertext, not the message.
	router.mu.Lock()
	payload := bytes.Clone(router.lastPayload)
	router.mu.Unlock()
	if bytes.Contains(payload, []byte("hello bob")) {
		t.Fatal("plaintext on the wire")
	}

	if err := bob.SendMessage("alice", "hi alice"); err != nil {
		t.Fatalf("bob send: %v", err)
	}
	if len(*aliceGot) != 1 || (*aliceGot)[0] != "bob: hi alice" {
		t.Fatalf("alice received: %+v", *aliceGot)
	}
}

func TestChatRequestFromNonFriendRefused(t *testing.T) {
	api := &fakeAPI{friends: []domain.RemoteUser{}}
	f, _ := newTestFacade("bob", api, newMemRouter(), nil)
	if err := f.Login("bob", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err := facadeCallbacks{f}.ReplyChatRequest("mallory",
		domain.TunnelHandle{URL: "http://mallory.test/tunnel/x"}, make([]byte, 32))
	if !errors.Is(err, domain.ErrOperationFailed) {
		t.Fatalf("want ErrOperationFailed, got %v", err)
	}
}

func TestEndFriendshipClosesChat(t *testing.T) {
	alice, _, aliceTunnels, _, _, _ := establishChat(t)

	if err := alice.EndFriendship("bob"); err != nil {
		t.Fatalf("EndFriendship: %v", err)
	}
	if alice.ChatReady("bob") {
		t.Fatal("chat survives the ended friendship")
	}
	if _, ok := alice.roster.Get("bob"); ok {
		t.Fatal("bob still in the roster")
	}
	aliceTunnels.mu.Lock()
	open := len(aliceTunnels.open)
	aliceTunnels.mu.Unlock()
	if open != 0 {
		t.Fatal("local tunnel still open")
	}
	if err := alice.SendMessage("bob", "anyone there?"); !errors.Is(err, domain.ErrTunnel) {
		t.Fatalf("send after end: want ErrTunnel, got %v", err)
	}
}

func TestDisconnectTearsEverythingDown(t *testing.T) {
	alice, _, aliceTunnels, _, _, _ := establishChat(t)

	if err := alice.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if alice.LoggedIn() {
		t.Fatal("still logged in")
	}
	aliceTunnels.mu.Lock()
	shutdown := aliceTunnels.shutdown
	aliceTunnels.mu.Unlock()
	if !shutdown {
		t.Fatal("tunnel host not shut down")
	}
	if !alice.api.(*fakeAPI).disconnected {
		t.Fatal("server never told about the disconnect")
	}
	if err := alice.SendMessage("bob", "ghost"); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("send after disconnect: want ErrNoSession, got %v", err)
	}
}
