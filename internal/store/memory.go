package store

import (
	"context"
	"sync"

	"pigeon/internal/domain"
)

const (
	edgeRequested = "requested"
	edgeFriends   = "friends"
)

type edge struct {
	sender   string
	receiver string
}

// Memory is an in-process UserStore and RelationStore. It backs the test
// suites and `pigeond` in memory mode. A single mutex guards both tables so
// every compound transition is atomic by construction.
type Memory struct {
	mu    sync.Mutex
	users map[string]domain.User
	edges map[edge]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]domain.User),
		edges: make(map[edge]string),
	}
}

func (m *Memory) CreateUser(ctx context.Context, username string, hash, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return domain.ErrUsernameTaken
	}
	m.users[username] = domain.User{Username: username, PasswordHash: hash, PasswordSalt: salt}
	return nil
}

func (m *Memory) GetUser(ctx context.Context, username string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return domain.User{}, domain.ErrUnknownUser
	}
	return user, nil
}

func (m *Memory) UpdatePassword(ctx context.Context, username string, hash, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return domain.ErrUnknownUser
	}
	user.PasswordHash = hash
	user.PasswordSalt = salt
	m.users[username] = user
	return nil
}

func (m *Memory) PromoteIfRequested(ctx context.Context, me, peer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edges[edge{peer, me}] != edgeRequested {
		return false, nil
	}
	m.edges[edge{peer, me}] = edgeFriends
	m.edges[edge{me, peer}] = edgeFriends
	return true, nil
}

func (m *Memory) SetRequested(ctx context.Context, me, peer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.edges[edge{me, peer}]; ok {
		return domain.ErrAlreadyRelated
	}
	if _, ok := m.edges[edge{peer, me}]; ok {
		return domain.ErrAlreadyRelated
	}
	m.edges[edge{me, peer}] = edgeRequested
	return nil
}

func (m *Memory) AcceptRequest(ctx context.Context, me, peer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edges[edge{peer, me}] != edgeRequested {
		return domain.ErrNoPendingRequest
	}
	m.edges[edge{peer, me}] = edgeFriends
	m.edges[edge{me, peer}] = edgeFriends
	return nil
}

func (m *Memory) DeleteRequest(ctx context.Context, me, peer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edges[edge{peer, me}] != edgeRequested {
		return domain.ErrNoPendingRequest
	}
	delete(m.edges, edge{peer, me})
	return nil
}

func (m *Memory) DeleteFriendship(ctx context.Context, me, peer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edges[edge{me, peer}] != edgeFriends || m.edges[edge{peer, me}] != edgeFriends {
		return domain.ErrNotFriends
	}
	delete(m.edges, edge{me, peer})
	delete(m.edges, edge{peer, me})
	return nil
}

func (m *Memory) AreFriends(ctx context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edges[edge{a, b}] == edgeFriends && m.edges[edge{b, a}] == edgeFriends, nil
}

func (m *Memory) ListRelations(ctx context.Context, me string) ([]domain.Relation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var relations []domain.Relation
	for e, status := range m.edges {
		switch {
		case e.sender == me && status == edgeFriends:
			relations = append(relations, domain.Relation{Peer: e.receiver, State: domain.RelationFriends})
		case e.sender == me && status == edgeRequested:
			relations = append(relations, domain.Relation{Peer: e.receiver, State: domain.RelationRequestSent})
		case e.receiver == me && status == edgeRequested:
			relations = append(relations, domain.Relation{Peer: e.sender, State: domain.RelationRequestReceived})
		}
		// Friends edges pointing at me mirror the outgoing ones and fold
		// into the same relation, so they are skipped.
	}
	return relations, nil
}

var (
	_ domain.UserStore     = (*Memory)(nil)
	_ domain.RelationStore = (*Memory)(nil)
)
