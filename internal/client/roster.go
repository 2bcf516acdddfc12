package client

import (
	"sync"

	"pigeon/internal/domain"
)

// Roster is the client's cache of everyone related to the current user,
// partitioned by status, plus the per-peer tunnel bookkeeping for live chats.
// Status entries and the partitions move in lockstep under one mutex; tunnel
// state has its own.
type Roster struct {
	mu       sync.Mutex
	byUser   map[string]domain.StatusType
	byStatus map[domain.StatusType]map[string]struct{}
	observer func(domain.RemoteUser)

	tmu      sync.Mutex
	inbound  map[string]domain.TunnelHandle // local tunnels opened per peer
	outbound map[string]domain.TunnelHandle // peer tunnels to push to
}

// NewRoster returns an empty roster. observer, if non-nil, is invoked after
// every status change so a UI can repaint; it runs on the caller's goroutine
// and must not call back into the roster.
func NewRoster(observer func(domain.RemoteUser)) *Roster {
	r := &Roster{
		byUser:   make(map[string]domain.StatusType),
		byStatus: make(map[domain.StatusType]map[string]struct{}),
		observer: observer,
		inbound:  make(map[string]domain.TunnelHandle),
		outbound: make(map[string]domain.TunnelHandle),
	}
	for _, status := range domain.Statuses {
		r.byStatus[status] = make(map[string]struct{})
	}
	return r
}

// ReplaceAll resets the cache to users, as after a fresh retrieval.
func (r *Roster) ReplaceAll(users []domain.RemoteUser) {
	r.mu.Lock()
	r.byUser = make(map[string]domain.StatusType, len(users))
	for _, status := range domain.Statuses {
		r.byStatus[status] = make(map[string]struct{})
	}
	for _, user := range users {
		r.byUser[user.Username] = user.Status
		r.byStatus[user.Status][user.Username] = struct{}{}
	}
	r.mu.Unlock()
}

// Update applies a status change, adding the user if absent. NOT_RELATED
// removes the entry instead: the relation is gone and the cache must not
// retain a ghost of it. A status outside the known set is dropped rather
// than poisoning the partitions.
func (r *Roster) Update(user domain.RemoteUser) {
	if user.Status == domain.StatusNotRelated {
		r.Remove(user.Username)
		return
	}
	if !user.Status.Valid() {
		return
	}

	r.mu.Lock()
	prior, known := r.byUser[user.Username]
	// A pending request flipping direction means the requests crossed and
	// were auto-accepted; the peer had to be online to cause the flip, so
	// the entry becomes ONLINE even if the explicit notification was lost.
	if known && requestFlip(prior, user.Status) {
		user.Status = domain.StatusOnline
	}
	if known {
		delete(r.byStatus[prior], user.Username)
	}
	r.byUser[user.Username] = user.Status
	r.byStatus[user.Status][user.Username] = struct{}{}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer(user)
	}
}

func requestFlip(prior, next domain.StatusType) bool {
	return (prior == domain.StatusRequestSent && next == domain.StatusRequestReceived) ||
		(prior == domain.StatusRequestReceived && next == domain.StatusRequestSent)
}

// Remove drops the user from the cache entirely.
func (r *Roster) Remove(username string) {
	r.mu.Lock()
	prior, ok := r.byUser[username]
	if ok {
		delete(r.byUser, username)
		delete(r.byStatus[prior], username)
	}
	r.mu.Unlock()

	if ok && r.observer != nil {
		r.observer(domain.RemoteUser{Username: username, Status: domain.StatusNotRelated})
	}
}

// Get returns the cached status of username.
func (r *Roster) Get(username string) (domain.StatusType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.byUser[username]
	return status, ok
}

// List returns the cached users, all of them or only those with the given
// status.
func (r *Roster) List(filter domain.StatusType) []domain.RemoteUser {
	r.mu.Lock()
	defer r.mu.Unlock()

	if filter == "" {
		users := make([]domain.RemoteUser, 0, len(r.byUser))
		for username, status := range r.byUser {
			users = append(users, domain.RemoteUser{Username: username, Status: status})
		}
		return users
	}

	members := r.byStatus[filter]
	users := make([]domain.RemoteUser, 0, len(members))
	for username := range members {
		users = append(users, domain.RemoteUser{Username: username, Status: filter})
	}
	return users
}

// Friend reports whether username is cached as an accepted friend.
func (r *Roster) Friend(username string) bool {
	status, ok := r.Get(username)
	return ok && status.Friendly()
}

// StoreInbound records the local tunnel opened for peer.
func (r *Roster) StoreInbound(peer string, tunnel domain.TunnelHandle) {
	r.tmu.Lock()
	r.inbound[peer] = tunnel
	r.tmu.Unlock()
}

// InboundTunnel returns the local tunnel already opened for peer, making
// tunnel preparation idempotent.
func (r *Roster) InboundTunnel(peer string) (domain.TunnelHandle, bool) {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	tunnel, ok := r.inbound[peer]
	return tunnel, ok
}

// StoreOutbound records the peer's tunnel to push messages to.
func (r *Roster) StoreOutbound(peer string, tunnel domain.TunnelHandle) {
	r.tmu.Lock()
	r.outbound[peer] = tunnel
	r.tmu.Unlock()
}

// Outbound returns the peer's stored tunnel.
func (r *Roster) Outbound(peer string) (domain.TunnelHandle, bool) {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	tunnel, ok := r.outbound[peer]
	return tunnel, ok
}

// ChatReady reports whether a chat with peer is fully established in both
// directions.
func (r *Roster) ChatReady(peer string) bool {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	_, in := r.inbound[peer]
	_, out := r.outbound[peer]
	return in && out
}

// ClearTunnels forgets the tunnel state for peer and reports whether any
// existed. Safe to call repeatedly.
func (r *Roster) ClearTunnels(peer string) bool {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	_, in := r.inbound[peer]
	_, out := r.outbound[peer]
	delete(r.inbound, peer)
	delete(r.outbound, peer)
	return in || out
}

// ClearAllTunnels forgets every peer's tunnel state and returns the peers
// that had any.
func (r *Roster) ClearAllTunnels() []string {
	r.tmu.Lock()
	defer r.tmu.Unlock()

	peers := make(map[string]struct{}, len(r.inbound)+len(r.outbound))
	for peer := range r.inbound {
		peers[peer] = struct{}{}
	}
	for peer := range r.outbound {
		peers[peer] = struct{}{}
	}
	r.inbound = make(map[string]domain.TunnelHandle)
	r.outbound = make(map[string]domain.TunnelHandle)

	out := make([]string, 0, len(peers))
	for peer := range peers {
		out = append(out, peer)
	}
	return out
}
