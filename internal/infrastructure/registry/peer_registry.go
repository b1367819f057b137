package registry

import (
	"sort"
	"sync"
	"time"

	"lanlink/internal/core/domain"
)

// PeerRegistry is the shared table of discovered peers, keyed by IP. All
// mutation goes through one mutex; readers get copies, never references
// into the map.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]domain.Peer

	onFound func(domain.Peer)
	onLost  func(domain.Peer)
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		peers: make(map[string]domain.Peer),
	}
}

// OnPeerFound registers a callback invoked when a previously unknown peer
// appears. Must be set before the registry is shared across goroutines.
func (r *PeerRegistry) OnPeerFound(fn func(domain.Peer)) { r.onFound = fn }

// OnPeerLost registers a callback invoked for every pruned peer.
func (r *PeerRegistry) OnPeerLost(fn func(domain.Peer)) { r.onLost = fn }

// Upsert adds or refreshes a peer entry, stamping LastSeen with now.
func (r *PeerRegistry) Upsert(ip, username string, port int) {
	r.mu.Lock()
	_, known := r.peers[ip]
	peer := domain.Peer{
		IP:       ip,
		Username: username,
		Port:     port,
		LastSeen: time.Now(),
	}
	r.peers[ip] = peer
	r.mu.Unlock()

	if !known && r.onFound != nil {
		r.onFound(peer)
	}
}

// Get returns the peer for ip, or ErrPeerUnknown.
func (r *PeerRegistry) Get(ip string) (domain.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[ip]
	if !ok {
		return domain.Peer{}, domain.ErrPeerUnknown
	}
	return peer, nil
}

// Known reports whether ip belongs to a currently discovered peer. This is
// the transport's access-control check.
func (r *PeerRegistry) Known(ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.peers[ip]
	return ok
}

// Snapshot returns a consistent copy of all peers, sorted by IP.
func (r *PeerRegistry) Snapshot() []domain.Peer {
	r.mu.RLock()
	peers := make([]domain.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].IP < peers[j].IP })
	return peers
}

// Remove drops a peer entry if present.
func (r *PeerRegistry) Remove(ip string) {
	r.mu.Lock()
	delete(r.peers, ip)
	r.mu.Unlock()
}

// Prune removes every peer whose LastSeen is older than ttl and returns
// the removed entries. Lost callbacks fire outside the lock.
func (r *PeerRegistry) Prune(ttl time.Duration) []domain.Peer {
	now := time.Now()

	r.mu.Lock()
	var removed []domain.Peer
	for ip, p := range r.peers {
		if p.Expired(now, ttl) {
			removed = append(removed, p)
			delete(r.peers, ip)
		}
	}
	r.mu.Unlock()

	if r.onLost != nil {
		for _, p := range removed {
			r.onLost(p)
		}
	}
	return removed
}

// Len returns the number of known peers.
func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
