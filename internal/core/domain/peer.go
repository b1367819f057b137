package domain

import "time"

// Peer is a remote host known via discovery. Peers are keyed by IP and carry
// no persistent identity; an entry lives only as long as discovery keeps
// refreshing it.
type Peer struct {
	IP       string
	Username string
	Port     int
	LastSeen time.Time
}

// Expired reports whether the peer has not been seen within ttl.
func (p Peer) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.LastSeen) > ttl
}
