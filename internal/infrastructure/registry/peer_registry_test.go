package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanlink/internal/core/domain"
)

func TestUpsertAndGet(t *testing.T) {
	r := NewPeerRegistry()
	r.Upsert("192.168.1.10", "alice", 12345)

	peer, err := r.Get("192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, "alice", peer.Username)
	assert.Equal(t, 12345, peer.Port)
	assert.WithinDuration(t, time.Now(), peer.LastSeen, time.Second)

	_, err = r.Get("192.168.1.99")
	assert.ErrorIs(t, err, domain.ErrPeerUnknown)
}

func TestUpsertRefreshesLastSeen(t *testing.T) {
	r := NewPeerRegistry()
	r.Upsert("192.168.1.10", "alice", 12345)
	first, _ := r.Get("192.168.1.10")

	time.Sleep(10 * time.Millisecond)
	r.Upsert("192.168.1.10", "alice", 12345)
	second, _ := r.Get("192.168.1.10")

	assert.True(t, second.LastSeen.After(first.LastSeen))
}

func TestPruneRemovesExpiredPeers(t *testing.T) {
	r := NewPeerRegistry()

	var lost []string
	r.OnPeerLost(func(p domain.Peer) { lost = append(lost, p.IP) })

	r.Upsert("192.168.1.10", "alice", 12345)
	r.Upsert("192.168.1.11", "bob", 12345)

	time.Sleep(30 * time.Millisecond)
	r.Upsert("192.168.1.11", "bob", 12345) // bob stays fresh

	removed := r.Prune(20 * time.Millisecond)
	require.Len(t, removed, 1)
	assert.Equal(t, "192.168.1.10", removed[0].IP)
	assert.Equal(t, []string{"192.168.1.10"}, lost)

	assert.False(t, r.Known("192.168.1.10"))
	assert.True(t, r.Known("192.168.1.11"))
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	r := NewPeerRegistry()
	r.Upsert("192.168.1.20", "carol", 1)
	r.Upsert("192.168.1.10", "alice", 1)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "192.168.1.10", snap[0].IP)
	assert.Equal(t, "192.168.1.20", snap[1].IP)

	// Mutating the snapshot must not touch the registry.
	snap[0].Username = "mallory"
	peer, _ := r.Get("192.168.1.10")
	assert.Equal(t, "alice", peer.Username)
}

func TestPeerFoundFiresOnceUntilPruned(t *testing.T) {
	r := NewPeerRegistry()

	var found int
	r.OnPeerFound(func(domain.Peer) { found++ })

	r.Upsert("192.168.1.10", "alice", 1)
	r.Upsert("192.168.1.10", "alice", 1)
	assert.Equal(t, 1, found)

	r.Remove("192.168.1.10")
	r.Upsert("192.168.1.10", "alice", 1)
	assert.Equal(t, 2, found)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewPeerRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Upsert("192.168.1.10", "alice", 1)
				r.Known("192.168.1.10")
				r.Snapshot()
				r.Prune(time.Minute)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
}
