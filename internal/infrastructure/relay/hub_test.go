package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanlink/internal/core/domain"
	"lanlink/pkg/logger"
)

func startHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, logger.NewNop().Sugar())
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialClient(t *testing.T, url, username string) *Client {
	t.Helper()
	c, err := Dial(url, username, logger.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func awaitPeers(t *testing.T, c *Client, want ...string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case entries, ok := <-c.Peers():
			require.True(t, ok, "peer channel closed")
			ids := make([]string, len(entries))
			for i, e := range entries {
				ids[i] = e.ID
			}
			if assert.ObjectsAreEqual(want, ids) {
				return
			}
		case <-deadline:
			t.Fatalf("never saw peer list %v", want)
		}
	}
}

func awaitEnvelope(t *testing.T, c *Client) *domain.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Envelopes():
		require.True(t, ok, "envelope channel closed")
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no envelope arrived")
		return nil
	}
}

func TestRegisterBroadcastsPeerList(t *testing.T) {
	hub, url := startHub(t, DefaultConfig())

	alice := dialClient(t, url, "alice")
	awaitPeers(t, alice, "alice")

	bob := dialClient(t, url, "bob")
	awaitPeers(t, bob, "alice", "bob")
	awaitPeers(t, alice, "alice", "bob")

	assert.Equal(t, []string{"alice", "bob"}, hub.Clients())
}

func TestOfferRoutedToTargetOnly(t *testing.T) {
	_, url := startHub(t, DefaultConfig())

	alice := dialClient(t, url, "alice")
	bob := dialClient(t, url, "bob")
	carol := dialClient(t, url, "carol")

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}
	require.NoError(t, alice.SendOffer("bob", sdp))

	env := awaitEnvelope(t, bob)
	assert.Equal(t, domain.TypeOffer, env.Type)
	assert.Equal(t, "alice", env.Sender)

	var got webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, sdp, got)

	// Carol sees nothing but peer list churn.
	select {
	case env := <-carol.Envelopes():
		t.Fatalf("unexpected envelope for carol: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOfferToMissingTarget(t *testing.T) {
	_, url := startHub(t, DefaultConfig())

	alice := dialClient(t, url, "alice")
	require.NoError(t, alice.SendOffer("nobody", webrtc.SessionDescription{SDP: "v=0"}))

	env := awaitEnvelope(t, alice)
	assert.Equal(t, domain.TypeError, env.Type)
	assert.Equal(t, "target not connected", env.Error)
}

func TestAnswerAndCandidateRouting(t *testing.T) {
	_, url := startHub(t, DefaultConfig())

	alice := dialClient(t, url, "alice")
	bob := dialClient(t, url, "bob")

	require.NoError(t, bob.SendAnswer("alice", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}))
	env := awaitEnvelope(t, alice)
	assert.Equal(t, domain.TypeAnswer, env.Type)
	assert.Equal(t, "bob", env.Sender)

	require.NoError(t, alice.SendCandidate("bob", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}))
	env = awaitEnvelope(t, bob)
	assert.Equal(t, domain.TypeICECandidate, env.Type)

	var cand webrtc.ICECandidateInit
	require.NoError(t, json.Unmarshal(env.Payload, &cand))
	assert.Contains(t, cand.Candidate, "typ host")
}

func TestUnknownTypeBroadcastsToOthers(t *testing.T) {
	_, url := startHub(t, DefaultConfig())

	alice := dialClient(t, url, "alice")
	bob := dialClient(t, url, "bob")
	carol := dialClient(t, url, "carol")

	require.NoError(t, alice.SendText("hello room"))

	for _, c := range []*Client{bob, carol} {
		env := awaitEnvelope(t, c)
		assert.Equal(t, domain.TypeText, env.Type)
		assert.Equal(t, "hello room", env.Content)
		assert.Equal(t, "alice", env.Sender)
	}

	// The sender does not hear its own broadcast.
	select {
	case env := <-alice.Envelopes():
		t.Fatalf("broadcast echoed to sender: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDisconnectRebroadcastsPeerList(t *testing.T) {
	hub, url := startHub(t, DefaultConfig())

	alice := dialClient(t, url, "alice")
	bob := dialClient(t, url, "bob")
	awaitPeers(t, alice, "alice", "bob")

	bob.Close()

	awaitPeers(t, alice, "alice")
	assert.Equal(t, []string{"alice"}, hub.Clients())
}

func TestRateLimitRejectsFlood(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessagesPerSecond = 1
	cfg.Burst = 2
	_, url := startHub(t, cfg)

	alice := dialClient(t, url, "alice")
	dialClient(t, url, "bob")

	for i := 0; i < 5; i++ {
		require.NoError(t, alice.SendText("flood"))
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-alice.Envelopes():
			if env.Type == domain.TypeError && env.Error == "rate limit exceeded" {
				return
			}
		case <-deadline:
			t.Fatal("flood was never rate limited")
		}
	}
}

func TestUnregisteredFirstMessageIsRejected(t *testing.T) {
	hub, url := startHub(t, DefaultConfig())
	_ = hub

	c, err := Dial(url, "", logger.NewNop().Sugar())
	require.NoError(t, err)
	defer c.Close()

	// An empty username fails register validation; the hub answers with an
	// error envelope and drops the connection.
	env := awaitEnvelope(t, c)
	assert.Equal(t, domain.TypeError, env.Type)
}
