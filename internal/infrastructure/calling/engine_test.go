package calling

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanlink/internal/core/domain"
	"lanlink/internal/infrastructure/registry"
	"lanlink/pkg/logger"
)

type fakeMedia struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
}

func (m *fakeMedia) Start(*domain.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started++
	return nil
}

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *fakeMedia) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.stopped
}

// blockingPrompt never answers, keeping the engine in Ringing.
type blockingPrompt struct{}

func (blockingPrompt) IncomingCall(string, string, domain.CallKind) bool {
	select {}
}

type answerPrompt struct{ accept bool }

func (p answerPrompt) IncomingCall(string, string, domain.CallKind) bool { return p.accept }

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) record(ev string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) CallAccepted(string) { o.record("accepted") }
func (o *recordingObserver) CallRejected(string) { o.record("rejected") }
func (o *recordingObserver) CallBusy(string)     { o.record("busy") }
func (o *recordingObserver) CallEnded(string)    { o.record("ended") }

func (o *recordingObserver) has(ev string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.events {
		if e == ev {
			return true
		}
	}
	return false
}

// controlListener captures control datagrams the engine sends to a peer.
type controlListener struct {
	conn *net.UDPConn
	mu   sync.Mutex
	got  []domain.EnvelopeType
}

func newControlListener(t *testing.T) *controlListener {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	l := &controlListener{conn: conn}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1024)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if env, err := domain.DecodeEnvelope(buf[:n]); err == nil {
				l.mu.Lock()
				l.got = append(l.got, env.Type)
				l.mu.Unlock()
			}
		}
	}()
	return l
}

func (l *controlListener) port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

func (l *controlListener) received(t domain.EnvelopeType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range l.got {
		if g == t {
			return true
		}
	}
	return false
}

func startEngine(t *testing.T, media Media, prompt interface {
	IncomingCall(string, string, domain.CallKind) bool
}, obs *recordingObserver) (*Engine, *registry.PeerRegistry) {
	t.Helper()
	reg := registry.NewPeerRegistry()
	e := NewEngine("local", domain.CallPorts{}, reg, media, prompt, obs, logger.NewNop().Sugar())
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e, reg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func inboundRequest(control int, kind domain.CallKind) *domain.Envelope {
	return &domain.Envelope{
		Type:     domain.TypeCallRequest,
		Username: "alice",
		CallType: kind,
		Ports:    &domain.CallPorts{Audio: 20000, Video: 20001, Control: control},
	}
}

func TestIncomingCallAcceptedStartsMedia(t *testing.T) {
	media := &fakeMedia{}
	obs := &recordingObserver{}
	peer := newControlListener(t)
	e, reg := startEngine(t, media, answerPrompt{accept: true}, obs)
	reg.Upsert("127.0.0.1", "alice", 12345)

	e.handleControl(inboundRequest(peer.port(), domain.CallAudio), "127.0.0.1")

	waitFor(t, func() bool { return e.State() == domain.CallInCall })
	waitFor(t, func() bool { return peer.received(domain.TypeCallAccepted) })

	started, _ := media.counts()
	assert.Equal(t, 1, started)

	sess, ok := e.Session()
	require.True(t, ok)
	assert.Equal(t, domain.RoleCallee, sess.Role)
	assert.Equal(t, 20000, sess.PeerPorts.Audio)
}

func TestIncomingCallRejected(t *testing.T) {
	media := &fakeMedia{}
	peer := newControlListener(t)
	e, reg := startEngine(t, media, answerPrompt{accept: false}, &recordingObserver{})
	reg.Upsert("127.0.0.1", "alice", 12345)

	e.handleControl(inboundRequest(peer.port(), domain.CallAudio), "127.0.0.1")

	waitFor(t, func() bool { return peer.received(domain.TypeCallRejected) })
	waitFor(t, func() bool { return e.State() == domain.CallIdle })

	started, _ := media.counts()
	assert.Equal(t, 0, started)
}

func TestBusyWhileNotIdle(t *testing.T) {
	media := &fakeMedia{}
	peerA := newControlListener(t)
	peerB := newControlListener(t)
	e, reg := startEngine(t, media, blockingPrompt{}, &recordingObserver{})
	reg.Upsert("127.0.0.1", "alice", 12345)

	// First request parks the engine in Ringing (prompt never answers).
	e.handleControl(inboundRequest(peerA.port(), domain.CallAudio), "127.0.0.1")
	assert.Equal(t, domain.CallRinging, e.State())

	// Any further request is answered busy and changes nothing.
	e.handleControl(inboundRequest(peerB.port(), domain.CallVideo), "127.0.0.2")

	waitFor(t, func() bool { return peerB.received(domain.TypeBusy) })
	assert.Equal(t, domain.CallRinging, e.State())
	sess, ok := e.Session()
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", sess.PeerIP)
}

func TestCallWhileBusyFailsLocally(t *testing.T) {
	media := &fakeMedia{}
	peer := newControlListener(t)
	e, reg := startEngine(t, media, blockingPrompt{}, &recordingObserver{})
	reg.Upsert("127.0.0.1", "alice", 12345)
	reg.Upsert("127.0.0.2", "bob", 12345)

	e.handleControl(inboundRequest(peer.port(), domain.CallAudio), "127.0.0.1")
	require.Equal(t, domain.CallRinging, e.State())

	err := e.Call("127.0.0.2", domain.CallAudio)
	assert.ErrorIs(t, err, domain.ErrCallBusy)
}

func TestCallToUnknownPeer(t *testing.T) {
	e, _ := startEngine(t, &fakeMedia{}, answerPrompt{}, &recordingObserver{})
	err := e.Call("10.9.9.9", domain.CallAudio)
	assert.ErrorIs(t, err, domain.ErrPeerUnknown)
}

func TestRemoteHangupStopsMediaFromAnyState(t *testing.T) {
	media := &fakeMedia{}
	obs := &recordingObserver{}
	peer := newControlListener(t)
	e, reg := startEngine(t, media, answerPrompt{accept: true}, obs)
	reg.Upsert("127.0.0.1", "alice", 12345)

	e.handleControl(inboundRequest(peer.port(), domain.CallVideo), "127.0.0.1")
	waitFor(t, func() bool { return e.State() == domain.CallInCall })

	e.handleControl(&domain.Envelope{Type: domain.TypeCallEnded}, "127.0.0.1")
	assert.Equal(t, domain.CallIdle, e.State())
	_, stopped := media.counts()
	assert.Equal(t, 1, stopped)
	waitFor(t, func() bool { return obs.has("ended") })

	// A stray second call_ended is ignored.
	e.handleControl(&domain.Envelope{Type: domain.TypeCallEnded}, "127.0.0.1")
	_, stopped = media.counts()
	assert.Equal(t, 1, stopped)
}

func TestLocalHangupIsIdempotent(t *testing.T) {
	media := &fakeMedia{}
	peer := newControlListener(t)
	e, reg := startEngine(t, media, answerPrompt{accept: true}, &recordingObserver{})
	reg.Upsert("127.0.0.1", "alice", 12345)

	e.handleControl(inboundRequest(peer.port(), domain.CallAudio), "127.0.0.1")
	waitFor(t, func() bool { return e.State() == domain.CallInCall })

	e.Hangup()
	e.Hangup()

	assert.Equal(t, domain.CallIdle, e.State())
	_, stopped := media.counts()
	assert.Equal(t, 1, stopped)
	waitFor(t, func() bool { return peer.received(domain.TypeCallEnded) })
}

func TestAcceptFailsWhenDeviceUnavailable(t *testing.T) {
	media := &fakeMedia{startErr: domain.ErrDeviceUnavailable}
	peer := newControlListener(t)
	e, reg := startEngine(t, media, answerPrompt{accept: true}, &recordingObserver{})
	reg.Upsert("127.0.0.1", "alice", 12345)

	e.handleControl(inboundRequest(peer.port(), domain.CallAudio), "127.0.0.1")

	// The accept goroutine hits the device failure and reverts to Idle.
	waitFor(t, func() bool { return peer.received(domain.TypeCallRejected) })
	waitFor(t, func() bool { return e.State() == domain.CallIdle })
}

func TestCallerTransitionOnAccepted(t *testing.T) {
	media := &fakeMedia{}
	obs := &recordingObserver{}
	peer := newControlListener(t)
	e, reg := startEngine(t, media, answerPrompt{}, obs)
	reg.Upsert("192.0.2.10", "bob", 12345)

	// Drive the caller half of the handshake without the network.
	e.mu.Lock()
	e.state = domain.CallCalling
	e.session = &domain.CallSession{
		PeerIP:     "192.0.2.10",
		Role:       domain.RoleCaller,
		Kind:       domain.CallAudio,
		State:      domain.CallCalling,
		LocalPorts: e.localPorts,
	}
	e.mu.Unlock()

	e.handleControl(&domain.Envelope{
		Type:  domain.TypeCallAccepted,
		Ports: &domain.CallPorts{Audio: 21000, Video: 21001, Control: peer.port()},
	}, "192.0.2.10")

	assert.Equal(t, domain.CallInCall, e.State())
	started, _ := media.counts()
	assert.Equal(t, 1, started)
	waitFor(t, func() bool { return obs.has("accepted") })

	sess, _ := e.Session()
	assert.Equal(t, 21000, sess.PeerPorts.Audio)
}

func TestCallerTransitionOnRejectedAndBusy(t *testing.T) {
	for _, tc := range []struct {
		envType domain.EnvelopeType
		event   string
	}{
		{domain.TypeCallRejected, "rejected"},
		{domain.TypeBusy, "busy"},
	} {
		t.Run(string(tc.envType), func(t *testing.T) {
			obs := &recordingObserver{}
			e, reg := startEngine(t, &fakeMedia{}, answerPrompt{}, obs)
			reg.Upsert("192.0.2.10", "bob", 12345)

			e.mu.Lock()
			e.state = domain.CallCalling
			e.session = &domain.CallSession{PeerIP: "192.0.2.10", Role: domain.RoleCaller, State: domain.CallCalling}
			e.mu.Unlock()

			e.handleControl(&domain.Envelope{Type: tc.envType}, "192.0.2.10")

			assert.Equal(t, domain.CallIdle, e.State())
			waitFor(t, func() bool { return obs.has(tc.event) })
		})
	}
}
