package media

import (
	"errors"
	"image"
	"image/color"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/pkg/logger"
)

type fakeAudioSource struct {
	frames    chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeAudioSource(frames ...[]byte) *fakeAudioSource {
	s := &fakeAudioSource{
		frames: make(chan []byte, len(frames)),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		s.frames <- f
	}
	return s
}

func (s *fakeAudioSource) Read(buf []byte) (int, error) {
	select {
	case f := <-s.frames:
		return copy(buf, f), nil
	case <-s.closed:
		return 0, io.EOF
	}
}

func (s *fakeAudioSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeAudioSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeAudioSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *fakeAudioSink) Write(frame []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return len(frame), nil
}

func (s *fakeAudioSink) Close() error { return nil }

func (s *fakeAudioSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeVideoSource struct {
	frame     image.Image
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeVideoSource(frame image.Image) *fakeVideoSource {
	return &fakeVideoSource{frame: frame, closed: make(chan struct{})}
}

func (s *fakeVideoSource) Capture() (image.Image, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	default:
		return s.frame, nil
	}
}

func (s *fakeVideoSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeRenderer struct {
	mu     sync.Mutex
	frames []image.Image
}

func (r *fakeRenderer) Render(frame image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *fakeRenderer) Close() error { return nil }

func (r *fakeRenderer) first() (image.Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil, false
	}
	return r.frames[0], true
}

type fakeProvider struct {
	audioSrc  *fakeAudioSource
	audioSink *fakeAudioSink
	videoSrc  *fakeVideoSource
	renderer  *fakeRenderer

	audioSinkErr error
}

func (p *fakeProvider) OpenAudioSource() (ports.AudioSource, error) { return p.audioSrc, nil }

func (p *fakeProvider) OpenAudioSink() (ports.AudioSink, error) {
	if p.audioSinkErr != nil {
		return nil, p.audioSinkErr
	}
	return p.audioSink, nil
}

func (p *fakeProvider) OpenVideoSource() (ports.VideoSource, error) { return p.videoSrc, nil }

func (p *fakeProvider) OpenVideoRenderer() (ports.VideoRenderer, error) { return p.renderer, nil }

// freePort reserves an ephemeral UDP port and releases it for the engine.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func testConfig() Config {
	return Config{
		AudioFrameSamples: 1024,
		VideoWidth:        320,
		VideoHeight:       240,
		VideoFPS:          30,
		JPEGQuality:       80,
		ChunkThreshold:    60000,
		ReassemblyTimeout: 2 * time.Second,
	}
}

// loopbackSession streams to our own ports so one engine exercises both
// directions of each channel.
func loopbackSession(kind domain.CallKind, audioPort, videoPort int) *domain.CallSession {
	ports := domain.CallPorts{Audio: audioPort, Video: videoPort}
	return &domain.CallSession{
		PeerIP:     "127.0.0.1",
		Kind:       kind,
		State:      domain.CallInCall,
		LocalPorts: ports,
		PeerPorts:  ports,
	}
}

func TestAudioLoopback(t *testing.T) {
	frame := make([]byte, 2048)
	for i := range frame {
		frame[i] = byte(i)
	}
	src := newFakeAudioSource(frame, frame, frame)
	sink := &fakeAudioSink{}
	provider := &fakeProvider{audioSrc: src, audioSink: sink}

	e := NewEngine(testConfig(), provider, logger.NewNop().Sugar())
	session := loopbackSession(domain.CallAudio, freePort(t), 0)

	require.NoError(t, e.Start(session))
	defer e.Stop()

	waitFor(t, func() bool { return sink.count() >= 3 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, frame, sink.frames[0])
}

func TestVideoLoopbackWithChunking(t *testing.T) {
	// A noisy source frame keeps the JPEG well above the tiny threshold,
	// forcing the chunked path over a real socket.
	src := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			src.Set(x, y, color.RGBA{byte(x * y), byte(x ^ y), byte(x + y), 255})
		}
	}

	cfg := testConfig()
	cfg.ChunkThreshold = 1000

	renderer := &fakeRenderer{}
	provider := &fakeProvider{
		audioSrc:  newFakeAudioSource(),
		audioSink: &fakeAudioSink{},
		videoSrc:  newFakeVideoSource(src),
		renderer:  renderer,
	}

	e := NewEngine(cfg, provider, logger.NewNop().Sugar())
	session := loopbackSession(domain.CallVideo, freePort(t), freePort(t))

	require.NoError(t, e.Start(session))
	defer e.Stop()

	waitFor(t, func() bool { _, ok := renderer.first(); return ok })

	frame, _ := renderer.first()
	assert.Equal(t, 320, frame.Bounds().Dx())
	assert.Equal(t, 240, frame.Bounds().Dy())
}

func TestStartFailsWhenDeviceUnavailable(t *testing.T) {
	src := newFakeAudioSource()
	provider := &fakeProvider{
		audioSrc:     src,
		audioSinkErr: errors.New("no output device"),
	}

	e := NewEngine(testConfig(), provider, logger.NewNop().Sugar())
	err := e.Start(loopbackSession(domain.CallAudio, freePort(t), 0))

	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	// The half-opened source is released on the failed start.
	assert.True(t, src.isClosed())
}

func TestStopIsIdempotentAndReleasesDevices(t *testing.T) {
	src := newFakeAudioSource()
	provider := &fakeProvider{audioSrc: src, audioSink: &fakeAudioSink{}}

	e := NewEngine(testConfig(), provider, logger.NewNop().Sugar())
	require.NoError(t, e.Start(loopbackSession(domain.CallAudio, freePort(t), 0)))

	e.Stop()
	e.Stop()

	assert.True(t, src.isClosed())
}

func TestSecondStartWhileRunningFails(t *testing.T) {
	provider := &fakeProvider{audioSrc: newFakeAudioSource(), audioSink: &fakeAudioSink{}}

	e := NewEngine(testConfig(), provider, logger.NewNop().Sugar())
	session := loopbackSession(domain.CallAudio, freePort(t), 0)
	require.NoError(t, e.Start(session))
	defer e.Stop()

	assert.Error(t, e.Start(session))
}
