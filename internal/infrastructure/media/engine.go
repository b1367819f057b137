package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// Config carries the stream parameters for one node.
type Config struct {
	AudioFrameSamples int
	VideoWidth        int
	VideoHeight       int
	VideoFPS          int
	JPEGQuality       int
	ChunkThreshold    int
	ReassemblyTimeout time.Duration
	Meter             Meter
}

// Meter receives stream counters. A nil meter disables accounting.
type Meter interface {
	RecordAudioSent(bytes int)
	RecordAudioReceived(bytes int)
	RecordVideoFrameSent(bytes int)
	RecordVideoFrameReassembled(bytes int)
	RecordVideoFrameDropped()
}

// Engine runs the datagram streams of one call: an audio send/receive pair
// and, for video calls, a video send/receive pair on top of it. At most one
// call streams at a time.
type Engine struct {
	cfg     Config
	devices ports.DeviceProvider
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	audioConn *net.UDPConn
	videoConn *net.UDPConn

	audioSrc  ports.AudioSource
	audioSink ports.AudioSink
	videoSrc  ports.VideoSource
	renderer  ports.VideoRenderer
}

func NewEngine(cfg Config, devices ports.DeviceProvider, logger *zap.SugaredLogger) *Engine {
	if cfg.ReassemblyTimeout <= 0 {
		cfg.ReassemblyTimeout = 2 * time.Second
	}
	return &Engine{cfg: cfg, devices: devices, logger: logger}
}

// Start opens the devices and sockets for the session and launches the
// stream loops. Device failures surface as ErrDeviceUnavailable so the
// signaling layer can abort call setup.
func (e *Engine) Start(session *domain.CallSession) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("media session already running")
	}

	peerIP := net.ParseIP(session.PeerIP)
	if peerIP == nil {
		return fmt.Errorf("invalid peer address %q", session.PeerIP)
	}

	if err := e.openDevices(session.Kind); err != nil {
		e.closeDevicesLocked()
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	audioConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: session.LocalPorts.Audio})
	if err != nil {
		e.closeDevicesLocked()
		return fmt.Errorf("failed to bind audio port %d: %w", session.LocalPorts.Audio, err)
	}
	e.audioConn = audioConn

	if session.Kind == domain.CallVideo {
		videoConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: session.LocalPorts.Video})
		if err != nil {
			audioConn.Close()
			e.audioConn = nil
			e.closeDevicesLocked()
			return fmt.Errorf("failed to bind video port %d: %w", session.LocalPorts.Video, err)
		}
		e.videoConn = videoConn
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true

	audioPeer := &net.UDPAddr{IP: peerIP, Port: session.PeerPorts.Audio}
	e.wg.Add(2)
	go e.sendAudio(ctx, e.audioSrc, audioConn, audioPeer)
	go e.receiveAudio(ctx, e.audioSink, audioConn)

	if session.Kind == domain.CallVideo {
		videoPeer := &net.UDPAddr{IP: peerIP, Port: session.PeerPorts.Video}
		e.wg.Add(2)
		go e.sendVideo(ctx, e.videoSrc, e.videoConn, videoPeer)
		go e.receiveVideo(ctx, e.renderer, e.videoConn)
	}

	e.logger.Infow("media streams started",
		"peer", session.PeerIP, "kind", session.Kind,
		"audio_port", session.LocalPorts.Audio, "video_port", session.LocalPorts.Video)
	return nil
}

// Stop tears the session down: stream loops are cancelled, sockets closed to
// unblock reads, devices released. Calling it with no session running is a
// no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	if e.audioConn != nil {
		e.audioConn.Close()
	}
	if e.videoConn != nil {
		e.videoConn.Close()
	}
	// Closing the devices unblocks any stream loop parked in a capture read.
	e.closeDevicesLocked()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.audioConn = nil
	e.videoConn = nil
	e.mu.Unlock()

	e.logger.Info("media streams stopped")
}

func (e *Engine) openDevices(kind domain.CallKind) error {
	var err error
	if e.audioSrc, err = e.devices.OpenAudioSource(); err != nil {
		return fmt.Errorf("audio input: %v", err)
	}
	if e.audioSink, err = e.devices.OpenAudioSink(); err != nil {
		return fmt.Errorf("audio output: %v", err)
	}
	if kind != domain.CallVideo {
		return nil
	}
	if e.videoSrc, err = e.devices.OpenVideoSource(); err != nil {
		return fmt.Errorf("camera: %v", err)
	}
	if e.renderer, err = e.devices.OpenVideoRenderer(); err != nil {
		return fmt.Errorf("video output: %v", err)
	}
	return nil
}

func (e *Engine) closeDevicesLocked() {
	if e.audioSrc != nil {
		e.audioSrc.Close()
		e.audioSrc = nil
	}
	if e.audioSink != nil {
		e.audioSink.Close()
		e.audioSink = nil
	}
	if e.videoSrc != nil {
		e.videoSrc.Close()
		e.videoSrc = nil
	}
	if e.renderer != nil {
		e.renderer.Close()
		e.renderer = nil
	}
}

// sendAudio reads fixed-size PCM frames from the input device and sends one
// datagram per frame.
func (e *Engine) sendAudio(ctx context.Context, src ports.AudioSource, conn *net.UDPConn, peer *net.UDPAddr) {
	defer e.wg.Done()

	// 16-bit mono samples.
	buf := make([]byte, e.cfg.AudioFrameSamples*2)
	for ctx.Err() == nil {
		n, err := src.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Warnw("audio capture stopped", "error", err)
			}
			return
		}
		if _, err := conn.WriteToUDP(buf[:n], peer); err != nil {
			if ctx.Err() == nil {
				e.logger.Warnw("audio send error", "error", err)
			}
			return
		}
		if e.cfg.Meter != nil {
			e.cfg.Meter.RecordAudioSent(n)
		}
	}
}

func (e *Engine) receiveAudio(ctx context.Context, sink ports.AudioSink, conn *net.UDPConn) {
	defer e.wg.Done()

	buf := make([]byte, e.cfg.AudioFrameSamples*4)
	for ctx.Err() == nil {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Warnw("audio receive error", "error", err)
			}
			return
		}
		if _, err := sink.Write(buf[:n]); err != nil {
			if ctx.Err() == nil {
				e.logger.Warnw("audio playback error", "error", err)
			}
			return
		}
		if e.cfg.Meter != nil {
			e.cfg.Meter.RecordAudioReceived(n)
		}
	}
}

// sendVideo captures, scales and JPEG-encodes frames at the configured rate,
// splitting any frame over the chunk threshold.
func (e *Engine) sendVideo(ctx context.Context, src ports.VideoSource, conn *net.UDPConn, peer *net.UDPAddr) {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.VideoFPS))
	defer ticker.Stop()

	var encoded bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := src.Capture()
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Warnw("video capture stopped", "error", err)
			}
			return
		}

		encoded.Reset()
		if err := jpeg.Encode(&encoded, e.scale(frame), &jpeg.Options{Quality: e.cfg.JPEGQuality}); err != nil {
			e.logger.Warnw("frame encode error", "error", err)
			continue
		}

		for _, pkt := range packetizeFrame(encoded.Bytes(), e.cfg.ChunkThreshold) {
			if _, err := conn.WriteToUDP(pkt, peer); err != nil {
				if ctx.Err() == nil {
					e.logger.Warnw("video send error", "error", err)
				}
				return
			}
		}
		if e.cfg.Meter != nil {
			e.cfg.Meter.RecordVideoFrameSent(encoded.Len())
		}
	}
}

func (e *Engine) receiveVideo(ctx context.Context, renderer ports.VideoRenderer, conn *net.UDPConn) {
	defer e.wg.Done()

	frames := newReassemblyBuffer(e.cfg.ReassemblyTimeout)
	buf := make([]byte, maxVideoDatagram)

	for ctx.Err() == nil {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Warnw("video receive error", "error", err)
			}
			return
		}

		single, chunk, ok := parseVideoPacket(buf[:n])
		if !ok {
			continue
		}

		var data []byte
		if chunk != nil {
			// Copy out of the shared read buffer before it is reused.
			chunk.payload = append([]byte(nil), chunk.payload...)
			complete, done := frames.add(addr.IP.String(), chunk, time.Now())
			if !done {
				continue
			}
			data = complete
		} else {
			data = single
		}

		frame, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			// Dropped frames are invisible at 15fps; the stream recovers
			// on the next one.
			if e.cfg.Meter != nil {
				e.cfg.Meter.RecordVideoFrameDropped()
			}
			continue
		}
		if e.cfg.Meter != nil {
			e.cfg.Meter.RecordVideoFrameReassembled(len(data))
		}
		if err := renderer.Render(frame); err != nil {
			if ctx.Err() == nil {
				e.logger.Warnw("video render error", "error", err)
			}
			return
		}
	}
}

// scale fits the captured frame to the configured resolution.
func (e *Engine) scale(frame image.Image) image.Image {
	bounds := frame.Bounds()
	if bounds.Dx() == e.cfg.VideoWidth && bounds.Dy() == e.cfg.VideoHeight {
		return frame
	}
	dst := image.NewRGBA(image.Rect(0, 0, e.cfg.VideoWidth, e.cfg.VideoHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, bounds, draw.Over, nil)
	return dst
}
