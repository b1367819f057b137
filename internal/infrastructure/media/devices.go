package media

import (
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/ports"
)

// SyntheticProvider supplies stand-in devices: a silent microphone paced at
// capture rate, a discarding speaker, a moving test pattern camera and a
// renderer that only counts frames. Used when no hardware capture backend
// is wired in.
type SyntheticProvider struct {
	SampleRate int
	Width      int
	Height     int
	Logger     *zap.SugaredLogger
}

func (p *SyntheticProvider) OpenAudioSource() (ports.AudioSource, error) {
	rate := p.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	return &silenceSource{sampleRate: rate, closed: make(chan struct{})}, nil
}

func (p *SyntheticProvider) OpenAudioSink() (ports.AudioSink, error) {
	return discardSink{}, nil
}

func (p *SyntheticProvider) OpenVideoSource() (ports.VideoSource, error) {
	w, h := p.Width, p.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	return &patternSource{width: w, height: h, closed: make(chan struct{})}, nil
}

func (p *SyntheticProvider) OpenVideoRenderer() (ports.VideoRenderer, error) {
	return &countingRenderer{logger: p.Logger}, nil
}

// silenceSource emits zeroed PCM frames at the pace a real microphone would.
type silenceSource struct {
	sampleRate int
	closeOnce  sync.Once
	closed     chan struct{}
}

func (s *silenceSource) Read(buf []byte) (int, error) {
	samples := len(buf) / 2
	frameDuration := time.Duration(samples) * time.Second / time.Duration(s.sampleRate)

	select {
	case <-s.closed:
		return 0, io.EOF
	case <-time.After(frameDuration):
	}

	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

func (s *silenceSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type discardSink struct{}

func (discardSink) Write(frame []byte) (int, error) { return len(frame), nil }

func (discardSink) Close() error { return nil }

// patternSource paints a sliding gradient so consecutive frames differ.
type patternSource struct {
	width, height int
	tick          int
	closeOnce     sync.Once
	closed        chan struct{}
}

func (s *patternSource) Capture() (image.Image, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	default:
	}

	s.tick++
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + s.tick) % 256),
				G: uint8((y + s.tick) % 256),
				B: uint8(s.tick % 256),
				A: 255,
			})
		}
	}
	return img, nil
}

func (s *patternSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type countingRenderer struct {
	logger *zap.SugaredLogger
	frames int
}

func (r *countingRenderer) Render(image.Image) error {
	r.frames++
	if r.logger != nil && r.frames%150 == 0 {
		r.logger.Debugw("remote video flowing", "frames", r.frames)
	}
	return nil
}

func (r *countingRenderer) Close() error { return nil }
