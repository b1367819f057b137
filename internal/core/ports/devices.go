package ports

import "image"

// AudioSource captures raw PCM frames from the local input device. Read
// fills buf with exactly one frame and blocks until it is available.
type AudioSource interface {
	Read(buf []byte) (int, error)
	Close() error
}

// AudioSink plays raw PCM frames on the local output device.
type AudioSink interface {
	Write(frame []byte) (int, error)
	Close() error
}

// VideoSource captures frames from the local camera.
type VideoSource interface {
	Capture() (image.Image, error)
	Close() error
}

// VideoRenderer consumes decoded remote frames.
type VideoRenderer interface {
	Render(frame image.Image) error
	Close() error
}

// DeviceProvider opens the local capture and playback devices for a call.
// Open failures abort call setup with domain.ErrDeviceUnavailable.
type DeviceProvider interface {
	OpenAudioSource() (AudioSource, error)
	OpenAudioSink() (AudioSink, error)
	OpenVideoSource() (VideoSource, error)
	OpenVideoRenderer() (VideoRenderer, error)
}
