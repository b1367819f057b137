package transport

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"lanlink/internal/core/domain"
)

const (
	headerLen = 8
	// maxFrameSize bounds the declared payload length so a hostile header
	// cannot make the reader allocate gigabytes.
	maxFrameSize = 64 << 20
)

// WriteFrame writes one framed payload: an 8-byte zero-padded decimal ASCII
// length header immediately followed by the payload bytes.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds frame limit", domain.ErrMalformedMessage, len(payload))
	}

	frame := make([]byte, 0, headerLen+len(payload))
	frame = append(frame, []byte(fmt.Sprintf("%08d", len(payload)))...)
	frame = append(frame, payload...)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one framed payload, blocking until the declared
// number of bytes has arrived. A connection closed mid-frame yields
// ErrTruncatedFrame; a header that is not a decimal length yields
// ErrMalformedMessage.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTruncatedFrame, err)
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	n, err := strconv.Atoi(string(header))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad length header %q", domain.ErrMalformedMessage, header)
	}
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d exceeds frame limit", domain.ErrMalformedMessage, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTruncatedFrame, err)
		}
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}
