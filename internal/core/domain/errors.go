package domain

import "errors"

// Failure taxonomy. Every failed send or call attempt maps onto one of
// these so callers can distinguish unreachable from rejected from busy.
var (
	ErrPeerUnknown        = errors.New("peer not known")
	ErrUnreachable        = errors.New("peer unreachable")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnauthorizedSource = errors.New("connection from undiscovered source")
	ErrTruncatedFrame     = errors.New("connection closed before full frame")
	ErrDeviceUnavailable  = errors.New("media device unavailable")
	ErrCallBusy           = errors.New("already in a call")
	ErrCallRejected       = errors.New("call rejected by peer")
	ErrPeerBusy           = errors.New("peer is busy")
	ErrNoActiveCall       = errors.New("no active call")
	ErrTargetNotConnected = errors.New("target not connected")
	ErrFileNotFound       = errors.New("file not found")
)
