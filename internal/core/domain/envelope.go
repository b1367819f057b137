package domain

import (
	"encoding/json"
	"fmt"
)

// EnvelopeType tags the single JSON unit exchanged over any channel.
type EnvelopeType string

const (
	// Discovery datagrams.
	TypeDiscovery EnvelopeType = "discovery"

	// Framed TCP messages.
	TypeText EnvelopeType = "text"
	TypeFile EnvelopeType = "file"

	// Call control datagrams.
	TypeCallRequest  EnvelopeType = "call_request"
	TypeCallAccepted EnvelopeType = "call_accepted"
	TypeCallRejected EnvelopeType = "call_rejected"
	TypeCallEnded    EnvelopeType = "call_ended"
	TypeBusy         EnvelopeType = "busy"

	// Relay hub messages.
	TypeRegister     EnvelopeType = "register"
	TypePeerList     EnvelopeType = "peer_list"
	TypeOffer        EnvelopeType = "offer"
	TypeAnswer       EnvelopeType = "answer"
	TypeICECandidate EnvelopeType = "ice-candidate"
	TypeError        EnvelopeType = "error"
)

// CallKind selects which media channels a call carries.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// CallPorts are the UDP ports one side listens on for a call.
type CallPorts struct {
	Audio   int `json:"audio"`
	Video   int `json:"video"`
	Control int `json:"control"`
}

// PeerEntry is one row of a hub peer list.
type PeerEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Envelope is the sole unit crossing the wire, tagged by Type. It is
// immutable once constructed; only the fields relevant to its type are set.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	ID        string       `json:"id,omitempty"`
	Username  string       `json:"username,omitempty"`
	Content   string       `json:"content,omitempty"`
	Filename  string       `json:"filename,omitempty"`
	Port      int          `json:"port,omitempty"`
	Timestamp float64      `json:"timestamp,omitempty"`

	// Call control.
	CallType CallKind   `json:"call_type,omitempty"`
	Ports    *CallPorts `json:"ports,omitempty"`

	// Relay hub routing.
	Sender  string          `json:"sender,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Peers   []PeerEntry     `json:"peers,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Encode serializes the envelope to its wire JSON form.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses wire JSON into an Envelope and validates that the
// fields required by its type are present. Unknown or ill-formed envelopes
// yield ErrMalformedMessage so callers can drop them without guessing.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the per-type required fields. The switch is exhaustive
// over the envelope vocabulary; anything else is malformed by definition.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeDiscovery:
		if e.Username == "" || e.Port <= 0 || e.Port > 65535 {
			return fmt.Errorf("%w: discovery requires username and port", ErrMalformedMessage)
		}
	case TypeText:
		if e.Username == "" {
			return fmt.Errorf("%w: text requires username", ErrMalformedMessage)
		}
	case TypeFile:
		if e.Username == "" || e.Filename == "" || e.Content == "" {
			return fmt.Errorf("%w: file requires username, filename and content", ErrMalformedMessage)
		}
	case TypeCallRequest:
		if e.Username == "" || e.Ports == nil {
			return fmt.Errorf("%w: call_request requires username and ports", ErrMalformedMessage)
		}
		if e.CallType != CallAudio && e.CallType != CallVideo {
			return fmt.Errorf("%w: unknown call_type %q", ErrMalformedMessage, e.CallType)
		}
	case TypeCallAccepted:
		if e.Ports == nil {
			return fmt.Errorf("%w: call_accepted requires ports", ErrMalformedMessage)
		}
	case TypeCallRejected, TypeCallEnded, TypeBusy:
		// No payload beyond the tag.
	case TypeRegister:
		if e.Username == "" {
			return fmt.Errorf("%w: register requires username", ErrMalformedMessage)
		}
	case TypeOffer, TypeAnswer, TypeICECandidate:
		if e.Target == "" {
			return fmt.Errorf("%w: %s requires target", ErrMalformedMessage, e.Type)
		}
	case TypePeerList, TypeError:
		// Hub-originated, nothing mandatory beyond the tag.
	default:
		return fmt.Errorf("%w: unknown envelope type %q", ErrMalformedMessage, e.Type)
	}
	return nil
}
