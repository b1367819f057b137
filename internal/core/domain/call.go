package domain

// CallState is the signaling engine's position in a call's lifecycle.
// Ending a call is a transient action, not a state.
type CallState int

const (
	CallIdle CallState = iota
	CallCalling
	CallRinging
	CallInCall
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallCalling:
		return "calling"
	case CallRinging:
		return "ringing"
	case CallInCall:
		return "in_call"
	default:
		return "unknown"
	}
}

// CallRole distinguishes which side initiated the call.
type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

// CallSession is the single in-flight call's state and negotiated endpoints.
// At most one instance exists per process; it exists iff the signaling
// engine state is not Idle.
type CallSession struct {
	PeerIP     string
	PeerName   string
	Role       CallRole
	Kind       CallKind
	State      CallState
	LocalPorts CallPorts
	PeerPorts  CallPorts
}
