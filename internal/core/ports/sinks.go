package ports

import "lanlink/internal/core/domain"

// MessageSink receives inbound text messages for display.
type MessageSink interface {
	DeliverText(senderIP, username, content string, timestamp float64)
	DeliverFile(senderIP, username, storedName string, size int)
}

// CallPrompt asks the local user to accept or reject an incoming call.
// Implementations may block (for example on stdin); the signaling engine
// invokes it off its control loop.
type CallPrompt interface {
	IncomingCall(peerIP, username string, kind domain.CallKind) bool
}

// CallObserver is notified of call lifecycle outcomes so the UI layer can
// distinguish rejected from busy from ended.
type CallObserver interface {
	CallAccepted(peerIP string)
	CallRejected(peerIP string)
	CallBusy(peerIP string)
	CallEnded(peerIP string)
}
