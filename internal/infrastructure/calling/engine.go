package calling

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/internal/infrastructure/registry"
)

const maxControlDatagram = 1024

// Media runs the audio/video streams for one call. The engine owns the
// lifecycle of at most one running media session.
type Media interface {
	Start(session *domain.CallSession) error
	Stop()
}

// Engine is the single-call-at-a-time signaling state machine. All state
// transitions, whether triggered locally or by inbound control datagrams,
// are serialized through one mutex.
type Engine struct {
	username   string
	localPorts domain.CallPorts
	registry   *registry.PeerRegistry
	media      Media
	prompt     ports.CallPrompt
	observer   ports.CallObserver
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	state   domain.CallState
	session *domain.CallSession

	conn   *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(username string, localPorts domain.CallPorts, reg *registry.PeerRegistry, media Media, prompt ports.CallPrompt, observer ports.CallObserver, logger *zap.SugaredLogger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		username:   username,
		localPorts: localPorts,
		registry:   reg,
		media:      media,
		prompt:     prompt,
		observer:   observer,
		logger:     logger,
		state:      domain.CallIdle,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds the control port and launches the control loop.
func (e *Engine) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: e.localPorts.Control})
	if err != nil {
		return fmt.Errorf("failed to bind call control port %d: %w", e.localPorts.Control, err)
	}
	e.conn = conn
	if e.localPorts.Control == 0 {
		e.localPorts.Control = conn.LocalAddr().(*net.UDPAddr).Port
	}

	e.wg.Add(1)
	go e.controlLoop()

	e.logger.Infow("call signaling ready", "control_port", e.localPorts.Control)
	return nil
}

// Stop hangs up any active call, closes the control socket and waits for
// the control loop to exit.
func (e *Engine) Stop() {
	e.Hangup()
	e.cancel()
	if e.conn != nil {
		e.conn.Close()
	}
	e.wg.Wait()
	e.logger.Info("call signaling stopped")
}

// State returns the current call state.
func (e *Engine) State() domain.CallState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session returns a copy of the active call session, if any.
func (e *Engine) Session() (domain.CallSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return domain.CallSession{}, false
	}
	return *e.session, true
}

// Call initiates a call to a discovered peer. A second call attempt while
// any call is in flight fails locally with ErrCallBusy, with no network I/O.
func (e *Engine) Call(peerIP string, kind domain.CallKind) error {
	peer, err := e.registry.Get(peerIP)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != domain.CallIdle {
		return domain.ErrCallBusy
	}

	e.session = &domain.CallSession{
		PeerIP:     peer.IP,
		PeerName:   peer.Username,
		Role:       domain.RoleCaller,
		Kind:       kind,
		State:      domain.CallCalling,
		LocalPorts: e.localPorts,
	}
	e.state = domain.CallCalling

	err = e.sendControl(peer.IP, e.localPorts.Control, &domain.Envelope{
		Type:     domain.TypeCallRequest,
		Username: e.username,
		CallType: kind,
		Ports:    &e.localPorts,
	})
	if err != nil {
		e.resetLocked()
		return err
	}

	e.logger.Infow("calling", "peer", peerIP, "kind", kind)
	return nil
}

// Accept answers the ringing call: it sends call_accepted with our ports
// and starts media with the negotiated ones.
func (e *Engine) Accept() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != domain.CallRinging || e.session == nil {
		return domain.ErrNoActiveCall
	}

	if err := e.media.Start(e.session); err != nil {
		peerIP := e.session.PeerIP
		peerControl := e.session.PeerPorts.Control
		e.resetLocked()
		e.sendControl(peerIP, peerControl, &domain.Envelope{Type: domain.TypeCallRejected})
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	e.state = domain.CallInCall
	e.session.State = domain.CallInCall

	err := e.sendControl(e.session.PeerIP, e.session.PeerPorts.Control, &domain.Envelope{
		Type:  domain.TypeCallAccepted,
		Ports: &e.localPorts,
	})
	if err != nil {
		e.media.Stop()
		e.resetLocked()
		return err
	}

	e.logger.Infow("call accepted", "peer", e.session.PeerIP)
	return nil
}

// Reject declines the ringing call.
func (e *Engine) Reject() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != domain.CallRinging || e.session == nil {
		return domain.ErrNoActiveCall
	}

	peerIP := e.session.PeerIP
	peerControl := e.session.PeerPorts.Control
	e.resetLocked()

	e.sendControl(peerIP, peerControl, &domain.Envelope{Type: domain.TypeCallRejected})
	e.logger.Infow("call rejected", "peer", peerIP)
	return nil
}

// Hangup ends the active call from any state. Calling it twice in a row is
// safe; with no call in flight it is a no-op.
func (e *Engine) Hangup() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == domain.CallIdle || e.session == nil {
		return
	}

	peerIP := e.session.PeerIP
	peerControl := e.session.PeerPorts.Control
	if peerControl == 0 {
		// Ports were never negotiated (still Calling); reply on our own
		// control port, the only address the peer listens on.
		peerControl = e.localPorts.Control
	}
	inCall := e.state == domain.CallInCall

	if inCall {
		e.media.Stop()
	}
	e.resetLocked()

	e.sendControl(peerIP, peerControl, &domain.Envelope{Type: domain.TypeCallEnded})
	e.logger.Infow("call ended locally", "peer", peerIP)
}

func (e *Engine) controlLoop() {
	defer e.wg.Done()

	buf := make([]byte, maxControlDatagram)
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		e.conn.SetReadDeadline(time.Now().Add(time.Second))

		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Warnw("control read error", "error", err)
			continue
		}

		env, err := domain.DecodeEnvelope(buf[:n])
		if err != nil {
			e.logger.Warnw("dropping malformed control datagram", "from", addr.String(), "error", err)
			continue
		}

		e.handleControl(env, addr.IP.String())
	}
}

// handleControl applies one inbound control envelope to the state machine.
func (e *Engine) handleControl(env *domain.Envelope, srcIP string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch env.Type {
	case domain.TypeCallRequest:
		e.handleCallRequest(env, srcIP)

	case domain.TypeCallAccepted:
		if e.state != domain.CallCalling || e.session == nil || e.session.PeerIP != srcIP {
			return
		}
		e.session.PeerPorts = *env.Ports
		if err := e.media.Start(e.session); err != nil {
			e.logger.Errorw("failed to start media", "peer", srcIP, "error", err)
			e.sendControl(srcIP, env.Ports.Control, &domain.Envelope{Type: domain.TypeCallEnded})
			e.resetLocked()
			e.notify(func(o ports.CallObserver) { o.CallEnded(srcIP) })
			return
		}
		e.state = domain.CallInCall
		e.session.State = domain.CallInCall
		e.logger.Infow("call connected", "peer", srcIP)
		e.notify(func(o ports.CallObserver) { o.CallAccepted(srcIP) })

	case domain.TypeCallRejected:
		if e.state != domain.CallCalling || e.session == nil || e.session.PeerIP != srcIP {
			return
		}
		e.resetLocked()
		e.logger.Infow("call rejected by peer", "peer", srcIP)
		e.notify(func(o ports.CallObserver) { o.CallRejected(srcIP) })

	case domain.TypeBusy:
		if e.state != domain.CallCalling || e.session == nil || e.session.PeerIP != srcIP {
			return
		}
		e.resetLocked()
		e.logger.Infow("peer is busy", "peer", srcIP)
		e.notify(func(o ports.CallObserver) { o.CallBusy(srcIP) })

	case domain.TypeCallEnded:
		if e.state == domain.CallIdle || e.session == nil || e.session.PeerIP != srcIP {
			return
		}
		if e.state == domain.CallInCall {
			e.media.Stop()
		}
		e.resetLocked()
		e.logger.Infow("call ended by peer", "peer", srcIP)
		e.notify(func(o ports.CallObserver) { o.CallEnded(srcIP) })

	default:
		e.logger.Warnw("dropping unexpected control envelope", "type", env.Type, "from", srcIP)
	}
}

func (e *Engine) handleCallRequest(env *domain.Envelope, srcIP string) {
	// Whatever we are doing, a second inbound request always gets busy and
	// changes nothing.
	if e.state != domain.CallIdle {
		e.sendControl(srcIP, env.Ports.Control, &domain.Envelope{Type: domain.TypeBusy})
		e.logger.Infow("replied busy", "peer", srcIP)
		return
	}

	// Calls only come from discovered peers.
	if !e.registry.Known(srcIP) {
		e.logger.Warnw("ignoring call request from undiscovered source", "ip", srcIP)
		return
	}

	e.session = &domain.CallSession{
		PeerIP:     srcIP,
		PeerName:   env.Username,
		Role:       domain.RoleCallee,
		Kind:       env.CallType,
		State:      domain.CallRinging,
		LocalPorts: e.localPorts,
		PeerPorts:  *env.Ports,
	}
	e.state = domain.CallRinging
	e.logger.Infow("incoming call", "peer", srcIP, "username", env.Username, "kind", env.CallType)

	// The prompt may block on user input; never hold the control loop on it.
	go func(peerIP, username string, kind domain.CallKind) {
		if e.prompt.IncomingCall(peerIP, username, kind) {
			if err := e.Accept(); err != nil {
				e.logger.Warnw("failed to accept call", "peer", peerIP, "error", err)
			}
		} else {
			if err := e.Reject(); err != nil {
				e.logger.Debugw("reject after call already gone", "peer", peerIP, "error", err)
			}
		}
	}(srcIP, env.Username, env.CallType)
}

// resetLocked clears the single call slot. Callers hold e.mu.
func (e *Engine) resetLocked() {
	e.state = domain.CallIdle
	e.session = nil
}

// sendControl emits one control datagram from the bound control socket.
func (e *Engine) sendControl(peerIP string, peerControlPort int, env *domain.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	addr := &net.UDPAddr{IP: net.ParseIP(peerIP), Port: peerControlPort}
	if _, err := e.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}
	return nil
}

// notify invokes an observer callback on its own goroutine so UI work never
// blocks a state transition.
func (e *Engine) notify(fn func(ports.CallObserver)) {
	if e.observer == nil {
		return
	}
	go fn(e.observer)
}
