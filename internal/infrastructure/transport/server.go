package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/internal/infrastructure/registry"
)

// readTimeout bounds how long a connection may sit without delivering its
// frame before the handler gives up on it.
const readTimeout = 30 * time.Second

// Server accepts framed envelopes from discovered peers. One goroutine per
// inbound connection; a connection from an IP the registry does not know is
// closed before any bytes are read.
type Server struct {
	port     int
	registry *registry.PeerRegistry
	sink     ports.MessageSink
	files    ports.FileStore
	history  ports.MessageHistory
	logger   *zap.SugaredLogger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

func NewServer(port int, reg *registry.PeerRegistry, sink ports.MessageSink, files ports.FileStore, history ports.MessageHistory, logger *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		port:     port,
		registry: reg,
		sink:     sink,
		files:    files,
		history:  history,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds the listen port and launches the accept loop. Failure to bind
// is fatal at startup; everything after that is contained per connection.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind message port %d: %w", s.port, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Infow("message transport listening", "port", s.port)
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// in-flight handlers to drain.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.logger.Info("message transport stopped")
}

func (s *Server) track(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

// Addr returns the bound listener address, useful when port 0 was requested.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnw("accept error", "error", err)
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			defer conn.Close()
			s.handleConn(conn)
		}()
	}
}

// handleConn serves exactly one envelope. Any failure here is contained to
// this connection; the accept loop keeps serving other peers.
func (s *Server) handleConn(conn net.Conn) {
	srcIP := remoteIP(conn)

	// Access-control boundary: only discovered peers get read.
	if !s.registry.Known(srcIP) {
		s.logger.Warnw("rejecting connection from undiscovered source", "ip", srcIP)
		return
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	payload, err := ReadFrame(conn)
	if err != nil {
		s.logger.Warnw("failed to read frame", "ip", srcIP, "error", err)
		return
	}

	env, err := domain.DecodeEnvelope(payload)
	if err != nil {
		s.logger.Warnw("dropping malformed envelope", "ip", srcIP, "error", err)
		return
	}

	switch env.Type {
	case domain.TypeText:
		s.handleText(srcIP, env)
	case domain.TypeFile:
		s.handleFile(srcIP, env)
	default:
		s.logger.Warnw("dropping envelope of unexpected type", "ip", srcIP, "type", env.Type)
	}
}

func (s *Server) handleText(srcIP string, env *domain.Envelope) {
	s.sink.DeliverText(srcIP, env.Username, env.Content, env.Timestamp)
	s.appendHistory(srcIP, env.Username, env.Content, "text")
	s.logger.Infow("text received", "ip", srcIP, "username", env.Username)
}

func (s *Server) handleFile(srcIP string, env *domain.Envelope) {
	data, err := base64.StdEncoding.DecodeString(env.Content)
	if err != nil {
		s.logger.Warnw("dropping file with undecodable content", "ip", srcIP, "filename", env.Filename, "error", err)
		return
	}

	storedName, err := s.files.Store(env.Filename, data)
	if err != nil {
		s.logger.Errorw("failed to store received file", "ip", srcIP, "filename", env.Filename, "error", err)
		return
	}

	s.sink.DeliverFile(srcIP, env.Username, storedName, len(data))
	s.appendHistory(srcIP, env.Username, storedName, "file")
	s.logger.Infow("file received", "ip", srcIP, "username", env.Username, "stored_as", storedName, "bytes", len(data))
}

func (s *Server) appendHistory(srcIP, username, content, kind string) {
	if s.history == nil {
		return
	}
	msg := domain.StoredMessage{
		ID:             uuid.NewString(),
		SenderIP:       srcIP,
		SenderUsername: username,
		Content:        content,
		Type:           kind,
		Timestamp:      time.Now(),
	}
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	if err := s.history.Append(ctx, msg); err != nil {
		s.logger.Warnw("failed to append message history", "error", err)
	}
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
