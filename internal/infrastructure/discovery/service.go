package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/infrastructure/registry"
)

const maxDatagramSize = 1024

// Config carries the discovery timing knobs.
type Config struct {
	Username          string
	BroadcastPort     int
	ListenPort        int // the TCP port announced to peers
	BroadcastInterval time.Duration
	PruneInterval     time.Duration
	PeerTTL           time.Duration
}

// Service announces this host's presence over UDP broadcast and feeds the
// peer registry from announcements it hears. Three goroutines run until
// Stop: the broadcaster, the listener and the pruner.
type Service struct {
	cfg      Config
	registry *registry.PeerRegistry
	logger   *zap.SugaredLogger

	conn *net.UDPConn
	own  map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(cfg Config, reg *registry.PeerRegistry, logger *zap.SugaredLogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		registry: reg,
		logger:   logger,
		own:      localAddrs(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the shared discovery port and launches the three loops.
func (s *Service) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: s.cfg.BroadcastPort})
	if err != nil {
		return fmt.Errorf("failed to bind discovery port %d: %w", s.cfg.BroadcastPort, err)
	}
	s.conn = conn

	s.wg.Add(3)
	go s.broadcastLoop()
	go s.listenLoop()
	go s.pruneLoop()

	s.logger.Infow("discovery started",
		"broadcast_port", s.cfg.BroadcastPort,
		"interval", s.cfg.BroadcastInterval,
		"peer_ttl", s.cfg.PeerTTL,
	)
	return nil
}

// Stop cancels all loops and waits for their exit.
func (s *Service) Stop() {
	s.cancel()
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.logger.Info("discovery stopped")
}

func (s *Service) broadcastLoop() {
	defer s.wg.Done()

	// Announce immediately so peers see us within one interval of startup.
	s.broadcastOnce()

	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.broadcastOnce()
		}
	}
}

func (s *Service) broadcastOnce() {
	env := domain.Envelope{
		Type:      domain.TypeDiscovery,
		Username:  s.cfg.Username,
		Port:      s.cfg.ListenPort,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
	data, err := env.Encode()
	if err != nil {
		s.logger.Errorw("failed to encode discovery envelope", "error", err)
		return
	}

	for _, ip := range broadcastAddrs() {
		addr := &net.UDPAddr{IP: ip, Port: s.cfg.BroadcastPort}
		if _, err := s.conn.WriteToUDP(data, addr); err != nil {
			// Some interfaces refuse directed broadcast; not fatal.
			s.logger.Debugw("broadcast failed", "addr", addr.String(), "error", err)
		}
	}
}

func (s *Service) listenLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Short read deadline so cancellation is observed promptly.
		s.conn.SetReadDeadline(time.Now().Add(time.Second))

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warnw("discovery read error", "error", err)
			continue
		}

		s.handleDatagram(buf[:n], addr.IP.String())
	}
}

// handleDatagram upserts a peer entry for a discovery announcement, skipping
// malformed datagrams, foreign envelope types and our own broadcasts.
func (s *Service) handleDatagram(data []byte, srcIP string) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		s.logger.Debugw("dropping malformed discovery datagram", "from", srcIP, "error", err)
		return
	}
	if env.Type != domain.TypeDiscovery {
		return
	}
	if _, self := s.own[srcIP]; self {
		return
	}

	s.registry.Upsert(srcIP, env.Username, env.Port)
}

func (s *Service) pruneLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, peer := range s.registry.Prune(s.cfg.PeerTTL) {
				s.logger.Infow("peer lost", "ip", peer.IP, "username", peer.Username)
			}
		}
	}
}
