package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/infrastructure/registry"
	"lanlink/pkg/retry"
)

// Client delivers one framed envelope per connection. It refuses to send to
// peers the registry does not currently know.
type Client struct {
	registry    *registry.PeerRegistry
	username    string
	dialTimeout time.Duration
	retryCfg    retry.Config
	logger      *zap.SugaredLogger
}

func NewClient(reg *registry.PeerRegistry, username string, dialTimeout time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		registry:    reg,
		username:    username,
		dialTimeout: dialTimeout,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger,
	}
}

// SendText delivers a text envelope to a discovered peer.
func (c *Client) SendText(ctx context.Context, peerIP, content string) error {
	return c.send(ctx, peerIP, &domain.Envelope{
		Type:      domain.TypeText,
		Content:   content,
		Username:  c.username,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

// SendFile delivers a file envelope with base64-encoded content.
func (c *Client) SendFile(ctx context.Context, peerIP, filename string, data []byte) error {
	return c.send(ctx, peerIP, &domain.Envelope{
		Type:     domain.TypeFile,
		Filename: filename,
		Content:  base64.StdEncoding.EncodeToString(data),
		Username: c.username,
	})
}

// send opens a fresh connection, writes one frame and closes. Transient
// connect or write failures are retried with backoff; what remains surfaces
// as ErrUnreachable.
func (c *Client) send(ctx context.Context, peerIP string, env *domain.Envelope) error {
	peer, err := c.registry.Get(peerIP)
	if err != nil {
		return err
	}

	payload, err := env.Encode()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(peer.IP, fmt.Sprintf("%d", peer.Port))
	err = retry.Do(ctx, c.retryCfg, func() error {
		return c.deliver(ctx, addr, payload)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}

	c.logger.Debugw("envelope sent", "type", env.Type, "peer", peerIP, "bytes", len(payload))
	return nil
}

func (c *Client) deliver(ctx context.Context, addr string, payload []byte) error {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Bound the whole header+payload write, not just the dial.
	conn.SetWriteDeadline(time.Now().Add(c.dialTimeout))
	return WriteFrame(conn, payload)
}
