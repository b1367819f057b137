package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"lanlink/internal/core/domain"
)

// Client is one hub participant: a persistent websocket that registers an
// identity, exchanges WebRTC signaling with named targets, and receives the
// hub's peer list updates.
type Client struct {
	url      string
	username string
	logger   *zap.SugaredLogger

	conn    *websocket.Conn
	writeMu sync.Mutex

	envelopes chan *domain.Envelope
	peers     chan []domain.PeerEntry

	closeOnce sync.Once
	closed    chan struct{}
}

func Dial(url, username string, logger *zap.SugaredLogger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}

	c := &Client{
		url:       url,
		username:  username,
		logger:    logger,
		conn:      conn,
		envelopes: make(chan *domain.Envelope, 16),
		peers:     make(chan []domain.PeerEntry, 4),
		closed:    make(chan struct{}),
	}

	if err := c.write(&domain.Envelope{Type: domain.TypeRegister, Username: username}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to register with hub: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Envelopes yields targeted signaling and broadcast messages from the hub.
func (c *Client) Envelopes() <-chan *domain.Envelope { return c.envelopes }

// Peers yields the hub's peer list on every join/leave.
func (c *Client) Peers() <-chan []domain.PeerEntry { return c.peers }

// SendOffer routes a session description to one named peer.
func (c *Client) SendOffer(target string, sdp webrtc.SessionDescription) error {
	return c.sendSignaling(domain.TypeOffer, target, sdp)
}

func (c *Client) SendAnswer(target string, sdp webrtc.SessionDescription) error {
	return c.sendSignaling(domain.TypeAnswer, target, sdp)
}

func (c *Client) SendCandidate(target string, candidate webrtc.ICECandidateInit) error {
	return c.sendSignaling(domain.TypeICECandidate, target, candidate)
}

// SendText broadcasts a chat line to everyone else on the hub.
func (c *Client) SendText(content string) error {
	return c.write(&domain.Envelope{
		Type:      domain.TypeText,
		Username:  c.username,
		Content:   content,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

func (c *Client) sendSignaling(t domain.EnvelopeType, target string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return c.write(&domain.Envelope{Type: t, Target: target, Payload: raw})
}

func (c *Client) write(env *domain.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.envelopes)
	defer close(c.peers)

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warnw("hub connection lost", "error", err)
			}
			return
		}

		switch env.Type {
		case domain.TypePeerList:
			select {
			case c.peers <- env.Peers:
			default:
				// A newer list supersedes a stale unread one.
				select {
				case <-c.peers:
				default:
				}
				c.peers <- env.Peers
			}
		default:
			select {
			case c.envelopes <- &env:
			case <-c.closed:
				return
			}
		}
	}
}
