package relay

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lanlink/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config tunes the hub's keepalive and per-connection rate limiting.
type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	MessagesPerSecond float64
	Burst             int
	WriteTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		PingInterval:      20 * time.Second,
		PongTimeout:       40 * time.Second,
		MessagesPerSecond: 50,
		Burst:             100,
		WriteTimeout:      10 * time.Second,
	}
}

type client struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter

	// Gorilla connections allow one concurrent writer; every send goes
	// through this mutex.
	writeMu sync.Mutex
}

func (c *client) send(env *domain.Envelope, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(env)
}

func (c *client) ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Hub is the star-topology alternative to mesh messaging: every client holds
// one persistent connection, the hub tracks who is online and routes
// envelopes between them.
type Hub struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(cfg Config, logger *zap.SugaredLogger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the connection and serves it until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The first envelope must register an identity.
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	var reg domain.Envelope
	if err := conn.ReadJSON(&reg); err != nil {
		h.logger.Warnw("client vanished before registering", "error", err)
		return
	}
	if reg.Type != domain.TypeRegister || reg.Validate() != nil {
		conn.WriteJSON(&domain.Envelope{Type: domain.TypeError, Error: "registration required"})
		return
	}

	c := &client{
		id:      reg.Username,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), h.cfg.Burst),
	}
	h.add(c)
	h.logger.Infow("client registered", "id", c.id)
	h.broadcastPeerList()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepalive(c, done)

	h.readLoop(c)

	if h.remove(c) {
		h.logger.Infow("client disconnected", "id", c.id)
		h.broadcastPeerList()
	}
}

// Clients returns the identities currently connected.
func (h *Hub) Clients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) readLoop(c *client) {
	for {
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnw("read error", "id", c.id, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			h.logger.Warnw("rate limit exceeded, dropping envelope", "id", c.id, "type", env.Type)
			c.send(&domain.Envelope{Type: domain.TypeError, Error: "rate limit exceeded"}, h.cfg.WriteTimeout)
			continue
		}

		h.dispatch(c, &env)
	}
}

func (h *Hub) dispatch(c *client, env *domain.Envelope) {
	switch env.Type {
	case domain.TypeRegister:
		// Identity is fixed at connect time.
		c.send(&domain.Envelope{Type: domain.TypeError, Error: "already registered"}, h.cfg.WriteTimeout)

	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		if env.Validate() != nil {
			c.send(&domain.Envelope{Type: domain.TypeError, Error: "malformed envelope"}, h.cfg.WriteTimeout)
			return
		}
		env.Sender = c.id
		h.forward(c, env)

	default:
		// Everything else fans out to the rest of the room.
		env.Sender = c.id
		h.broadcast(env, c.id)
	}
}

// forward delivers a targeted envelope to exactly one client.
func (h *Hub) forward(from *client, env *domain.Envelope) {
	h.mu.RLock()
	target, ok := h.clients[env.Target]
	h.mu.RUnlock()

	if !ok {
		h.logger.Infow("target not connected", "from", from.id, "target", env.Target, "type", env.Type)
		from.send(&domain.Envelope{Type: domain.TypeError, Error: "target not connected"}, h.cfg.WriteTimeout)
		return
	}

	if err := target.send(env, h.cfg.WriteTimeout); err != nil {
		h.logger.Warnw("forward failed, dropping target", "target", env.Target, "error", err)
		h.drop(target)
		from.send(&domain.Envelope{Type: domain.TypeError, Error: "target not connected"}, h.cfg.WriteTimeout)
	}
}

// broadcast fans an envelope out to every client except the excluded one.
// It iterates a snapshot so sends never hold the client map lock, and one
// failed peer never blocks delivery to the rest.
func (h *Hub) broadcast(env *domain.Envelope, exceptID string) {
	h.mu.RLock()
	snapshot := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.id != exceptID {
			snapshot = append(snapshot, c)
		}
	}
	h.mu.RUnlock()

	var failed []*client
	for _, c := range snapshot {
		if err := c.send(env, h.cfg.WriteTimeout); err != nil {
			h.logger.Warnw("broadcast send failed", "id", c.id, "error", err)
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.drop(c)
	}
}

func (h *Hub) broadcastPeerList() {
	h.mu.RLock()
	peers := make([]domain.PeerEntry, 0, len(h.clients))
	for id := range h.clients {
		peers = append(peers, domain.PeerEntry{ID: id, Username: id})
	}
	h.mu.RUnlock()
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	h.broadcast(&domain.Envelope{Type: domain.TypePeerList, Peers: peers}, "")
}

func (h *Hub) keepalive(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(h.cfg.WriteTimeout); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	if old, ok := h.clients[c.id]; ok {
		// A reconnect replaces the stale connection.
		old.conn.Close()
	}
	h.clients[c.id] = c
	h.mu.Unlock()
}

// remove unregisters the client; it reports false when the entry was already
// replaced by a reconnect.
func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[c.id]; ok && current == c {
		delete(h.clients, c.id)
		return true
	}
	return false
}

// drop kicks a client after a failed send and announces the shrunken room.
func (h *Hub) drop(c *client) {
	c.conn.Close()
	if h.remove(c) {
		h.broadcastPeerList()
	}
}
