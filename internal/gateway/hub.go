// Package gateway fans stream updates out to WebSocket clients. Each stream
// is a channel with its own sequence numbers and replay buffer so that a
// client can resume after a reconnect without gaps.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ta-enginev1/internal/metrics"
)

// Config tunes the hub.
type Config struct {
	ReplaySize     int      // envelopes kept per channel (default 500)
	SendBuffer     int      // queued messages per client before drops (default 256)
	AllowedOrigins []string // empty allows any origin
}

// Hub tracks WebSocket clients and the per-channel state they subscribe to.
type Hub struct {
	cfg      Config
	m        *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]*channelState
	seq      uint64 // across all channels

	Latency *LatencyTracker
}

type channelState struct {
	seq    uint64
	latest []byte // last envelope
	replay *ReplayBuffer
}

// NewHub creates a hub. m and log may be nil.
func NewHub(cfg Config, m *metrics.Metrics, log *slog.Logger) *Hub {
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = 500
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		cfg:      cfg,
		m:        m,
		log:      log.With("component", "gateway"),
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]*channelState),
		Latency:  NewLatencyTracker(10000),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.m != nil {
		h.m.WSClients.Inc()
	}
	h.log.Info("ws client connected", "remote", r.RemoteAddr, "clients", n)

	go c.writePump()
	go c.readPump()
}

// RemoveClient unregisters c and closes its send queue. Safe to call twice.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	if h.m != nil {
		h.m.WSClients.Dec()
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the last envelope broadcast on channel, or nil.
func (h *Hub) Latest(channel string) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ch, ok := h.channels[channel]; ok {
		return ch.latest
	}
	return nil
}

// ChannelSeq returns the last seq broadcast on channel.
func (h *Hub) ChannelSeq(channel string) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ch, ok := h.channels[channel]; ok {
		return ch.seq
	}
	return 0
}

// channel returns the state of name, creating it. Caller holds h.mu.
func (h *Hub) channel(name string) *channelState {
	ch, ok := h.channels[name]
	if !ok {
		ch = &channelState{replay: NewReplayBuffer(h.cfg.ReplaySize)}
		h.channels[name] = ch
	}
	return ch
}

// subscribe registers c for stream and queues its catch-up messages under
// the hub lock, so nothing broadcast concurrently is missed or repeated.
// "*" subscribes to every channel.
func (h *Hub) subscribe(c *Client, stream string, since *uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.subs[stream] = struct{}{}

	ack := control{Type: "SUBSCRIBED", Stream: stream}
	if stream == "*" {
		c.queue(ack.marshal())
		for _, ch := range h.channels {
			if ch.latest != nil {
				c.queue(ch.latest)
			}
		}
		return
	}

	ch := h.channel(stream)
	ack.ChannelSeq = ch.seq
	if since == nil {
		c.queue(ack.marshal())
		if ch.latest != nil {
			c.queue(ch.latest)
		}
		return
	}

	backlog, complete := ch.replay.Since(*since)
	ack.Replayed = len(backlog)
	ack.Gap = !complete
	c.queue(ack.marshal())
	for _, env := range backlog {
		c.queue(env)
	}
}

func (h *Hub) unsubscribe(c *Client, stream string) {
	h.mu.Lock()
	delete(c.subs, stream)
	h.mu.Unlock()
}

// control is a non-data message sent to a client.
type control struct {
	Type       string `json:"type"`
	Stream     string `json:"stream,omitempty"`
	ChannelSeq uint64 `json:"channel_seq,omitempty"`
	Replayed   int    `json:"replayed,omitempty"`
	Gap        bool   `json:"gap,omitempty"`
	Error      string `json:"error,omitempty"`
	Ping       int64  `json:"ping,omitempty"`
	ServerTS   int64  `json:"server_ts,omitempty"`
}

func (m control) marshal() []byte {
	b, _ := json.Marshal(m)
	return b
}

func (m control) withServerTime() control {
	m.ServerTS = time.Now().UnixMilli()
	return m
}
