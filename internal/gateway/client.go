package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 4096
)

// Client is one WebSocket peer. subs is guarded by the hub lock.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		subs: make(map[string]struct{}),
	}
}

func (c *Client) matches(channel string) bool {
	if _, ok := c.subs["*"]; ok {
		return true
	}
	_, ok := c.subs[channel]
	return ok
}

// queue is a non-blocking send. Caller holds the hub lock, which keeps send
// open.
func (c *Client) queue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// reply queues a control message outside the broadcast path.
func (c *Client) reply(m control) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.queue(m.marshal())
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// inbound is any message a client may send:
//
//	{"type":"SUBSCRIBE","stream":"nifty-rsi","since":41}
//	{"type":"UNSUBSCRIBE","stream":"nifty-rsi"}
//	{"type":"ping","ping":1700000000000}
type inbound struct {
	Type   string  `json:"type"`
	Stream string  `json:"stream"`
	Since  *uint64 `json:"since"`
	Ping   int64   `json:"ping"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Debug("ws client disconnected", "remote", c.conn.RemoteAddr().String())
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(control{Type: "ERROR", Error: "invalid message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			if msg.Stream == "" {
				c.reply(control{Type: "ERROR", Error: "stream is required"})
				continue
			}
			c.hub.subscribe(c, msg.Stream, msg.Since)
		case "UNSUBSCRIBE":
			c.hub.unsubscribe(c, msg.Stream)
			c.reply(control{Type: "UNSUBSCRIBED", Stream: msg.Stream})
		case "ping":
			c.reply(control{Type: "pong", Ping: msg.Ping}.withServerTime())
		default:
			c.reply(control{Type: "ERROR", Error: "unknown type " + msg.Type})
		}
	}
}
