// Package transport implements the Connection/Window collaborators spec
// §3 treats as external: one gorilla/websocket connection per client,
// addressable windows (browser tabs) layered on top.
package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// WebSocket timeout constants, grounded on the teacher's
// server/client.go constants of the same names.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 1 << 20 // 1MB

	sendQueueSize = 256
)

// Connection represents a single client transport (spec §3). A single
// user may own multiple connections; a single connection may host
// multiple windows.
type Connection interface {
	// User returns the opaque identity bound to this connection, or
	// "anonymous".
	User() string

	// Send is a non-blocking, best-effort write. A full send queue or
	// a closed connection silently drops the message (spec §7,
	// TransportClosed: "best-effort ... silently dropped").
	Send(message interface{})

	// IsOpen reports whether the underlying transport is still live.
	IsOpen() bool
}

// WSConnection adapts a gorilla/websocket.Conn to the Connection
// interface, grounded on the teacher's Client read/write pump shape.
type WSConnection struct {
	conn *websocket.Conn
	user string

	send chan interface{}

	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewWSConnection wraps conn for a given user identity. sendRate caps
// outbound messages per second per connection (SPEC_FULL §3: a
// golang.org/x/time/rate token bucket generalized from the teacher's
// budget.RateLimiter interface).
func NewWSConnection(conn *websocket.Conn, user string, sendRate rate.Limit, sendBurst int) *WSConnection {
	c := &WSConnection{
		conn:    conn,
		user:    user,
		send:    make(chan interface{}, sendQueueSize),
		limiter: rate.NewLimiter(sendRate, sendBurst),
	}
	conn.SetReadLimit(maxMessageSize)
	return c
}

// User implements Connection.
func (c *WSConnection) User() string { return c.user }

// IsOpen implements Connection.
func (c *WSConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send implements Connection. It enqueues message for the write pump;
// if the queue is full or the connection is closed the message is
// dropped, matching spec §7's TransportClosed policy.
func (c *WSConnection) Send(message interface{}) {
	if !c.limiter.Allow() {
		return
	}
	// Checking closed under mu keeps Send from writing to the channel
	// Close is about to (or did) close: Close sets closed first.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- message:
	default:
		// Queue full: drop rather than block the caller.
	}
}

// Close marks the connection closed and stops its write pump.
func (c *WSConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
}

// ReadPump reads incoming client messages and passes each raw payload
// to onMessage until a read fails (including a read deadline expiring
// for lack of a pong), then closes the connection. It installs the
// ping/pong keepalive from SPEC_FULL §4 ("ping/pong keepalive and idle
// window reaping").
func (c *WSConnection) ReadPump(onMessage func(raw []byte)) {
	defer c.Close()

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
		onMessage(raw)
	}
}

// WritePump drains the send queue to the underlying connection and
// pings on pingPeriod. Call it in its own goroutine; it returns when
// the send queue is closed or a write fails.
func (c *WSConnection) WritePump() {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
