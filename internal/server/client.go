// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/syncchat/internal/logger"
	"github.com/Tyrowin/syncchat/internal/protocol"
	"github.com/Tyrowin/syncchat/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one accepted WebSocket connection. Its read pump turns frames
// into events on the dispatcher queue; its write pump is the only goroutine
// that writes to the socket, so concurrent sends never interleave.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig

	loggedIn  atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	// sendMu orders sends against closing the send channel.
	sendMu sync.RWMutex
}

// NewClient creates a new Client instance with the provided WebSocket connection,
// hub reference, and client address. Limits come from the hub's configuration.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.config
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// Addr returns the remote address the connection was accepted from.
func (c *Client) Addr() string { return c.addr }

// LoggedIn reports whether the dispatcher accepted this connection's login.
func (c *Client) LoggedIn() bool { return c.loggedIn.Load() }

// Closing reports whether Close has been called.
func (c *Client) Closing() bool { return c.closing.Load() }

func (c *Client) setLoggedIn() { c.loggedIn.Store(true) }

// Send queues a snapshot for delivery. Failures are logged and swallowed: a
// dead connection is detected by its read pump, not by its senders.
func (c *Client) Send(s room.Snapshot) {
	payload, err := protocol.EncodeSnapshot(s)
	if err != nil {
		logger.Error("failed to encode snapshot", "client", c.id, "error", err)
		return
	}
	c.sendRaw(payload)
}

func (c *Client) sendRaw(payload []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closing.Load() {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		logger.Warn("send buffer full; dropping snapshot", "client", c.id, "addr", c.addr)
		c.hub.metrics.snapshotsDropped.Inc()
		return false
	}
}

// Close marks the client as closing and stops accepting sends. Snapshots
// already queued are still flushed by the write pump, which then sends a
// close frame and closes the socket. Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.loggedIn.Store(false)

		c.sendMu.Lock()
		close(c.send)
		c.sendMu.Unlock()
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Warn("error setting initial read deadline", "client", c.id, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			logger.Warn("error setting read deadline in pong handler", "client", c.id, "error", err)
		}
		return nil
	})
}

// logReadError logs the reason a read loop ended at a level matching how
// unusual the cause was.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn("frame exceeded maximum size", "client", c.id, "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		logger.Info("client disconnected", "client", c.id, "addr", c.addr, "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		logger.Info("client connection closed", "client", c.id, "addr", c.addr, "reason", err)
	default:
		logger.Warn("websocket read error", "client", c.id, "addr", c.addr, "error", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the frame should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		logger.Warn("rate limit exceeded; discarding frame",
			"client", c.id, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		c.hub.metrics.framesDropped.WithLabelValues("rate_limited").Inc()
		return false
	}
	return true
}

// enqueue hands an event to the dispatcher. When the queue is gone the
// server is shutting down and the client tears itself down.
func (c *Client) enqueue(ev protocol.Event) bool {
	if err := c.hub.queue.push(inboundEvent{client: c, event: ev}); err != nil {
		logger.Debug("dropping event after queue close", "client", c.id, "kind", ev.Kind())
		c.hub.Remove(c)
		c.Close()
		return false
	}
	return true
}

func (c *Client) readPump() {
	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closing.Load() {
				c.logReadError(err)
			}
			break
		}

		ev, err := protocol.DecodeEvent(raw)
		if err != nil {
			logger.Warn("invalid frame", "client", c.id, "error", err)
			c.hub.metrics.framesDropped.WithLabelValues("malformed").Inc()
			continue
		}

		if _, isLogout := ev.(protocol.Logout); isLogout {
			c.enqueue(ev)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.enqueue(ev) {
			return
		}
	}

	// A connection closed by the server already has its bookkeeping done.
	if c.closing.Load() {
		return
	}
	c.enqueue(protocol.Logout{})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			logger.Warn("error closing connection in write pump", "client", c.id, "error", err)
		}
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logger.Warn("error setting write deadline", "client", c.id, "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			logger.Warn("error writing snapshot", "client", c.id, "addr", c.addr, "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close frame to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			logger.Debug("error writing close message", "client", c.id, "error", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logger.Warn("error setting write deadline for ping", "client", c.id, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		logger.Warn("error writing ping", "client", c.id, "error", err)
		return false
	}
	return true
}

// isExpectedCloseError reports whether err is the usual noise of writing to
// or closing a socket the peer already dropped.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return strings.Contains(err.Error(), "broken pipe")
}
