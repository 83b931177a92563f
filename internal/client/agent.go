// Package client implements the chat client's connection and catch-up logic.
//
// An Agent owns one WebSocket session at a time. It tracks a watermark, the
// send time of the newest message already shown, folds incoming snapshots
// into the view through Reconcile, and asks the server for everything after
// the watermark on a fixed interval so missed broadcasts are repaired.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/syncchat/internal/logger"
	"github.com/Tyrowin/syncchat/internal/protocol"
	"github.com/Tyrowin/syncchat/internal/room"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message is too long")
)

const (
	DefaultResyncInterval   = 2 * time.Second
	DefaultMessageMaxLength = 100
	DefaultPath             = "/ws"

	writeWait = 10 * time.Second
)

// State is where an Agent is in its connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHandshake
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting handshake"
	case StateActive:
		return "active"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// View receives what the Agent wants shown. Both methods are called from the
// Agent's receive goroutine.
type View interface {
	// SetState shows a reconciled snapshot. Terminal snapshots are passed
	// through as received, after the session has been torn down.
	SetState(room.Snapshot)
	// Disconnected reports that the connection failed or could not be made.
	Disconnected()
}

// Option configures an Agent.
type Option func(*Agent)

// WithResyncInterval sets how often the Agent sends a state request.
func WithResyncInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.resyncInterval = d
		}
	}
}

// WithMessageMaxLength sets the longest text, in runes, Send accepts.
func WithMessageMaxLength(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.messageMaxLength = n
		}
	}
}

// WithDialer replaces the default WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(a *Agent) {
		if d != nil {
			a.dialer = d
		}
	}
}

// WithPath sets the URL path of the server's WebSocket endpoint.
func WithPath(path string) Option {
	return func(a *Agent) {
		if path != "" {
			a.path = path
		}
	}
}

// Agent connects a View to a chat server.
type Agent struct {
	view             View
	dialer           *websocket.Dialer
	path             string
	resyncInterval   time.Duration
	messageMaxLength int

	mu      sync.Mutex
	state   State
	current *session

	watermark atomic.Pointer[time.Time]
}

// New creates a disconnected Agent reporting to view.
func New(view View, opts ...Option) *Agent {
	a := &Agent{
		view:             view,
		dialer:           &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		path:             DefaultPath,
		resyncInterval:   DefaultResyncInterval,
		messageMaxLength: DefaultMessageMaxLength,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Watermark returns the send time of the newest message already shown, or
// nil before the first snapshot of a session.
func (a *Agent) Watermark() *time.Time {
	w := a.watermark.Load()
	if w == nil {
		return nil
	}
	out := *w
	return &out
}

// Login dials host:port and asks to join as name. It returns once the login
// has been sent; the handshake reply arrives through the View.
func (a *Agent) Login(ctx context.Context, name, host string, port int) error {
	a.mu.Lock()
	if a.state != StateDisconnected {
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	a.state = StateConnecting
	a.mu.Unlock()

	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: a.path}
	conn, resp, err := a.dialer.DialContext(ctx, u.String(), http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		a.setState(StateDisconnected)
		logger.Warn("connection failed", "url", u.String(), "error", err)
		a.view.Disconnected()
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	s := newSession(conn)
	a.watermark.Store(nil)
	a.mu.Lock()
	a.current = s
	a.state = StateAwaitingHandshake
	a.mu.Unlock()
	logger.Info("connected", "url", u.String(), "name", name)

	go a.receive(s)
	go a.resync(s)

	if err := s.write(protocol.Login{Name: name, Host: host, Port: port}); err != nil {
		a.fail(s, err)
		return err
	}
	return nil
}

// Send submits text stamped with the current watermark.
func (a *Agent) Send(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > a.messageMaxLength {
		return fmt.Errorf("%w: %d runes, limit %d", ErrMessageTooLong, n, a.messageMaxLength)
	}

	s, err := a.liveSession(StateActive)
	if err != nil {
		return err
	}
	if err := s.write(protocol.Message{Text: text, Since: a.watermark.Load()}); err != nil {
		a.fail(s, err)
		return err
	}
	return nil
}

// Logout asks the server to end the session. The LOGGED_OUT reply finishes
// the teardown.
func (a *Agent) Logout() error {
	s, err := a.liveSession(StateAwaitingHandshake, StateActive)
	if err != nil {
		return err
	}
	if err := s.write(protocol.Logout{}); err != nil {
		a.fail(s, err)
		return err
	}
	return nil
}

// Close drops the connection without waiting for the server. The View is
// not notified.
func (a *Agent) Close() {
	a.mu.Lock()
	s := a.current
	a.mu.Unlock()
	if s != nil {
		a.teardown(s)
	}
}

func (a *Agent) setState(st State) {
	a.mu.Lock()
	a.state = st
	a.mu.Unlock()
}

// liveSession returns the current session if the Agent is in one of states.
func (a *Agent) liveSession(states ...State) (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil, ErrNotConnected
	}
	for _, st := range states {
		if a.state == st {
			return a.current, nil
		}
	}
	return nil, ErrNotConnected
}

func (a *Agent) receive(s *session) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			a.fail(s, err)
			return
		}

		snap, err := protocol.DecodeSnapshot(data)
		if err != nil {
			logger.Warn("ignoring undecodable snapshot", "error", err)
			continue
		}

		if snap.Terminal() {
			logger.Info("session ended by server", "status", snap.Status)
			if a.teardown(s) {
				a.view.SetState(snap)
			}
			return
		}
		a.apply(s, snap)
	}
}

func (a *Agent) apply(s *session, snap room.Snapshot) {
	merged, next, ok := Reconcile(a.watermark.Load(), snap)
	if !ok {
		logger.Debug("discarding snapshot that does not overlap the watermark",
			"status", snap.Status, "messages", len(snap.Messages))
		return
	}

	a.mu.Lock()
	if a.current != s {
		a.mu.Unlock()
		return
	}
	a.watermark.Store(next)
	if a.state == StateAwaitingHandshake {
		a.state = StateActive
	}
	a.mu.Unlock()

	a.view.SetState(merged)
}

func (a *Agent) resync(s *session) {
	ticker := time.NewTicker(a.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := a.liveSession(StateActive); err != nil {
				continue
			}
			if err := s.write(protocol.StateRequest{Since: a.watermark.Load()}); err != nil {
				a.fail(s, err)
				return
			}
		}
	}
}

// teardown ends s if it is still the current session and reports whether it was.
func (a *Agent) teardown(s *session) bool {
	a.mu.Lock()
	if a.current != s {
		a.mu.Unlock()
		return false
	}
	a.current = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	a.watermark.Store(nil)
	s.close()
	return true
}

func (a *Agent) fail(s *session, err error) {
	if !a.teardown(s) {
		return
	}
	logger.Warn("connection lost", "error", err)
	a.view.Disconnected()
}

// session is one WebSocket connection. Writes are serialized by mu.
type session struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn, done: make(chan struct{})}
}

func (s *session) write(ev protocol.Event) error {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("send %s: %w", ev.Kind(), err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", ev.Kind(), err)
	}
	return nil
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}
