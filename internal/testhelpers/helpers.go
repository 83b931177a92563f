// Package testhelpers provides common utilities and helper functions for testing the SyncChat server.
//
// It starts real chat servers on loopback listeners and speaks the wire
// protocol from raw WebSocket connections, so tests can drive the server
// exactly as a remote client would.
package testhelpers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/syncchat/internal/logger"
	"github.com/Tyrowin/syncchat/internal/protocol"
	"github.com/Tyrowin/syncchat/internal/room"
	"github.com/Tyrowin/syncchat/internal/server"
)

// TestOrigin is the Origin header ConnectWebSocket sends; test servers allow it.
const TestOrigin = "http://localhost:8080"

// ErrTimeout is returned by readers that gave up waiting for a frame.
var ErrTimeout = errors.New("timed out waiting for snapshot")

// ChatServer is a running chat server bound to an httptest listener.
type ChatServer struct {
	*server.Server
	HTTP  *httptest.Server
	WSURL string
}

// StartChatServer starts a chat server using the default configuration,
// adjusted by customize when it is non-nil. Both the HTTP listener and the
// chat server are shut down when the test ends.
func StartChatServer(t *testing.T, customize func(cfg *server.Config)) *ChatServer {
	t.Helper()
	logger.Disable()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	if customize != nil {
		customize(cfg)
	}

	srv := server.New(cfg)
	srv.Start()
	httpServer := httptest.NewServer(srv.SetupRoutes())

	t.Cleanup(func() {
		httpServer.Close()
		if err := srv.Shutdown(2 * time.Second); err != nil {
			t.Logf("chat server shutdown: %v", err)
		}
	})

	return &ChatServer{
		Server: srv,
		HTTP:   httpServer,
		WSURL:  WebSocketURL(httpServer.URL) + "/ws",
	}
}

// WebSocketURL converts an http:// base URL to its ws:// form.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket dials url with the test origin and fails the test on error.
// The connection is closed when the test ends.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent encodes ev and writes it as one text frame.
func SendEvent(t *testing.T, conn *websocket.Conn, ev protocol.Event) {
	t.Helper()

	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		t.Fatalf("Failed to encode %s event: %v", ev.Kind(), err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to send %s event: %v", ev.Kind(), err)
	}
}

// ReadSnapshot reads the next snapshot frame, waiting at most timeout.
func ReadSnapshot(conn *websocket.Conn, timeout time.Duration) (room.Snapshot, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return room.Snapshot{}, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return room.Snapshot{}, ErrTimeout
		}
		return room.Snapshot{}, err
	}
	return protocol.DecodeSnapshot(data)
}

// ReadUntil reads snapshots until match accepts one and returns it. It fails
// the test if the connection errors or the deadline passes first.
func ReadUntil(t *testing.T, conn *websocket.Conn, timeout time.Duration, match func(room.Snapshot) bool) room.Snapshot {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("No matching snapshot within %v", timeout)
		}
		s, err := ReadSnapshot(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for matching snapshot: %v", err)
		}
		if match(s) {
			return s
		}
	}
}

// WithStatus matches snapshots carrying status.
func WithStatus(status room.Status) func(room.Snapshot) bool {
	return func(s room.Snapshot) bool { return s.Status == status }
}

// Login sends a login for name and waits for the handshake reply.
func Login(t *testing.T, conn *websocket.Conn, name string) room.Snapshot {
	t.Helper()

	SendEvent(t, conn, protocol.Login{Name: name})
	s := ReadUntil(t, conn, 2*time.Second, func(s room.Snapshot) bool {
		return s.Status == room.StatusJustLoggedIn || s.Status.Terminal()
	})
	if s.Status != room.StatusJustLoggedIn {
		t.Fatalf("Login as %q got status %s", name, s.Status)
	}
	return s
}

// ExpectNoSnapshot fails the test if a snapshot matching match arrives
// within wait. Non-matching snapshots are ignored. A timed out read leaves a
// gorilla connection unusable, so this must be the last read on conn.
func ExpectNoSnapshot(t *testing.T, conn *websocket.Conn, wait time.Duration, match func(room.Snapshot) bool) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		s, err := ReadSnapshot(conn, remaining)
		if errors.Is(err, ErrTimeout) {
			return
		}
		if err != nil {
			t.Fatalf("Connection failed while expecting silence: %v", err)
		}
		if match(s) {
			t.Fatalf("Unexpected snapshot: %+v", s)
		}
	}
}

// ExpectClosed reads until the server closes the connection and returns the
// close error. Snapshots arriving before the close are discarded.
func ExpectClosed(t *testing.T, conn *websocket.Conn, timeout time.Duration) error {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("Connection still open after %v", timeout)
			}
			return err
		}
	}
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %v: %s", timeout, msg)
}

// Contents returns the message texts of s in order.
func Contents(s room.Snapshot) []string {
	out := make([]string, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.Content
	}
	return out
}
