package server_test

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/syncchat/internal/protocol"
	"github.com/Tyrowin/syncchat/internal/room"
	"github.com/Tyrowin/syncchat/internal/server"
	th "github.com/Tyrowin/syncchat/internal/testhelpers"
)

const readTimeout = 2 * time.Second

func newest(t *testing.T, s room.Snapshot) *time.Time {
	t.Helper()
	ts, ok := s.Newest()
	if !ok {
		t.Fatal("snapshot has no messages")
	}
	return &ts
}

func hasMessage(content string) func(room.Snapshot) bool {
	return func(s room.Snapshot) bool {
		return s.Status == room.StatusContinuing && slices.Contains(th.Contents(s), content)
	}
}

// metricValue sums every sample in the named family, or 0 if it is absent.
func metricValue(t *testing.T, reg prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestLoginReceivesGreeting(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	conn := th.ConnectWebSocket(t, srv.WSURL)

	s := th.Login(t, conn, "alice")

	if got := th.Contents(s); !slices.Equal(got, []string{room.GreetingContent}) {
		t.Errorf("handshake messages = %v, want greeting only", got)
	}
	if s.Messages[0].Author != room.GreetingAuthor {
		t.Errorf("greeting author = %q, want %q", s.Messages[0].Author, room.GreetingAuthor)
	}
	if !slices.Equal(s.Names, []string{"alice"}) {
		t.Errorf("names = %v, want [alice]", s.Names)
	}
}

func TestHappyPathMessageBroadcast(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	alice := th.ConnectWebSocket(t, srv.WSURL)
	bob := th.ConnectWebSocket(t, srv.WSURL)

	handshake := th.Login(t, alice, "alice")
	th.Login(t, bob, "bob")

	th.SendEvent(t, alice, protocol.Message{Text: "hi", Since: newest(t, handshake)})

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		s := th.ReadUntil(t, conn, readTimeout, hasMessage("hi"))
		last := s.Messages[len(s.Messages)-1]
		if last.Content != "hi" || last.Author != "alice" {
			t.Errorf("%s: newest message = %+v, want hi by alice", name, last)
		}
		if len(s.Messages) > room.RecentWindowSize {
			t.Errorf("%s: broadcast carried %d messages, want at most %d", name, len(s.Messages), room.RecentWindowSize)
		}
	}
}

func TestLoginBroadcastsRosterToOthers(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	alice := th.ConnectWebSocket(t, srv.WSURL)
	bob := th.ConnectWebSocket(t, srv.WSURL)

	th.Login(t, alice, "alice")
	th.Login(t, bob, "bob")

	s := th.ReadUntil(t, alice, readTimeout, th.WithStatus(room.StatusContinuing))
	if !slices.Equal(s.Names, []string{"alice", "bob"}) {
		t.Errorf("roster = %v, want [alice bob]", s.Names)
	}
}

func TestStaleSendIsRejected(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	alice := th.ConnectWebSocket(t, srv.WSURL)
	bob := th.ConnectWebSocket(t, srv.WSURL)

	aliceHandshake := th.Login(t, alice, "alice")
	th.Login(t, bob, "bob")

	th.SendEvent(t, alice, protocol.Message{Text: "first", Since: newest(t, aliceHandshake)})
	latest := th.ReadUntil(t, bob, readTimeout, hasMessage("first"))

	stale := newest(t, latest).Add(-10 * time.Second)
	th.SendEvent(t, bob, protocol.Message{Text: "late msg", Since: &stale})

	rejected := th.ReadUntil(t, bob, readTimeout, th.WithStatus(room.StatusMessageRejected))
	got := th.Contents(rejected)
	if !slices.Equal(got, []string{room.GreetingContent, "first"}) {
		t.Errorf("rejection carried %v, want every message since the stale watermark", got)
	}

	// The log is unchanged: a full catch-up does not include the rejected text.
	epoch := time.Unix(0, 0).UTC()
	th.SendEvent(t, bob, protocol.StateRequest{Since: &epoch})
	full := th.ReadUntil(t, bob, readTimeout, func(s room.Snapshot) bool {
		return s.Status == room.StatusContinuing && len(s.Messages) >= 2
	})
	if slices.Contains(th.Contents(full), "late msg") {
		t.Errorf("rejected message was appended: %v", th.Contents(full))
	}
}

func TestMessageWithoutWatermarkIsRejected(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	conn := th.ConnectWebSocket(t, srv.WSURL)
	th.Login(t, conn, "alice")

	th.SendEvent(t, conn, protocol.Message{Text: "no watermark"})

	s := th.ReadUntil(t, conn, readTimeout, th.WithStatus(room.StatusMessageRejected))
	if len(s.Messages) != 0 {
		t.Errorf("rejection for nil watermark carried %d messages, want 0", len(s.Messages))
	}
}

func TestStateRequestReturnsSuffix(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	conn := th.ConnectWebSocket(t, srv.WSURL)
	handshake := th.Login(t, conn, "alice")
	greetingAt := newest(t, handshake)

	watermark := greetingAt
	for _, text := range []string{"one", "two", "three"} {
		th.SendEvent(t, conn, protocol.Message{Text: text, Since: watermark})
		watermark = newest(t, th.ReadUntil(t, conn, readTimeout, hasMessage(text)))
	}

	th.SendEvent(t, conn, protocol.StateRequest{Since: greetingAt})
	s := th.ReadUntil(t, conn, readTimeout, func(s room.Snapshot) bool {
		return s.Status == room.StatusContinuing && len(s.Messages) == 4
	})

	want := []string{room.GreetingContent, "one", "two", "three"}
	if got := th.Contents(s); !slices.Equal(got, want) {
		t.Errorf("catch-up = %v, want %v", got, want)
	}
	for i := 1; i < len(s.Messages); i++ {
		if s.Messages[i].SentAt.Before(s.Messages[i-1].SentAt) {
			t.Fatalf("messages out of order at %d: %+v", i, s.Messages)
		}
	}
}

func TestRequestsBeforeLoginAreIgnored(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	conn := th.ConnectWebSocket(t, srv.WSURL)

	epoch := time.Unix(0, 0).UTC()
	th.SendEvent(t, conn, protocol.StateRequest{Since: &epoch})
	th.SendEvent(t, conn, protocol.Message{Text: "sneaky", Since: &epoch})

	first, err := th.ReadSnapshot(conn, 200*time.Millisecond)
	if !errors.Is(err, th.ErrTimeout) {
		t.Fatalf("expected no reply before login, got %+v (err %v)", first, err)
	}
}

func TestHandshakeIsFirstReply(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	conn := th.ConnectWebSocket(t, srv.WSURL)

	epoch := time.Unix(0, 0).UTC()
	th.SendEvent(t, conn, protocol.StateRequest{Since: &epoch})
	th.SendEvent(t, conn, protocol.Login{Name: "alice"})

	s, err := th.ReadSnapshot(conn, readTimeout)
	if err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if s.Status != room.StatusJustLoggedIn {
		t.Errorf("first reply status = %s, want %s", s.Status, room.StatusJustLoggedIn)
	}
}

func TestNameRejected(t *testing.T) {
	tests := []struct {
		name  string
		login string
	}{
		{name: "empty", login: ""},
		{name: "too long", login: strings.Repeat("x", room.DefaultNameMaxLength+1)},
		{name: "taken", login: "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := th.StartChatServer(t, nil)
			holder := th.ConnectWebSocket(t, srv.WSURL)
			th.Login(t, holder, "alice")

			conn := th.ConnectWebSocket(t, srv.WSURL)
			th.SendEvent(t, conn, protocol.Login{Name: tt.login})

			s := th.ReadUntil(t, conn, readTimeout, th.WithStatus(room.StatusNameRejected))
			if !s.Terminal() {
				t.Error("NAME_REJECTED snapshot should be terminal")
			}
			th.ExpectClosed(t, conn, readTimeout)
			th.Eventually(t, readTimeout, func() bool { return srv.Hub().Len() == 1 },
				"rejected connection should leave the registry")
		})
	}
}

func TestConcurrentSameNameLogin(t *testing.T) {
	srv := th.StartChatServer(t, nil)

	const attempts = 5
	conns := make([]*websocket.Conn, attempts)
	for i := range conns {
		conns[i] = th.ConnectWebSocket(t, srv.WSURL)
	}

	statuses := make([]room.Status, attempts)
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			data, err := protocol.EncodeEvent(protocol.Login{Name: "carol"})
			if err != nil {
				t.Errorf("encode login: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.Errorf("send login %d: %v", i, err)
				return
			}
			for {
				s, err := th.ReadSnapshot(conn, readTimeout)
				if err != nil {
					t.Errorf("read reply %d: %v", i, err)
					return
				}
				if s.Status == room.StatusJustLoggedIn || s.Status == room.StatusNameRejected {
					statuses[i] = s.Status
					return
				}
			}
		}(i, conn)
	}
	wg.Wait()

	winners := 0
	winner := -1
	for i, status := range statuses {
		if status == room.StatusJustLoggedIn {
			winners++
			winner = i
		}
	}
	if winners != 1 {
		t.Fatalf("got %d successful logins, want exactly 1 (statuses %v)", winners, statuses)
	}

	epoch := time.Unix(0, 0).UTC()
	th.SendEvent(t, conns[winner], protocol.StateRequest{Since: &epoch})
	s := th.ReadUntil(t, conns[winner], readTimeout, th.WithStatus(room.StatusContinuing))
	if !slices.Equal(s.Names, []string{"carol"}) {
		t.Errorf("roster = %v, want carol exactly once", s.Names)
	}
}

func TestLogout(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	alice := th.ConnectWebSocket(t, srv.WSURL)
	bob := th.ConnectWebSocket(t, srv.WSURL)
	th.Login(t, alice, "alice")
	th.Login(t, bob, "bob")

	th.SendEvent(t, alice, protocol.Logout{})

	th.ReadUntil(t, alice, readTimeout, th.WithStatus(room.StatusLoggedOut))
	th.ExpectClosed(t, alice, readTimeout)

	s := th.ReadUntil(t, bob, readTimeout, func(s room.Snapshot) bool {
		return s.Status == room.StatusContinuing && !s.HasName("alice")
	})
	if !slices.Equal(s.Names, []string{"bob"}) {
		t.Errorf("roster after logout = %v, want [bob]", s.Names)
	}
	th.Eventually(t, readTimeout, func() bool { return srv.Hub().Len() == 1 },
		"logged out connection should leave the registry")
}

func TestUngracefulDisconnect(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	alice := th.ConnectWebSocket(t, srv.WSURL)
	bob := th.ConnectWebSocket(t, srv.WSURL)
	th.Login(t, alice, "alice")
	th.Login(t, bob, "bob")

	// Drop the TCP connection without a close frame.
	if err := bob.NetConn().Close(); err != nil {
		t.Fatalf("sever bob: %v", err)
	}

	s := th.ReadUntil(t, alice, readTimeout, func(s room.Snapshot) bool {
		return s.Status == room.StatusContinuing && !s.HasName("bob")
	})
	if !slices.Equal(s.Names, []string{"alice"}) {
		t.Errorf("roster after disconnect = %v, want [alice]", s.Names)
	}
	th.Eventually(t, readTimeout, func() bool { return srv.Hub().Len() == 1 },
		"severed connection should leave the registry")
}

func TestCapacityLimit(t *testing.T) {
	srv := th.StartChatServer(t, func(cfg *server.Config) {
		cfg.MaxConnections = 2
	})

	th.ConnectWebSocket(t, srv.WSURL)
	th.ConnectWebSocket(t, srv.WSURL)
	th.Eventually(t, readTimeout, func() bool { return srv.Hub().Len() == 2 }, "two connections admitted")

	third := th.ConnectWebSocket(t, srv.WSURL)
	err := th.ExpectClosed(t, third, readTimeout)
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("third connection closed with %v, want try-again-later close", err)
	}

	if got := srv.Hub().Len(); got != 2 {
		t.Errorf("registry size = %d, want 2", got)
	}
	if got := metricValue(t, srv.Registry(), "gochat_connections_rejected_total"); got != 1 {
		t.Errorf("connections_rejected_total = %v, want 1", got)
	}
	if got := metricValue(t, srv.Registry(), "gochat_events_dispatched_total"); got != 0 {
		t.Errorf("events_dispatched_total = %v, want 0", got)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	conn := th.ConnectWebSocket(t, srv.WSURL)

	for _, raw := range []string{"not json", `{"type":"shout","payload":{}}`, `{"type":"login","payload":"x"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write %q: %v", raw, err)
		}
	}

	th.Login(t, conn, "alice")
	if got := metricValue(t, srv.Registry(), "gochat_frames_dropped_total"); got != 3 {
		t.Errorf("frames_dropped_total = %v, want 3", got)
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	srv := th.StartChatServer(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 512
	})
	alice := th.ConnectWebSocket(t, srv.WSURL)
	mallory := th.ConnectWebSocket(t, srv.WSURL)
	th.Login(t, alice, "alice")
	th.Login(t, mallory, "mallory")

	if err := mallory.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("a", 2048))); err != nil {
		t.Fatalf("write oversized frame: %v", err)
	}

	th.ExpectClosed(t, mallory, readTimeout)
	th.ReadUntil(t, alice, readTimeout, func(s room.Snapshot) bool {
		return s.Status == room.StatusContinuing && !s.HasName("mallory")
	})
}

func TestOverlongMessageIsDropped(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	conn := th.ConnectWebSocket(t, srv.WSURL)
	handshake := th.Login(t, conn, "alice")

	th.SendEvent(t, conn, protocol.Message{Text: strings.Repeat("é", 101), Since: newest(t, handshake)})
	th.SendEvent(t, conn, protocol.Message{Text: strings.Repeat("é", 100), Since: newest(t, handshake)})

	s := th.ReadUntil(t, conn, readTimeout, th.WithStatus(room.StatusContinuing))
	if got := th.Contents(s); got[len(got)-1] != strings.Repeat("é", 100) {
		t.Errorf("first broadcast newest = %q, want the 100 rune message", got[len(got)-1])
	}
	if got := metricValue(t, srv.Registry(), "gochat_messages_appended_total"); got != 1 {
		t.Errorf("messages_appended_total = %v, want 1", got)
	}
}

func TestRateLimitDropsExcessFrames(t *testing.T) {
	srv := th.StartChatServer(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	})
	alice := th.ConnectWebSocket(t, srv.WSURL)
	bob := th.ConnectWebSocket(t, srv.WSURL)
	handshake := th.Login(t, alice, "alice")
	th.Login(t, bob, "bob")

	since := newest(t, handshake)
	for _, text := range []string{"a", "b", "c"} {
		th.SendEvent(t, alice, protocol.Message{Text: text, Since: since})
	}

	th.ReadUntil(t, bob, readTimeout, hasMessage("b"))
	th.ExpectNoSnapshot(t, bob, 300*time.Millisecond, hasMessage("c"))
	if got := metricValue(t, srv.Registry(), "gochat_frames_dropped_total"); got != 1 {
		t.Errorf("frames_dropped_total = %v, want 1", got)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	srv := th.StartChatServer(t, nil)
	conn := th.ConnectWebSocket(t, srv.WSURL)
	th.Login(t, conn, "alice")

	if err := srv.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	th.ExpectClosed(t, conn, readTimeout)
	if got := srv.Hub().Len(); got != 0 {
		t.Errorf("registry size after shutdown = %d, want 0", got)
	}
}
