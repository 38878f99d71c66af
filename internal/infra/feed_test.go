package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// mockHandler implements FeedHandler for testing.
type mockHandler struct {
	url    string
	header http.Header

	mu           sync.Mutex
	connects     int
	disconnects  int
	subscribed   [][]string
	unsubscribed [][]string
	messages     []string
}

type mockCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (m *mockHandler) Venue() Venue                 { return VenueCoinbase }
func (m *mockHandler) URL() string                  { return m.url }
func (m *mockHandler) Header() (http.Header, error) { return m.header.Clone(), nil }
func (m *mockHandler) OnConnect(ctx context.Context, w FeedWriter) error {
	m.mu.Lock()
	m.connects++
	m.mu.Unlock()
	return nil
}
func (m *mockHandler) Subscribe(w FeedWriter, instruments []string) error {
	m.mu.Lock()
	m.subscribed = append(m.subscribed, instruments)
	m.mu.Unlock()
	return w.WriteJSON(mockCommand{Op: "subscribe", Args: instruments})
}
func (m *mockHandler) Unsubscribe(w FeedWriter, instruments []string) error {
	m.mu.Lock()
	m.unsubscribed = append(m.unsubscribed, instruments)
	m.mu.Unlock()
	return w.WriteJSON(mockCommand{Op: "unsubscribe", Args: instruments})
}
func (m *mockHandler) OnMessage(ctx context.Context, msg []byte) error {
	m.mu.Lock()
	m.messages = append(m.messages, string(msg))
	m.mu.Unlock()
	return nil
}
func (m *mockHandler) OnPing(ctx context.Context, w FeedWriter) error { return w.Ping() }
func (m *mockHandler) OnDisconnect() {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
}

func (m *mockHandler) snapshot() (connects int, subs [][]string, msgs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, append([][]string(nil), m.subscribed...), append([]string(nil), m.messages...)
}

// createMockWSServer creates a test WebSocket server; handler runs per connection.
func createMockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

// httpToWS converts http:// URL to ws://
func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func fastFeed(h FeedHandler, cfg FeedConfig) *FeedConnection {
	f := NewFeedConnection(h, cfg, NewMetrics())
	f.Backoff = func(int) time.Duration { return 5 * time.Millisecond }
	return f
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestFeedConnection_SubscribesAndDelivers(t *testing.T) {
	received := make(chan mockCommand, 4)
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd mockCommand
		json.Unmarshal(raw, &cmd)
		received <- cmd
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ticker"}`))
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	h := &mockHandler{url: httpToWS(server.URL)}
	feed := fastFeed(h, FeedConfig{HeartbeatInterval: time.Second})
	feed.Subscribe("BTC-USD", "ETH-USD")

	var states []FeedState
	var stMu sync.Mutex
	feed.OnState = func(_ Venue, s FeedState) {
		stMu.Lock()
		states = append(states, s)
		stMu.Unlock()
	}

	feed.Start(context.Background())
	defer feed.Stop()

	select {
	case cmd := <-received:
		if cmd.Op != "subscribe" || len(cmd.Args) != 2 || cmd.Args[0] != "BTC-USD" {
			t.Errorf("unexpected subscribe command: %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive subscription")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, _, msgs := h.snapshot()
		return len(msgs) >= 1
	}, "message delivery")

	if feed.State() != FeedSubscribed {
		t.Errorf("state = %s, want SUBSCRIBED", feed.State())
	}
	if feed.LastHeartbeat().IsZero() {
		t.Error("heartbeat not recorded")
	}
	stMu.Lock()
	defer stMu.Unlock()
	if len(states) < 2 || states[0] != FeedConnecting || states[1] != FeedSubscribed {
		t.Errorf("state sequence = %v", states)
	}
}

func TestFeedConnection_ReconnectReissuesSubscriptions(t *testing.T) {
	var conns int32
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		n := atomic.AddInt32(&conns, 1)
		conn.ReadMessage() // subscription
		if n == 1 {
			return // drop the first session
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	h := &mockHandler{url: httpToWS(server.URL)}
	feed := fastFeed(h, FeedConfig{HeartbeatInterval: time.Second})
	feed.Subscribe("KX-A")
	feed.Start(context.Background())
	defer feed.Stop()

	waitFor(t, 3*time.Second, func() bool {
		connects, subs, _ := h.snapshot()
		return connects >= 2 && len(subs) >= 2
	}, "second session with re-subscription")

	_, subs, _ := h.snapshot()
	for i, s := range subs[:2] {
		if len(s) != 1 || s[0] != "KX-A" {
			t.Errorf("session %d subscribed %v", i+1, s)
		}
	}
}

func TestFeedConnection_MissedHeartbeatsDegrade(t *testing.T) {
	done := make(chan struct{})
	var conns int32
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		atomic.AddInt32(&conns, 1)
		// Never read: pings go unanswered.
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
	})
	defer server.Close()
	defer close(done)

	h := &mockHandler{url: httpToWS(server.URL)}
	feed := fastFeed(h, FeedConfig{HeartbeatInterval: 40 * time.Millisecond})

	var degraded atomic.Bool
	feed.OnState = func(_ Venue, s FeedState) {
		if s == FeedDegraded {
			degraded.Store(true)
		}
	}
	feed.Start(context.Background())
	defer feed.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return degraded.Load() && atomic.LoadInt32(&conns) >= 2
	}, "degrade and reconnect")
}

func TestFeedConnection_SessionLimitReconnects(t *testing.T) {
	done := make(chan struct{})
	var conns int32
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		atomic.AddInt32(&conns, 1)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
	})
	defer server.Close()
	defer close(done)

	h := &mockHandler{url: httpToWS(server.URL)}
	feed := fastFeed(h, FeedConfig{HeartbeatInterval: time.Second, MaxSession: 60 * time.Millisecond})
	feed.Start(context.Background())
	defer feed.Stop()

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&conns) >= 3 }, "proactive session refresh")
}

func TestFeedConnection_AuthFailuresHalt(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		if r.Header.Get("KALSHI-ACCESS-KEY") == "" {
			t.Error("signed header missing from handshake")
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	h := &mockHandler{url: httpToWS(server.URL), header: http.Header{"Kalshi-Access-Key": {"k"}}}
	feed := fastFeed(h, FeedConfig{HeartbeatInterval: time.Second, MaxAuthFailures: 3})

	var sawAuth atomic.Bool
	feed.OnState = func(_ Venue, s FeedState) {
		if s == FeedAuthenticating {
			sawAuth.Store(true)
		}
	}
	feed.Start(context.Background())
	defer feed.Stop()

	waitFor(t, 2*time.Second, feed.Halted, "halt after auth failures")
	waitFor(t, time.Second, func() bool { return feed.State() == FeedDisconnected }, "disconnected after halt")
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if !sawAuth.Load() {
		t.Error("AUTHENTICATING state not reported")
	}
}

func TestFeedConnection_ResubscribeWhileLive(t *testing.T) {
	done := make(chan struct{})
	got := make(chan mockCommand, 8)
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var cmd mockCommand
				json.Unmarshal(raw, &cmd)
				got <- cmd
			}
		}()
		<-done
	})
	defer server.Close()
	defer close(done)

	h := &mockHandler{url: httpToWS(server.URL)}
	feed := fastFeed(h, FeedConfig{HeartbeatInterval: time.Second})
	feed.Subscribe("KX-A")
	feed.Start(context.Background())
	defer feed.Stop()

	waitFor(t, 2*time.Second, func() bool { return feed.State() == FeedSubscribed }, "subscribed")
	if err := feed.Resubscribe("KX-A"); err != nil {
		t.Fatalf("Resubscribe: %v", err)
	}
	if err := feed.Resubscribe("KX-unknown"); err != nil {
		t.Fatalf("Resubscribe unknown: %v", err)
	}
	if err := feed.Subscribe("KX-B"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := []string{"subscribe:KX-A", "unsubscribe:KX-A", "subscribe:KX-A", "subscribe:KX-B"}
	for i, w := range want {
		select {
		case cmd := <-got:
			if s := cmd.Op + ":" + strings.Join(cmd.Args, ","); s != w {
				t.Errorf("command %d = %s, want %s", i, s, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("command %d (%s) not received", i, w)
		}
	}
	if subs := feed.Subscriptions(); len(subs) != 2 || subs[1] != "KX-B" {
		t.Errorf("Subscriptions() = %v", subs)
	}
}

func TestFeedConnection_GracefulShutdown(t *testing.T) {
	serverClosed := make(chan struct{})
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		<-serverClosed
	})
	defer server.Close()
	defer close(serverClosed)

	feed := fastFeed(&mockHandler{url: httpToWS(server.URL)}, FeedConfig{})
	feed.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		feed.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within timeout")
	}
	if feed.State() != FeedDisconnected {
		t.Errorf("state after Stop = %s", feed.State())
	}
}

func TestFeedConnection_WriteWhenOffline(t *testing.T) {
	feed := NewFeedConnection(&mockHandler{url: "ws://127.0.0.1:1"}, FeedConfig{}, nil)
	if err := feed.WriteJSON(map[string]string{"op": "ping"}); err == nil {
		t.Error("expected error writing without a connection")
	}
	if err := feed.Subscribe("KX-A"); err != nil {
		t.Errorf("offline Subscribe should only record: %v", err)
	}
}
