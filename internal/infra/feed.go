package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Drop reasons reported to metrics.
const (
	ReasonReadError        = "read_error"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonSessionLimit     = "session_limit"
	ReasonPingFailed       = "ping_failed"
	ReasonConnectFailed    = "connect_failed"
)

// sessionRefreshLead is how long before a venue's forced session end we reconnect.
const sessionRefreshLead = 30 * time.Second

// FeedWriter is the write side of a live connection handed to handlers.
type FeedWriter interface {
	WriteJSON(v any) error
	WriteMessage(msgType int, data []byte) error
	Ping() error
}

// FeedHandler holds the venue-specific part of a feed: handshake, subscription commands and decoding.
type FeedHandler interface {
	Venue() Venue
	URL() string
	// Header returns handshake headers. Signed venues sign here; a non-empty header means Authenticating.
	Header() (http.Header, error)
	// OnConnect runs once per session before subscriptions are re-issued.
	OnConnect(ctx context.Context, w FeedWriter) error
	Subscribe(w FeedWriter, instruments []string) error
	Unsubscribe(w FeedWriter, instruments []string) error
	// OnMessage decodes one frame. Errors are counted, not fatal.
	OnMessage(ctx context.Context, msg []byte) error
	// OnPing is called every heartbeat interval.
	OnPing(ctx context.Context, w FeedWriter) error
	// OnDisconnect runs after a session ends, before the reconnect.
	OnDisconnect()
}

// FeedConfig holds connection timings.
type FeedConfig struct {
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	MaxSession        time.Duration // 0: no forced session end
	MaxAuthFailures   int           // 0: retry forever
}

// DefaultFeedConfig returns the production timings.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		HeartbeatInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// FeedConnection owns one venue connection: dial, auth, heartbeat, reconnect with backoff and
// re-subscription. Each connection has its own goroutine; handlers run on it.
type FeedConnection struct {
	handler FeedHandler
	cfg     FeedConfig
	metrics *Metrics

	// OnState is called on every state change from the feed goroutine.
	OnState func(Venue, FeedState)
	// Backoff returns the delay before reconnect attempt n. Defaults to ReconnectDelay.
	Backoff func(n int) time.Duration

	state    atomic.Int32
	lastBeat atomic.Int64 // unix nanos
	halted   atomic.Bool

	mu     sync.Mutex
	conn   *websocket.Conn
	reason string

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]struct{}
	live  bool // subscriptions issued on the current session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeedConnection creates a stopped feed.
func NewFeedConnection(handler FeedHandler, cfg FeedConfig, metrics *Metrics) *FeedConnection {
	def := DefaultFeedConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &FeedConnection{
		handler: handler,
		cfg:     cfg,
		metrics: metrics,
		Backoff: ReconnectDelay,
		subs:    make(map[string]struct{}),
	}
}

// Venue returns the handler's venue.
func (f *FeedConnection) Venue() Venue { return f.handler.Venue() }

// State returns the current lifecycle state.
func (f *FeedConnection) State() FeedState { return FeedState(f.state.Load()) }

// Halted reports whether the feed gave up after persistent auth failures.
func (f *FeedConnection) Halted() bool { return f.halted.Load() }

// LastHeartbeat returns when the connection last showed signs of life.
func (f *FeedConnection) LastHeartbeat() time.Time {
	n := f.lastBeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Start launches the connection loop.
func (f *FeedConnection) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.runLoop(ctx)
}

// Stop closes the connection after the in-flight message and waits for the loop to exit.
func (f *FeedConnection) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.drop(nil, "")
	f.wg.Wait()
}

// Subscribe adds instruments to the subscription set, subscribing immediately when live.
func (f *FeedConnection) Subscribe(instruments ...string) error {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	var added []string
	for _, in := range instruments {
		if _, ok := f.subs[in]; !ok && in != "" {
			f.subs[in] = struct{}{}
			added = append(added, in)
		}
	}
	if len(added) == 0 || !f.live {
		return nil
	}
	return f.handler.Subscribe(f, added)
}

// Unsubscribe removes instruments from the subscription set.
func (f *FeedConnection) Unsubscribe(instruments ...string) error {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	var removed []string
	for _, in := range instruments {
		if _, ok := f.subs[in]; ok {
			delete(f.subs, in)
			removed = append(removed, in)
		}
	}
	if len(removed) == 0 || !f.live {
		return nil
	}
	return f.handler.Unsubscribe(f, removed)
}

// Resubscribe forces a fresh snapshot for one instrument. Offline feeds pick it up on reconnect.
func (f *FeedConnection) Resubscribe(instrument string) error {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	if _, ok := f.subs[instrument]; !ok || !f.live {
		return nil
	}
	if err := f.handler.Unsubscribe(f, []string{instrument}); err != nil {
		return err
	}
	return f.handler.Subscribe(f, []string{instrument})
}

// Subscriptions returns the subscription set, sorted.
func (f *FeedConnection) Subscriptions() []string {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	out := make([]string, 0, len(f.subs))
	for in := range f.subs {
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

func (f *FeedConnection) runLoop(ctx context.Context) {
	defer f.wg.Done()
	defer f.setState(FeedDisconnected)

	retry := 0
	authFailures := 0
	venue := f.Venue()

	for {
		if ctx.Err() != nil {
			return
		}

		f.setState(FeedConnecting)
		if err := f.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.metrics.Error("feed", err)
			if errors.Is(err, ErrAuthRejected) {
				authFailures++
				if f.cfg.MaxAuthFailures > 0 && authFailures >= f.cfg.MaxAuthFailures {
					f.halted.Store(true)
					halt := fmt.Errorf("%s: %w after %d auth failures: %v", venue, ErrFeedHalted, authFailures, err)
					f.metrics.Error("feed", halt)
					slog.Error("🛑 FEED_HALTED", slog.String("venue", string(venue)), slog.Any("error", halt))
					return
				}
			}

			delay := f.Backoff(retry)
			slog.Warn("Feed connection failed",
				slog.String("venue", string(venue)),
				slog.String("class", string(Classify(err))),
				slog.Any("error", err),
				slog.Int("retry", retry),
				slog.Duration("delay", delay))
			retry++
			f.metrics.FeedReconnect(venue, ReasonConnectFailed)
			f.setState(FeedReconnecting)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		retry = 0
		authFailures = 0
		reason := f.session(ctx)
		f.handler.OnDisconnect()
		if ctx.Err() != nil {
			return
		}

		slog.Warn("Feed session ended", slog.String("venue", string(venue)), slog.String("reason", reason))
		f.metrics.FeedReconnect(venue, reason)
		f.setState(FeedReconnecting)
		if reason != ReasonSessionLimit && !sleepCtx(ctx, f.Backoff(0)) {
			return
		}
	}
}

func (f *FeedConnection) connect(ctx context.Context) error {
	header, err := f.handler.Header()
	if err != nil {
		return fmt.Errorf("handshake headers: %w", err)
	}
	if header == nil {
		header = make(http.Header)
	}
	if len(header) > 0 {
		f.setState(FeedAuthenticating)
	}
	header.Set("User-Agent", AppName)

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, f.handler.URL(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: handshake status %d", ErrAuthRejected, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", f.Venue(), err)
	}

	conn.SetPongHandler(func(string) error {
		f.beat()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		f.beat()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(f.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	f.mu.Lock()
	f.conn = conn
	f.reason = ""
	f.mu.Unlock()
	f.beat()

	if err := f.handler.OnConnect(ctx, f); err != nil {
		f.drop(conn, "")
		return fmt.Errorf("OnConnect failed: %w", err)
	}

	f.subMu.Lock()
	instruments := make([]string, 0, len(f.subs))
	for in := range f.subs {
		instruments = append(instruments, in)
	}
	sort.Strings(instruments)
	if len(instruments) > 0 {
		if err := f.handler.Subscribe(f, instruments); err != nil {
			f.subMu.Unlock()
			f.drop(conn, "")
			return fmt.Errorf("subscribe failed: %w", err)
		}
	}
	f.live = true
	f.subMu.Unlock()

	f.setState(FeedSubscribed)
	slog.Info("Feed connected", slog.String("venue", string(f.Venue())), slog.Int("instruments", len(instruments)))
	return nil
}

// session reads until the connection drops and returns why it ended.
func (f *FeedConnection) session(ctx context.Context) string {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return ReasonReadError
	}

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.watchdog(wctx, conn)
	}()
	defer func() {
		cancel()
		<-done
	}()

	readTimeout := 2*f.cfg.HeartbeatInterval + 5*time.Second
	venue := f.Venue()
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			reason := f.drop(conn, ReasonReadError)
			if reason == ReasonReadError && ctx.Err() == nil {
				f.metrics.Error("feed", err)
				slog.Debug("Feed read error", slog.String("venue", string(venue)), slog.Any("error", err))
			}
			return reason
		}

		f.beat()
		f.metrics.FeedMessage(venue)
		if err := f.handler.OnMessage(ctx, msg); err != nil {
			f.metrics.Error("feed", err)
			slog.Warn("Feed message rejected",
				slog.String("venue", string(venue)),
				slog.String("class", string(Classify(err))),
				slog.Any("error", err))
		}
	}
}

// watchdog pings, enforces the heartbeat deadline and the venue session lifetime.
func (f *FeedConnection) watchdog(ctx context.Context, conn *websocket.Conn) {
	hb := f.cfg.HeartbeatInterval
	ticker := time.NewTicker(hb)
	defer ticker.Stop()

	var refresh <-chan time.Time
	if f.cfg.MaxSession > 0 {
		lead := f.cfg.MaxSession - sessionRefreshLead
		if lead <= 0 {
			lead = f.cfg.MaxSession / 2
		}
		t := time.NewTimer(lead)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh:
			slog.Info("Feed session refresh", slog.String("venue", string(f.Venue())))
			f.drop(conn, ReasonSessionLimit)
			return
		case <-ticker.C:
			if missed := f.missedBeats(time.Now()); missed >= 2 {
				f.setState(FeedDegraded)
				slog.Warn("HEARTBEAT_MISSED", slog.String("venue", string(f.Venue())), slog.Int("missed", missed))
				f.drop(conn, ReasonHeartbeatTimeout)
				return
			}
			if err := f.handler.OnPing(ctx, f); err != nil {
				slog.Warn("Feed ping failed", slog.String("venue", string(f.Venue())), slog.Any("error", err))
				f.drop(conn, ReasonPingFailed)
				return
			}
		}
	}
}

// missedBeats counts whole heartbeat intervals since the last sign of life.
func (f *FeedConnection) missedBeats(now time.Time) int {
	last := f.lastBeat.Load()
	if last == 0 {
		return 0
	}
	return int(now.Sub(time.Unix(0, last)) / f.cfg.HeartbeatInterval)
}

func (f *FeedConnection) beat() {
	f.lastBeat.Store(time.Now().UnixNano())
}

// drop closes conn if it is still current and records the first reason. It returns the recorded reason.
// A nil conn closes whatever is current.
func (f *FeedConnection) drop(conn *websocket.Conn, reason string) string {
	f.subMu.Lock()
	f.live = false
	f.subMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil || (conn != nil && f.conn != conn) {
		if f.reason == "" {
			return reason
		}
		return f.reason
	}
	if f.reason == "" {
		f.reason = reason
	}
	f.conn.Close()
	f.conn = nil
	return f.reason
}

func (f *FeedConnection) setState(s FeedState) {
	if FeedState(f.state.Swap(int32(s))) == s {
		return
	}
	f.metrics.SetFeedState(f.Venue(), s)
	if f.OnState != nil {
		f.OnState(f.Venue(), s)
	}
}

// WriteMessage sends one frame. Writes are serialized and bounded by the write timeout.
func (f *FeedConnection) WriteMessage(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	c := f.conn
	f.mu.Unlock()
	if c == nil {
		return fmt.Errorf("%s: ws not connected", f.Venue())
	}
	c.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	return c.WriteMessage(msgType, data)
}

// WriteJSON encodes v and sends it as a text frame.
func (f *FeedConnection) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.WriteMessage(websocket.TextMessage, b)
}

// Ping sends a protocol-level ping; the pong counts as a heartbeat.
func (f *FeedConnection) Ping() error {
	f.mu.Lock()
	c := f.conn
	f.mu.Unlock()
	if c == nil {
		return fmt.Errorf("%s: ws not connected", f.Venue())
	}
	return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.cfg.WriteTimeout))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
