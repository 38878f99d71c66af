package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/event"
	"kalshi_go/internal/orderbook"
	"kalshi_go/internal/risk"
	"kalshi_go/internal/storage"
	"kalshi_go/pkg/quant"
)

type memSink struct {
	mu   sync.Mutex
	recs []storage.Record
}

func (m *memSink) Append(rec storage.Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return true
}

func (m *memSink) kinds(k storage.Kind) []storage.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Record
	for _, r := range m.recs {
		if r.Kind == k {
			out = append(out, r)
		}
	}
	return out
}

var cycleAt = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

// quotedBooks: every ticker quotes YES 40 bid / 45 ask.
func quotedBooks(t *testing.T, tickers ...string) *orderbook.Reconciler {
	t.Helper()
	r := orderbook.NewReconciler()
	for _, tk := range tickers {
		require.NoError(t, r.ApplySnapshot(&event.BookSnapshotEvent{
			Ticker: tk, Seq: 1,
			Yes: []event.Level{{Price: 40, Qty: 10}},
			No:  []event.Level{{Price: 55, Qty: 10}},
		}))
	}
	return r
}

func buyYes(ticker string, edge float64) domain.Signal {
	return domain.Signal{
		Ticker:     ticker,
		Direction:  domain.BuyYes,
		ModelProb:  0.45 + edge,
		Edge:       edge,
		Confidence: 1,
		Actionable: true,
	}
}

func newTestScheduler(cfg Config) (*Scheduler, *MockPlacer, *memSink) {
	mock := NewMockPlacer()
	sink := &memSink{}
	s := NewScheduler(cfg, mock, risk.NewSizer(risk.DefaultConfig()), risk.NewFillStats(0.5), NewPositionBook(), sink)
	return s, mock, sink
}

func TestScheduler_PlacesMakerOrder(t *testing.T) {
	s, mock, sink := newTestScheduler(DefaultConfig())
	ctx := context.Background()
	r := quotedBooks(t, "KXBTC-A")

	s.handleCycle(ctx, Cycle{At: cycleAt, Signals: []domain.Signal{buyYes("KXBTC-A", 0.25)}, Books: r})

	require.Len(t, mock.Placed, 1)
	req := mock.Placed[0]
	assert.Equal(t, "KXBTC-A", req.Ticker)
	assert.Equal(t, domain.SideYes, req.Side)
	assert.Equal(t, quant.Cents(41), req.Price)
	assert.Positive(t, req.Qty)
	assert.NotEmpty(t, req.ClientID)
	assert.Equal(t, 1, s.OpenOrders())
	assert.Len(t, sink.kinds(storage.KindOrder), 1)

	// Same ticker while an order works: nothing new.
	s.handleCycle(ctx, Cycle{At: cycleAt.Add(time.Hour), Signals: []domain.Signal{buyYes("KXBTC-A", 0.25)}, Books: r})
	assert.Len(t, mock.Placed, 1)
}

func TestScheduler_MaxOrdersPerCycleByEdge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOrdersPerCycle = 2
	s, mock, _ := newTestScheduler(cfg)
	r := quotedBooks(t, "KX-A", "KX-B", "KX-C", "KX-D")

	sigs := []domain.Signal{buyYes("KX-A", 0.10), buyYes("KX-B", 0.30), buyYes("KX-C", 0.20), buyYes("KX-D", 0.05)}
	flat := domain.Signal{Ticker: "KX-E", Direction: domain.Flat, Edge: 0.5, Actionable: false}
	s.handleCycle(context.Background(), Cycle{At: cycleAt, Signals: append(sigs, flat), Books: r})

	require.Len(t, mock.Placed, 2)
	assert.Equal(t, "KX-B", mock.Placed[0].Ticker)
	assert.Equal(t, "KX-C", mock.Placed[1].Ticker)
}

func TestScheduler_RejectionAndCooldown(t *testing.T) {
	s, mock, sink := newTestScheduler(DefaultConfig())
	mock.Reject = "insufficient_balance"
	r := quotedBooks(t, "KX-A")
	ctx := context.Background()

	s.handleCycle(ctx, Cycle{At: cycleAt, Signals: []domain.Signal{buyYes("KX-A", 0.2)}, Books: r})
	require.Len(t, mock.Placed, 1)
	assert.Equal(t, 0, s.OpenOrders())

	recs := sink.kinds(storage.KindOrder)
	require.Len(t, recs, 1)
	o := recs[0].Payload.(domain.Order)
	assert.Equal(t, domain.StatusRejected, o.Status)
	assert.Contains(t, o.Reason, "insufficient_balance")

	// No automatic retry inside the cooldown.
	mock.Reject = ""
	s.handleCycle(ctx, Cycle{At: cycleAt.Add(time.Minute), Signals: []domain.Signal{buyYes("KX-A", 0.2)}, Books: r})
	assert.Len(t, mock.Placed, 1)

	s.handleCycle(ctx, Cycle{At: cycleAt.Add(11 * time.Minute), Signals: []domain.Signal{buyYes("KX-A", 0.2)}, Books: r})
	assert.Len(t, mock.Placed, 2)
}

func TestScheduler_FillUpdatesPositionsAndStats(t *testing.T) {
	s, mock, _ := newTestScheduler(DefaultConfig())
	var statsSeen map[string]risk.ClassStats
	s.OnStats = func(m map[string]risk.ClassStats) { statsSeen = m }
	ctx := context.Background()

	s.handleCycle(ctx, Cycle{At: cycleAt, Signals: []domain.Signal{buyYes("KXBTC-A", 0.25)}, Books: quotedBooks(t, "KXBTC-A")})
	require.Len(t, mock.Placed, 1)
	qty := mock.Placed[0].Qty

	mock.SetUpdate(OrderUpdate{ExternalID: "mock-1", Status: domain.StatusFilled, FilledQty: qty})
	s.poll(ctx, cycleAt.Add(time.Minute))

	assert.Equal(t, 0, s.OpenOrders())
	open := s.Positions().Open()
	require.Len(t, open, 1)
	assert.Equal(t, qty, open[0].Size)
	assert.InDelta(t, 41.0, open[0].EntryPrice(), 1e-9)
	assert.Equal(t, risk.ClassStats{Filled: 1, Terminal: 1}, statsSeen["KXBTC"])
}

func TestScheduler_RepriceGuardedByBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RepriceMax = 1
	s, mock, _ := newTestScheduler(cfg)
	ctx := context.Background()
	r := quotedBooks(t, "KX-A")

	s.handleCycle(ctx, Cycle{At: cycleAt, Signals: []domain.Signal{buyYes("KX-A", 0.25)}, Books: r})
	mock.SetQueue("KX-A", 500)

	s.poll(ctx, cycleAt.Add(time.Minute))
	assert.Equal(t, []string{"mock-1"}, mock.Canceled)
	require.Len(t, mock.Placed, 2, "re-entered because the signal still holds")
	assert.Equal(t, 1, s.OpenOrders())

	// Breaker exhausted: the new order stays resting.
	s.poll(ctx, cycleAt.Add(2*time.Minute))
	assert.Len(t, mock.Canceled, 1)
	assert.Len(t, mock.Placed, 2)

	// Window elapsed: reprice allowed again.
	s.poll(ctx, cycleAt.Add(12*time.Minute))
	assert.Len(t, mock.Canceled, 2)
}

func TestScheduler_RepriceDroppedWhenSignalGone(t *testing.T) {
	s, mock, _ := newTestScheduler(DefaultConfig())
	ctx := context.Background()
	r := quotedBooks(t, "KX-A")

	s.handleCycle(ctx, Cycle{At: cycleAt, Signals: []domain.Signal{buyYes("KX-A", 0.25)}, Books: r})
	s.handleCycle(ctx, Cycle{At: cycleAt.Add(time.Second), Books: r}) // no signals now
	mock.SetQueue("mock-1", 500)

	s.poll(ctx, cycleAt.Add(time.Minute))
	assert.Len(t, mock.Canceled, 1)
	assert.Len(t, mock.Placed, 1)
	assert.Equal(t, 0, s.OpenOrders())
}

func TestScheduler_AlertsAndSettlement(t *testing.T) {
	s, _, sink := newTestScheduler(DefaultConfig())
	var alerts []domain.EdgeAlert
	s.OnAlert = func(a domain.EdgeAlert) { alerts = append(alerts, a) }
	s.Positions().ApplyFill("KX-A", domain.SideYes, 40, 5, 0.1, cycleAt)

	flipped := domain.Signal{Ticker: "KX-A", Direction: domain.BuyNo, Edge: -0.1}
	s.handleCycle(context.Background(), Cycle{At: cycleAt, Signals: []domain.Signal{flipped}})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertFlipped, alerts[0].Kind)
	assert.Len(t, sink.kinds(storage.KindAlert), 1)

	s.handleCycle(context.Background(), Cycle{At: cycleAt.Add(time.Second), Settled: []string{"KX-A"}})
	assert.Empty(t, s.Positions().Open())
}

func TestScheduler_DrainStopsPlacement(t *testing.T) {
	s, mock, _ := newTestScheduler(DefaultConfig())
	s.Drain()
	s.handleCycle(context.Background(), Cycle{At: cycleAt, Signals: []domain.Signal{buyYes("KX-A", 0.25)}, Books: quotedBooks(t, "KX-A")})
	assert.Empty(t, mock.Placed)
}

func TestScheduler_TransportErrorMarksRejected(t *testing.T) {
	s, mock, _ := newTestScheduler(DefaultConfig())
	mock.PlaceErr = errors.New("dial tcp: i/o timeout")
	var last domain.Order
	s.OnOrder = func(o domain.Order) { last = o }

	s.handleCycle(context.Background(), Cycle{At: cycleAt, Signals: []domain.Signal{buyYes("KX-A", 0.25)}, Books: quotedBooks(t, "KX-A")})
	assert.Equal(t, domain.StatusRejected, last.Status)
	assert.Equal(t, 0, s.OpenOrders())
}

func TestScheduler_SubmitKeepsLatest(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())
	assert.True(t, s.Submit(Cycle{At: cycleAt}))
	assert.True(t, s.Submit(Cycle{At: cycleAt.Add(time.Second)}))
	c := <-s.cycles
	assert.Equal(t, cycleAt.Add(time.Second), c.At)
}

func TestScheduler_SubmitCarriesSettlements(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())
	s.Positions().ApplyFill("KX-A", domain.SideYes, 40, 5, 0.1, cycleAt)

	assert.True(t, s.Submit(Cycle{At: cycleAt, Settled: []string{"KX-A"}}))
	assert.True(t, s.Submit(Cycle{At: cycleAt.Add(time.Second), Settled: []string{"KX-B", "KX-A"}}))

	c := <-s.cycles
	assert.Equal(t, []string{"KX-A", "KX-B"}, c.Settled)
	s.handleCycle(context.Background(), c)
	assert.Empty(t, s.Positions().Open())
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
