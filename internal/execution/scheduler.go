package execution

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/risk"
	"kalshi_go/internal/storage"
	"kalshi_go/pkg/quant"
)

// Config holds placement, queue and reprice limits.
type Config struct {
	MaxOrdersPerCycle   int
	Cooldown            time.Duration // Per (ticker, direction)
	MinPrice            quant.Cents
	MaxPrice            quant.Cents
	QueueDepthThreshold int
	QueueCheckInterval  time.Duration
	RepriceMax          int
	RepriceWindow       time.Duration
	RepriceCooldown     time.Duration
	EdgeDecayAlertBps   float64
	Bankroll            decimal.Decimal
	CallTimeout         time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxOrdersPerCycle:   3,
		Cooldown:            10 * time.Minute,
		MinPrice:            1,
		MaxPrice:            99,
		QueueDepthThreshold: 50,
		QueueCheckInterval:  15 * time.Second,
		RepriceMax:          3,
		RepriceWindow:       10 * time.Minute,
		RepriceCooldown:     30 * time.Second,
		EdgeDecayAlertBps:   150,
		Bankroll:            decimal.NewFromInt(500),
		CallTimeout:         10 * time.Second,
	}
}

// Cycle is one evaluation round handed over by the engine.
type Cycle struct {
	At      time.Time
	Signals []domain.Signal
	Books   BookReader
	Active  map[string]bool // Live markets; nil disables the no-signal filter
	Settled []string        // Instruments whose positions are closed out
}

type placementKey struct {
	ticker    string
	direction domain.Direction
}

// Scheduler turns actionable signals into maker orders and watches them until they finish.
// Run owns every field below the dependencies; other goroutines only call Submit, Drain and the read accessors.
type Scheduler struct {
	cfg       Config
	placer    OrderPlacer
	sizer     *risk.Sizer
	stats     *risk.FillStats
	breaker   *RepriceBreaker
	positions *PositionBook
	sink      storage.Appender

	// OnStats is called after fill statistics change.
	OnStats func(map[string]risk.ClassStats)
	// OnAlert is called for every edge-decay alert.
	OnAlert func(domain.EdgeAlert)
	// OnOrder is called after every order state change.
	OnOrder func(domain.Order)
	// OnReprice receives "suppressed", "dropped" or "replaced".
	OnReprice func(outcome string)

	cycles   chan Cycle
	draining atomic.Bool
	openN    atomic.Int64

	orders     map[string]*domain.Order
	lastPlaced map[placementKey]time.Time
	latest     map[string]domain.Signal
	lastBooks  BookReader
}

// NewScheduler wires the scheduler. sink may be storage.Discard{}.
func NewScheduler(cfg Config, placer OrderPlacer, sizer *risk.Sizer, stats *risk.FillStats, positions *PositionBook, sink storage.Appender) *Scheduler {
	if cfg.MaxOrdersPerCycle <= 0 {
		cfg.MaxOrdersPerCycle = 1
	}
	if cfg.QueueCheckInterval <= 0 {
		cfg.QueueCheckInterval = 15 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Scheduler{
		cfg:        cfg,
		placer:     placer,
		sizer:      sizer,
		stats:      stats,
		breaker:    NewRepriceBreaker(cfg.RepriceMax, cfg.RepriceWindow, cfg.RepriceCooldown),
		positions:  positions,
		sink:       sink,
		cycles:     make(chan Cycle, 1),
		orders:     make(map[string]*domain.Order),
		lastPlaced: make(map[placementKey]time.Time),
		latest:     make(map[string]domain.Signal),
	}
}

// Submit hands a cycle to the scheduler without blocking. A pending cycle is replaced by the newer one,
// which inherits its settlements.
func (s *Scheduler) Submit(c Cycle) bool {
	select {
	case s.cycles <- c:
		return true
	default:
	}
	select {
	case old := <-s.cycles:
		c.Settled = mergeSettled(old.Settled, c.Settled)
	default:
	}
	select {
	case s.cycles <- c:
		return true
	default:
		return false
	}
}

func mergeSettled(older, newer []string) []string {
	if len(older) == 0 {
		return newer
	}
	out := make([]string, 0, len(older)+len(newer))
	seen := make(map[string]bool, len(older)+len(newer))
	for _, list := range [][]string{older, newer} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Drain stops new placements and reprices. Working orders are left to resolve.
func (s *Scheduler) Drain() {
	if !s.draining.Swap(true) {
		slog.Info("🛑 Scheduler draining: no new orders")
	}
}

// OpenOrders returns the number of working orders.
func (s *Scheduler) OpenOrders() int {
	return int(s.openN.Load())
}

// Positions exposes the position book for read-only snapshots.
func (s *Scheduler) Positions() *PositionBook {
	return s.positions
}

// Run processes cycles and polls working orders until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.QueueCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped", slog.Int("open_orders", len(s.orders)))
			return nil
		case c := <-s.cycles:
			s.handleCycle(ctx, c)
		case now := <-ticker.C:
			s.poll(ctx, now)
		}
	}
}

func (s *Scheduler) handleCycle(ctx context.Context, c Cycle) {
	now := c.At
	if now.IsZero() {
		now = time.Now()
	}
	if c.Books != nil {
		s.lastBooks = c.Books
	}
	s.latest = make(map[string]domain.Signal, len(c.Signals))
	for _, sig := range c.Signals {
		s.latest[sig.Ticker] = sig
	}

	for _, t := range c.Settled {
		for _, p := range s.positions.CloseTicker(t, now) {
			slog.Info("Position closed on settlement",
				slog.String("ticker", p.Ticker),
				slog.String("side", string(p.Side)),
				slog.Int("size", p.Size))
		}
		s.breaker.Forget(t)
	}

	for _, a := range EdgeDecayAlerts(s.positions.Open(), s.latest, s.cfg.EdgeDecayAlertBps, c.Active) {
		slog.Warn("EDGE_ALERT", slog.String("kind", string(a.Kind)), slog.String("msg", a.Message()))
		s.sink.Append(storage.Record{Kind: storage.KindAlert, Key: a.Ticker, Ts: quant.FromTime(now), Payload: a})
		if s.OnAlert != nil {
			s.OnAlert(a)
		}
	}

	if s.draining.Load() || c.Books == nil {
		return
	}
	s.placeCandidates(ctx, c.Signals, c.Books, now)
}

func (s *Scheduler) placeCandidates(ctx context.Context, signals []domain.Signal, books BookReader, now time.Time) {
	candidates := make([]domain.Signal, 0, len(signals))
	for _, sig := range signals {
		if sig.Actionable && sig.Direction != domain.Flat {
			candidates = append(candidates, sig)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].AbsEdge() > candidates[j].AbsEdge() })

	attempted := 0
	for _, sig := range candidates {
		if attempted >= s.cfg.MaxOrdersPerCycle {
			break
		}
		if last, ok := s.lastPlaced[placementKey{sig.Ticker, sig.Direction}]; ok && now.Sub(last) < s.cfg.Cooldown {
			continue
		}
		if s.hasOpenOrder(sig.Ticker) {
			continue
		}
		if s.place(ctx, sig, books, now) {
			attempted++
		}
	}
}

// place sizes and submits one order. It reports whether a placement was attempted.
func (s *Scheduler) place(ctx context.Context, sig domain.Signal, books BookReader, now time.Time) bool {
	side, ok := sig.Direction.Side()
	if !ok {
		return false
	}
	book, ok := books.Snapshot(sig.Ticker)
	if !ok {
		return false
	}
	price, ok := MakerPrice(book, side, s.cfg.MinPrice, s.cfg.MaxPrice)
	if !ok {
		slog.Debug("No maker price", slog.String("ticker", sig.Ticker), slog.String("side", string(side)))
		return false
	}
	class := domain.SeriesOf(sig.Ticker)
	qty := s.sizer.Contracts(risk.Request{
		Side:            side,
		Price:           price,
		YesProb:         sig.ModelProb,
		Confidence:      sig.Confidence,
		FillProbability: s.stats.Probability(class),
		Bankroll:        s.cfg.Bankroll,
		Exposure:        s.exposure(),
	})
	if qty <= 0 {
		return false
	}

	order := &domain.Order{
		ClientID:  uuid.NewString(),
		Ticker:    sig.Ticker,
		Class:     class,
		Side:      side,
		Price:     price,
		Qty:       qty,
		Status:    domain.StatusPlaced,
		EntryEdge: sig.Edge,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.lastPlaced[placementKey{sig.Ticker, sig.Direction}] = now

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	res, err := s.placer.Place(callCtx, PlaceRequest{
		ClientID: order.ClientID,
		Ticker:   order.Ticker,
		Side:     side,
		Price:    price,
		Qty:      qty,
	})
	cancel()
	if err != nil {
		order.Reason = err.Error()
		if tErr := order.Transition(domain.StatusRejected, now); tErr != nil {
			slog.Error("Order transition failed", slog.Any("error", tErr))
		}
		slog.Warn("ORDER_REJECTED",
			slog.String("ticker", order.Ticker),
			slog.String("client_id", order.ClientID),
			slog.Bool("venue_rejection", errors.Is(err, ErrRejected)),
			slog.Any("error", err))
		s.record(storage.KindOrder, order, now)
		return true
	}

	order.ExternalID = res.ExternalID
	slog.Info("Order placed",
		slog.String("ticker", order.Ticker),
		slog.String("side", string(side)),
		slog.Int("price", int(price)),
		slog.Int("qty", qty),
		slog.Float64("edge", sig.Edge),
		slog.String("external_id", res.ExternalID))
	s.record(storage.KindOrder, order, now)
	s.orders[order.ClientID] = order
	s.openN.Store(int64(len(s.orders)))
	s.apply(order, res.Status, res.FilledQty, now)
	return true
}

// apply moves an order to the venue-reported status and books new fills.
func (s *Scheduler) apply(o *domain.Order, status domain.OrderStatus, filledQty int, now time.Time) {
	changed := false
	if filledQty > o.FilledQty {
		delta := filledQty - o.FilledQty
		if filledQty > o.Qty {
			delta = o.Qty - o.FilledQty
		}
		o.FilledQty += delta
		s.positions.ApplyFill(o.Ticker, o.Side, o.Price, delta, o.EntryEdge, now)
		changed = true
	}
	if status != "" && status != o.Status {
		if err := o.Transition(status, now); err != nil {
			slog.Warn("Ignoring status update", slog.Any("error", err))
		} else {
			changed = true
		}
	}
	if !changed {
		return
	}
	s.record(storage.KindOrderEvent, o, now)

	if o.Status.IsTerminal() {
		delete(s.orders, o.ClientID)
		s.openN.Store(int64(len(s.orders)))
		if o.Status != domain.StatusRejected {
			s.stats.Record(o.Class, o.FilledQty > 0)
			if s.OnStats != nil {
				s.OnStats(s.stats.Export())
			}
		}
	}
}

// poll refreshes working orders, then reprices those buried too deep in the queue.
func (s *Scheduler) poll(ctx context.Context, now time.Time) {
	if len(s.orders) == 0 {
		return
	}
	for _, o := range s.openOrders() {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		upd, err := s.placer.Status(callCtx, o.ExternalID)
		cancel()
		switch {
		case errors.Is(err, ErrOrderNotFound):
			s.apply(o, domain.StatusCanceled, o.FilledQty, now)
		case err != nil:
			slog.Warn("Order status poll failed", slog.String("external_id", o.ExternalID), slog.Any("error", err))
		default:
			s.apply(o, upd.Status, upd.FilledQty, now)
		}
	}
	if len(s.orders) == 0 {
		return
	}

	open := s.openOrders()
	tickers := make([]string, 0, len(open))
	seen := make(map[string]bool)
	for _, o := range open {
		if !seen[o.Ticker] {
			seen[o.Ticker] = true
			tickers = append(tickers, o.Ticker)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	queue, err := s.placer.QueuePositions(callCtx, tickers)
	cancel()
	if err != nil {
		slog.Warn("Queue position poll failed", slog.Any("error", err))
		return
	}

	for _, o := range open {
		pos, ok := queue[o.ExternalID]
		if !ok {
			pos, ok = queue[o.Ticker]
		}
		if !ok || pos <= s.cfg.QueueDepthThreshold {
			continue
		}
		if s.draining.Load() {
			continue
		}
		if !s.breaker.Allow(o.Ticker, now) {
			slog.Info("REPRICE_SUPPRESSED",
				slog.String("ticker", o.Ticker),
				slog.Int("queue", pos),
				slog.Int("recent_reprices", s.breaker.Count(o.Ticker, now)))
			s.repriced("suppressed")
			continue
		}
		s.reprice(ctx, o, pos, now)
	}
}

// reprice cancels a buried order and re-enters only if the current signal still supports the trade.
func (s *Scheduler) reprice(ctx context.Context, o *domain.Order, queuePos int, now time.Time) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	err := s.placer.Cancel(callCtx, o.ExternalID)
	cancel()
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		slog.Warn("Reprice cancel failed, order left resting", slog.String("external_id", o.ExternalID), slog.Any("error", err))
		return
	}
	o.Reason = "reprice"
	s.apply(o, domain.StatusCanceled, o.FilledQty, now)
	slog.Info("REPRICE", slog.String("ticker", o.Ticker), slog.Int("queue", queuePos), slog.Int("old_price", int(o.Price)))

	sig, ok := s.latest[o.Ticker]
	if !ok || !sig.Actionable || sig.Direction != domain.DirectionFor(o.Side) || s.lastBooks == nil {
		slog.Info("Reprice dropped: signal no longer supports entry", slog.String("ticker", o.Ticker))
		s.repriced("dropped")
		return
	}
	if s.place(ctx, sig, s.lastBooks, now) {
		s.repriced("replaced")
	}
}

func (s *Scheduler) repriced(outcome string) {
	if s.OnReprice != nil {
		s.OnReprice(outcome)
	}
}

func (s *Scheduler) hasOpenOrder(ticker string) bool {
	for _, o := range s.orders {
		if o.Ticker == ticker {
			return true
		}
	}
	return false
}

// openOrders returns working orders in creation order.
func (s *Scheduler) openOrders() []*domain.Order {
	out := make([]*domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// exposure is open position cost plus the notional of working orders.
func (s *Scheduler) exposure() decimal.Decimal {
	total := s.positions.Exposure()
	for _, o := range s.orders {
		total = total.Add(quant.CentsToDollars(o.NotionalCents()))
	}
	return total
}

func (s *Scheduler) record(kind storage.Kind, o *domain.Order, now time.Time) {
	cp := *o
	s.sink.Append(storage.Record{Kind: kind, Key: o.Ticker, Ts: quant.FromTime(now), Payload: cp})
	if s.OnOrder != nil {
		s.OnOrder(cp)
	}
}
