package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"kalshi_go/internal/aggregator"
	"kalshi_go/internal/arbitrage"
	"kalshi_go/internal/domain"
	"kalshi_go/internal/event"
	"kalshi_go/internal/execution"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/orderbook"
	"kalshi_go/internal/signal"
	"kalshi_go/internal/storage"
	"kalshi_go/pkg/quant"
)

// resyncRetry bounds how often one instrument is resubscribed while its snapshot is outstanding.
const resyncRetry = 10 * time.Second

// Subscriber is the Kalshi feed as seen by the engine.
type Subscriber interface {
	Subscribe(instruments ...string) error
	Unsubscribe(instruments ...string) error
	Resubscribe(instrument string) error
}

// Submitter receives evaluation cycles.
type Submitter interface {
	Submit(c execution.Cycle) bool
}

// Config describes the tracked markets and evaluation cadence.
type Config struct {
	EvalInterval   time.Duration
	BinaryMarkets  []string
	TrackSeries    []string // Series whose new markets are tracked as binary up/down contracts
	Events         map[string][]domain.MarketInfo
	HistorySpan    time.Duration
	HistoryRes     time.Duration
	MinArbProfitCt int
}

// Engine is the single writer of books and spot quotes. Feeds push events into its inbox; every
// EvalInterval it runs signals and arbitrage and hands the cycle to the scheduler.
type Engine struct {
	cfg     Config
	inbox   chan event.Event
	done    chan struct{}
	nextSeq uint64

	books      *orderbook.Reconciler
	divergence *orderbook.DivergenceMonitor
	agg        *aggregator.Aggregator
	history    *aggregator.History
	signals    *signal.Engine
	scanner    *arbitrage.Scanner

	kalshi    Subscriber
	scheduler Submitter
	sink      storage.Appender
	snapshots *storage.SnapshotManager
	metrics   *infra.Metrics

	markets  map[string]domain.MarketInfo
	binary   map[string]bool
	events   map[string][]string // event ticker -> bracket tickers
	draws    map[string][]float64
	settled  []string
	resyncAt map[string]time.Time

	now func() time.Time
}

// New wires an engine. kalshi, scheduler and snapshots may be nil.
func New(cfg Config, inboxSize int, agg *aggregator.Aggregator, sig *signal.Engine, kalshi Subscriber, scheduler Submitter, sink storage.Appender, snapshots *storage.SnapshotManager, metrics *infra.Metrics) *Engine {
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = 2 * time.Second
	}
	if cfg.HistorySpan <= 0 {
		cfg.HistorySpan = 30 * time.Minute
	}
	if sink == nil {
		sink = storage.Discard{}
	}
	books := orderbook.NewReconciler()
	e := &Engine{
		cfg:        cfg,
		inbox:      make(chan event.Event, inboxSize),
		done:       make(chan struct{}),
		books:      books,
		divergence: orderbook.NewDivergenceMonitor(),
		agg:        agg,
		history:    aggregator.NewHistory(cfg.HistorySpan, cfg.HistoryRes),
		signals:    sig,
		scanner:    arbitrage.NewScanner(books, cfg.MinArbProfitCt),
		kalshi:     kalshi,
		scheduler:  scheduler,
		sink:       sink,
		snapshots:  snapshots,
		metrics:    metrics,
		markets:    make(map[string]domain.MarketInfo),
		binary:     make(map[string]bool),
		events:     make(map[string][]string),
		draws:      make(map[string][]float64),
		resyncAt:   make(map[string]time.Time),
		now:        time.Now,
	}
	for _, t := range cfg.BinaryMarkets {
		e.track(domain.MarketInfo{Ticker: t, EventTicker: domain.SeriesOf(t), Status: domain.MarketActive}, true)
	}
	for ev, brackets := range cfg.Events {
		for _, b := range brackets {
			b.EventTicker = ev
			b.Status = domain.MarketActive
			e.track(b, false)
		}
	}
	return e
}

// Inbox returns the event channel. Feeds send events here.
func (e *Engine) Inbox() chan<- event.Event { return e.inbox }

// Books exposes the reconciled books for concurrent readers.
func (e *Engine) Books() *orderbook.Reconciler { return e.books }

// Tickers lists every instrument the engine wants a book for. Call before Run.
func (e *Engine) Tickers() []string {
	out := make([]string, 0, len(e.markets))
	for t := range e.markets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SetSubscriber attaches the Kalshi feed after construction.
func (e *Engine) SetSubscriber(s Subscriber) { e.kalshi = s }

// SetScheduler attaches the scheduler, which is built on top of Books.
func (e *Engine) SetScheduler(s Submitter) { e.scheduler = s }

// OnFeedState forwards a feed state change into the inbox. It blocks until the engine accepts it
// so a disconnect is never ordered after the next session's snapshots.
func (e *Engine) OnFeedState(v infra.Venue, s infra.FeedState) {
	ev := &event.FeedStateEvent{Venue: string(v), State: s.String(), Live: s.Live()}
	ev.Ts = quant.Now()
	select {
	case e.inbox <- ev:
	case <-e.done:
	}
}

// Run starts the main event loop. It must run on a single goroutine.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("Engine started (single writer)", slog.Int("markets", len(e.markets)))
	defer close(e.done)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			e.DumpState("panic")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	ticker := time.NewTicker(e.cfg.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine stopping...", slog.Uint64("events", e.nextSeq))
			e.DumpState("shutdown")
			return
		case ev := <-e.inbox:
			e.processEvent(ev)
		case <-ticker.C:
			e.Evaluate()
		}
	}
}

func (e *Engine) processEvent(ev event.Event) {
	e.nextSeq++

	switch x := ev.(type) {
	case *event.BookSnapshotEvent:
		e.onSnapshot(x)
	case *event.BookDeltaEvent:
		e.onDelta(x)
	case *event.QuoteEvent:
		e.agg.Update(x.Source, x.Price, x.Ts)
		event.ReleaseQuoteEvent(x)
	case *event.TickerEvent:
		e.onTicker(x)
	case *event.LifecycleEvent:
		e.onLifecycle(x)
	case *event.EnsembleEvent:
		e.draws[x.EventTicker] = x.Draws
	case *event.FeedStateEvent:
		e.onFeedState(x)
	default:
		slog.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
}

func (e *Engine) onSnapshot(ev *event.BookSnapshotEvent) {
	if _, ok := e.markets[ev.Ticker]; !ok {
		return
	}
	delete(e.resyncAt, ev.Ticker)
	if err := e.books.ApplySnapshot(ev); err != nil {
		e.resync(ev.Ticker, "invariant", err)
		return
	}
	e.metrics.SetBooks(len(e.books.Tickers()))
}

func (e *Engine) onDelta(ev *event.BookDeltaEvent) {
	if _, ok := e.markets[ev.Ticker]; !ok {
		return
	}
	err := e.books.ApplyDelta(ev)
	if err == nil {
		return
	}
	if _, waiting := e.resyncAt[ev.Ticker]; waiting && e.now().Sub(e.resyncAt[ev.Ticker]) < resyncRetry {
		// deltas racing the requested snapshot
		return
	}
	reason := "sequence_gap"
	switch {
	case errors.Is(err, orderbook.ErrInvariant):
		reason = "invariant"
	case errors.Is(err, orderbook.ErrUnknownInstrument):
		reason = "no_snapshot"
	}
	e.resync(ev.Ticker, reason, err)
}

func (e *Engine) onTicker(ev *event.TickerEvent) {
	book, ok := e.books.Snapshot(ev.Ticker)
	if !ok {
		return
	}
	if e.divergence.Observe(book, ev.YesBid) {
		e.resync(ev.Ticker, "divergence", fmt.Errorf("%w: %s book bid disagrees with ticker bid %d", orderbook.ErrInvariant, ev.Ticker, ev.YesBid))
	}
}

// resync discards the local book and asks the feed for a fresh snapshot. No partial repair.
func (e *Engine) resync(ticker, reason string, cause error) {
	e.books.Remove(ticker)
	e.divergence.Forget(ticker)
	e.resyncAt[ticker] = e.now()
	e.metrics.BookResync(reason)
	e.metrics.Error("orderbook", cause)

	slog.Warn("SEQUENCE_GAP_RESYNC",
		slog.String("ticker", ticker),
		slog.String("reason", reason),
		slog.String("class", string(infra.Classify(cause))),
		slog.Any("error", cause))

	if e.kalshi == nil {
		return
	}
	if err := e.kalshi.Resubscribe(ticker); err != nil {
		// offline: the reconnect re-issues every subscription
		slog.Debug("Resubscribe deferred", slog.String("ticker", ticker), slog.Any("error", err))
	}
}

func (e *Engine) onLifecycle(ev *event.LifecycleEvent) {
	info, tracked := e.markets[ev.Ticker]

	switch ev.Kind {
	case event.LifecycleActivated:
		if tracked {
			info.Status = domain.MarketActive
			e.markets[ev.Ticker] = info
			return
		}
		if !e.follows(ev.Ticker) {
			return
		}
		e.track(domain.MarketInfo{Ticker: ev.Ticker, EventTicker: ev.EventTicker, Status: domain.MarketActive}, true)
		slog.Info("Tracking new market", slog.String("ticker", ev.Ticker), slog.String("event", ev.EventTicker))
		if e.kalshi != nil {
			if err := e.kalshi.Subscribe(ev.Ticker); err != nil {
				slog.Debug("Subscribe deferred", slog.String("ticker", ev.Ticker), slog.Any("error", err))
			}
		}

	case event.LifecycleDeactivated, event.LifecycleSettled:
		if !tracked {
			return
		}
		e.untrack(ev.Ticker)
		if ev.Kind == event.LifecycleSettled {
			e.settled = append(e.settled, ev.Ticker)
		}
		slog.Info("Market delisted", slog.String("ticker", ev.Ticker), slog.String("kind", string(ev.Kind)))
		if e.kalshi != nil {
			if err := e.kalshi.Unsubscribe(ev.Ticker); err != nil {
				slog.Debug("Unsubscribe deferred", slog.String("ticker", ev.Ticker), slog.Any("error", err))
			}
		}
	}
}

func (e *Engine) onFeedState(ev *event.FeedStateEvent) {
	slog.Debug("Feed state", slog.String("venue", ev.Venue), slog.String("state", ev.State))
	if ev.Venue != string(infra.VenueKalshi) || ev.Live {
		return
	}
	// 세션이 끊기면 시퀀스 연속성이 깨지므로 모든 북을 버린다
	if n := e.books.Clear(); n > 0 {
		slog.Warn("Kalshi feed down, books cleared", slog.Int("books", n), slog.String("state", ev.State))
		e.metrics.BookResync("disconnect")
	}
	for t := range e.markets {
		e.divergence.Forget(t)
	}
	e.resyncAt = make(map[string]time.Time)
	e.metrics.SetBooks(0)
}

// follows reports whether ticker belongs to an auto-tracked series.
func (e *Engine) follows(ticker string) bool {
	series := domain.SeriesOf(ticker)
	for _, s := range e.cfg.TrackSeries {
		if s == series {
			return true
		}
	}
	return false
}

func (e *Engine) track(info domain.MarketInfo, binary bool) {
	e.markets[info.Ticker] = info
	if binary {
		e.binary[info.Ticker] = true
		return
	}
	for _, t := range e.events[info.EventTicker] {
		if t == info.Ticker {
			return
		}
	}
	e.events[info.EventTicker] = append(e.events[info.EventTicker], info.Ticker)
}

// Track adds a market before Run starts (REST discovery at boot).
func (e *Engine) Track(info domain.MarketInfo, binary bool) {
	if info.Status == "" {
		info.Status = domain.MarketActive
	}
	e.track(info, binary)
}

func (e *Engine) untrack(ticker string) {
	info := e.markets[ticker]
	delete(e.markets, ticker)
	delete(e.binary, ticker)
	delete(e.resyncAt, ticker)
	e.books.Remove(ticker)
	e.divergence.Forget(ticker)

	if list, ok := e.events[info.EventTicker]; ok {
		kept := list[:0]
		for _, t := range list {
			if t != ticker {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(e.events, info.EventTicker)
			delete(e.draws, info.EventTicker)
		} else {
			e.events[info.EventTicker] = kept
		}
	}
}

// Evaluate runs one decision cycle: fair value, signals, arbitrage, then hands off to the scheduler.
func (e *Engine) Evaluate() execution.Cycle {
	start := time.Now()
	now := e.now()

	est := e.agg.Estimate(now)
	e.history.Record(est)
	if est.Valid() {
		e.metrics.SetFairValue(est.Value.InexactFloat64(), est.Confidence)
	}

	var sigs []domain.Signal
	if len(e.binary) > 0 {
		sigs = append(sigs, e.signals.EvaluateBinary(sortedKeys(e.binary), est, e.history, e.books, now)...)
	}
	for _, ev := range sortedKeys(e.events) {
		draws := e.draws[ev]
		if len(draws) == 0 {
			continue
		}
		sigs = append(sigs, e.signals.EvaluatePartition(ev, draws, e.brackets(ev), e.books, now)...)
	}

	ts := quant.FromTime(now)
	for _, s := range sigs {
		e.metrics.Signal(string(s.Mode), s.Actionable)
		if s.Actionable {
			e.sink.Append(storage.Record{Kind: storage.KindSignal, Key: s.Ticker, Ts: ts, Payload: s})
		}
	}

	for _, ev := range sortedKeys(e.events) {
		opp, ok := e.scanner.Scan(ev, e.events[ev], now)
		if !ok {
			continue
		}
		e.metrics.Arbitrage(string(opp.Type))
		e.sink.Append(storage.Record{Kind: storage.KindArbitrage, Key: ev, Ts: ts, Payload: opp})
	}

	active := make(map[string]bool, len(e.markets))
	for t, m := range e.markets {
		if m.Status == domain.MarketActive {
			active[t] = true
		}
	}

	cycle := execution.Cycle{At: now, Signals: sigs, Books: e.books, Active: active, Settled: e.settled}
	if e.scheduler == nil || e.scheduler.Submit(cycle) {
		e.settled = nil
	} else {
		// settlements ride along with the next cycle
		slog.Warn("Scheduler busy, cycle skipped", slog.Int("pending_settlements", len(e.settled)))
	}
	e.metrics.ObserveEval(time.Since(start).Seconds())
	return cycle
}

func (e *Engine) brackets(eventTicker string) []domain.MarketInfo {
	tickers := e.events[eventTicker]
	out := make([]domain.MarketInfo, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, e.markets[t])
	}
	return out
}

// FairValue returns the current fused estimate. Safe from any goroutine.
func (e *Engine) FairValue() aggregator.Estimate {
	return e.agg.Estimate(e.now())
}

// Quotes returns every spot quote with staleness. Safe from any goroutine.
func (e *Engine) Quotes() []aggregator.PriceQuote {
	return e.agg.Quotes(e.now())
}

// DumpState writes every reconciled book for post-mortem.
func (e *Engine) DumpState(reason string) {
	if e.snapshots == nil {
		return
	}
	var books []orderbook.Book
	for _, t := range e.books.Tickers() {
		if b, ok := e.books.Snapshot(t); ok {
			books = append(books, b)
		}
	}
	path, err := e.snapshots.Save(storage.CreateBookDump(e.nextSeq, reason, books))
	if err != nil {
		slog.Error("Failed to dump state", slog.Any("error", err))
		return
	}
	slog.Info("Dumping internal state...", slog.String("file", path), slog.String("reason", reason), slog.Int("books", len(books)))
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
