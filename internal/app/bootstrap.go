package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"kalshi_go/internal/aggregator"
	"kalshi_go/internal/api"
	"kalshi_go/internal/domain"
	"kalshi_go/internal/engine"
	"kalshi_go/internal/event"
	"kalshi_go/internal/execution"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/infra/kalshi"
	"kalshi_go/internal/risk"
	"kalshi_go/internal/signal"
	"kalshi_go/internal/storage"
)

// fillStatsKey is the metadata row holding per-class fill statistics.
const fillStatsKey = "risk:fill_stats"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Paths   infra.Paths
	Metrics *infra.Metrics

	Store     *storage.SQLiteStore
	Sink      *storage.AsyncSink
	NATS      *storage.NATSPublisher
	Snapshots *storage.SnapshotManager

	Signer    *kalshi.Signer
	Engine    *engine.Engine
	Scheduler *execution.Scheduler
	Feeds     []*infra.FeedConnection
	API       *api.Server

	stats    *risk.FillStats
	ensemble *nats.Subscription
	unlock   func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, data dir, storage).
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Kalshi Go...")

	// 0. Runtime Warmup (GC Optimization)
	event.Warmup()
	slog.Info("🔥 Event Pool Warmed up")

	// 1. Load Config (Dynamic Path Resolution)
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg.Logging))
	infra.PrintBanner(os.Stdout, cfg)

	// 3. 모드별 데이터 격리: <workspace>/data/{mode}/
	mode := strings.ToLower(cfg.Trading.Mode)
	b.Paths = infra.ResolvePaths(infra.GetWorkspaceDir(), cfg.Storage, mode)
	if err := b.Paths.Ensure(); err != nil {
		return err
	}

	// 3.1 Singleton Instance Lock
	unlock, err := infra.CreateLockFile(b.Paths.Data)
	if err != nil {
		return err
	}
	b.unlock = unlock

	// 4. Persistence
	store, err := storage.NewSQLiteStore(b.Paths.DB)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Record store initialized (WAL-mode)", "path", b.Paths.DB, "mode", mode)

	backends := []storage.Backend{store}
	if cfg.Storage.NATSURL != "" {
		pub, err := storage.NewNATSPublisher(cfg.Storage.NATSURL, cfg.Storage.NATSPrefix)
		if err != nil {
			// NATS is a fan-out; the SQLite record stays authoritative.
			slog.Warn("⚠️ NATS unavailable, records stay local", slog.Any("error", err))
		} else {
			b.NATS = pub
			backends = append(backends, pub)
			slog.Info("✅ NATS publisher connected", slog.String("prefix", cfg.Storage.NATSPrefix))
		}
	}

	b.Metrics = infra.NewMetrics()
	b.Sink = storage.NewAsyncSink(cfg.Storage.QueueSize, backends...)
	b.Sink.OnDrop = func(kind storage.Kind) {
		b.Metrics.SetSinkDropped(b.Sink.Dropped())
	}
	b.Snapshots = storage.NewSnapshotManager(b.Paths.Snapshots)

	// 5. Kalshi credentials
	if cfg.Kalshi.KeyID != "" && cfg.Kalshi.PrivateKeyPath != "" {
		signer, err := kalshi.LoadSigner(cfg.Kalshi.KeyID, cfg.Kalshi.PrivateKeyPath)
		if err != nil {
			return err
		}
		b.Signer = signer
		slog.Info("🔒 Kalshi signing key loaded", slog.String("key_id", signer.KeyID()))
	}

	// 6. Fill statistics survive restarts
	b.stats = risk.NewFillStats(cfg.Trading.DefaultFillProbability)
	var saved map[string]risk.ClassStats
	if ok, err := store.GetJSON(context.Background(), fillStatsKey, &saved); err != nil {
		slog.Warn("⚠️ Failed to restore fill statistics", slog.Any("error", err))
	} else if ok {
		b.stats.Restore(saved)
		slog.Info("✅ Fill statistics restored", slog.Int("classes", len(saved)))
	}

	return b.wire()
}

// wire builds the engine, the scheduler and every feed.
func (b *Bootstrap) wire() error {
	cfg := b.Config

	agg := aggregator.New(AggregatorConfig(cfg))
	b.Engine = engine.New(EngineConfig(cfg), cfg.Feed.InboxSize, agg, signal.NewEngine(SignalConfig(cfg)),
		nil, nil, b.Sink, b.Snapshots, b.Metrics)

	placer, err := execution.NewFactory(cfg, b.Engine.Books(), b.Signer).Create()
	if err != nil {
		return err
	}
	b.Scheduler = execution.NewScheduler(SchedulerConfig(cfg), placer, risk.NewSizer(RiskConfig(cfg)),
		b.stats, execution.NewPositionBook(), b.Sink)
	b.hookScheduler()
	b.Engine.SetScheduler(b.Scheduler)

	feeds, err := b.buildFeeds()
	if err != nil {
		return err
	}
	b.Feeds = feeds

	b.API = api.NewServer(cfg.API.Addr, api.Deps{
		Books:      b.Engine.Books(),
		Prices:     b.Engine,
		Feeds:      b.feedStatuses,
		OpenOrders: b.Scheduler.OpenOrders,
		Metrics:    b.Metrics.Handler(),
	})
	return nil
}

func (b *Bootstrap) hookScheduler() {
	b.Scheduler.OnOrder = func(o domain.Order) {
		b.Metrics.OrderEvent(string(o.Status))
		b.Metrics.SetOpenOrders(b.Scheduler.OpenOrders())
	}
	b.Scheduler.OnAlert = func(a domain.EdgeAlert) {
		b.Metrics.EdgeAlert(string(a.Kind))
	}
	b.Scheduler.OnReprice = b.Metrics.Reprice
	b.Scheduler.OnStats = func(m map[string]risk.ClassStats) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.Store.PutJSON(ctx, fillStatsKey, m); err != nil {
			slog.Warn("⚠️ Failed to persist fill statistics", slog.Any("error", err))
		}
	}
}

// Discover resolves the markets of every tracked series over REST and checks the account.
func (b *Bootstrap) Discover(ctx context.Context) error {
	cfg := b.Config
	if len(cfg.Kalshi.TrackSeries) == 0 && cfg.Trading.Mode == infra.ModePaper {
		return nil
	}

	_, rest := cfg.KalshiEndpoints()
	client, err := kalshi.NewClient(rest, b.Signer, cfg.Execution.CallTimeout())
	if err != nil {
		return err
	}

	n, err := DiscoverSeries(ctx, client, cfg.Kalshi.TrackSeries, b.Engine)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("✅ Series markets discovered", slog.Int("markets", n))
	}

	if b.Signer != nil && cfg.Trading.Mode != infra.ModePaper {
		cents, err := client.Balance(ctx)
		if err != nil {
			return fmt.Errorf("kalshi balance: %w", err)
		}
		slog.Info("💰 Kalshi balance", slog.String("dollars", fmt.Sprintf("%.2f", float64(cents)/100)))
	}
	return nil
}

// Run starts every component and blocks until ctx is done, then shuts down in order.
func (b *Bootstrap) Run(ctx context.Context) error {
	b.Sink.Start(ctx)

	// Engine.Tickers must be read before the engine loop owns the market set.
	tickers := b.Engine.Tickers()
	for _, f := range b.Feeds {
		if f.Venue() == infra.VenueKalshi {
			_ = f.Subscribe(tickers...)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		b.Engine.Run(runCtx)
	}()
	slog.InfoContext(ctx, "✅ Engine (Hotpath) started")

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := b.Scheduler.Run(runCtx); err != nil {
			slog.Error("Scheduler failed", slog.Any("error", err))
		}
	}()

	for _, f := range b.Feeds {
		f.Start(runCtx)
		slog.InfoContext(ctx, "✅ Feed started", slog.String("venue", string(f.Venue())))
	}

	if b.NATS != nil {
		sub, err := b.NATS.SubscribeEnsembles(b.pushEnsemble(runCtx))
		if err != nil {
			slog.Warn("⚠️ Ensemble subscription failed", slog.Any("error", err))
		} else {
			b.ensemble = sub
		}
	}

	b.API.Start()
	slog.InfoContext(ctx, "✨ Kalshi engine fully operational. Press Ctrl+C to exit.",
		slog.String("mode", b.Config.Trading.Mode), slog.Int("markets", len(tickers)))

	<-ctx.Done()
	slog.Info("🛑 Shutdown requested")

	// 1. 신규 주문 중단
	b.Scheduler.Drain()

	// 2. 피드와 외부 입력 정리
	if b.ensemble != nil {
		_ = b.ensemble.Unsubscribe()
	}
	for _, f := range b.Feeds {
		f.Stop()
	}

	// 3. 엔진과 스케줄러 종료 (엔진은 종료 시 book dump)
	cancel()
	<-engineDone
	<-schedDone

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := b.API.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Ops API shutdown", slog.Any("error", err))
	}
	return nil
}

// Close flushes persistence and releases the instance lock.
func (b *Bootstrap) Close() {
	if b.Sink != nil {
		if err := b.Sink.Close(); err != nil {
			slog.Warn("Sink close", slog.Any("error", err))
		}
		if b.Metrics != nil {
			b.Metrics.SetSinkDropped(b.Sink.Dropped())
		}
	} else if b.Store != nil {
		_ = b.Store.Close()
	}
	if b.Snapshots != nil && b.Config != nil {
		if err := b.Snapshots.Cleanup(b.Config.Storage.KeepSnapshots); err != nil {
			slog.Warn("Snapshot cleanup", slog.Any("error", err))
		}
	}
	b.Signer.Wipe()
	if b.unlock != nil {
		b.unlock()
	}
}

func (b *Bootstrap) pushEnsemble(ctx context.Context) func(*event.EnsembleEvent) {
	inbox := b.Engine.Inbox()
	return func(ev *event.EnsembleEvent) {
		select {
		case inbox <- ev:
		case <-ctx.Done():
		}
	}
}
