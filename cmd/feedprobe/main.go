package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kalshi_go/internal/aggregator"
	"kalshi_go/internal/app"
	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
)

// feedprobe connects the spot venues only and prints the fused fair value once a second.
func main() {
	configPath := flag.String("config", infra.ResolveConfigPath(), "config file")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(infra.NewLogger(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inbox := make(chan event.Event, cfg.Feed.InboxSize)
	feeds, err := app.SpotFeeds(cfg, inbox, nil)
	if err != nil || len(feeds) == 0 {
		fmt.Fprintf(os.Stderr, "no spot feeds: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Kalshi Go Spot Feed Probe ===")
	for _, f := range feeds {
		f.OnState = func(v infra.Venue, s infra.FeedState) {
			fmt.Printf("🔌 %-8s %s\n", v, s)
		}
		f.Start(ctx)
		defer f.Stop()
	}

	agg := aggregator.New(app.AggregatorConfig(cfg))
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("👋 bye")
			return
		case ev := <-inbox:
			if q, ok := ev.(*event.QuoteEvent); ok {
				agg.Update(q.Source, q.Price, q.Ts)
				event.ReleaseQuoteEvent(q)
			}
		case now := <-tick.C:
			printEstimate(agg, now)
		}
	}
}

func printEstimate(agg *aggregator.Aggregator, now time.Time) {
	est := agg.Estimate(now)
	if !est.Valid() {
		fmt.Printf("%s ⏳ waiting for quotes\n", now.Format(time.TimeOnly))
		return
	}
	fmt.Printf("%s 📊 fair=%s conf=%.2f agree=%.2f cover=%.2f",
		now.Format(time.TimeOnly), est.Value.StringFixed(2), est.Confidence, est.Agreement, est.Coverage)
	for _, q := range agg.Quotes(now) {
		mark := ""
		if q.Stale {
			mark = "(stale)"
		}
		fmt.Printf(" | %s %s%s", q.Source, q.Price.StringFixed(2), mark)
	}
	fmt.Println()
}
