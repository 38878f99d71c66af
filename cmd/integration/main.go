package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/execution"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/infra/kalshi"
)

// integration places one post-only order far from the market on Kalshi DEMO, reads it back
// and cancels it.
func main() {
	ticker := flag.String("ticker", "", "open market ticker on the demo exchange")
	secrets := flag.String("secrets", "secrets/demo.yaml", "demo key file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	slog.Info("🚀 Starting Kalshi DEMO Integration Test...")

	if *ticker == "" {
		slog.Error("❌ -ticker is required")
		os.Exit(2)
	}

	// 1. Secrets first; the main config is bypassed to force DEMO
	sec, err := infra.LoadSecretConfig(*secrets)
	if err != nil {
		slog.Error("❌ Failed to load secrets", "error", err)
		os.Exit(1)
	}
	cfg := infra.DefaultConfig()
	cfg.Trading.Mode = infra.ModeDemo
	sec.Apply(cfg)

	signer, err := kalshi.LoadSigner(cfg.Kalshi.KeyID, cfg.Kalshi.PrivateKeyPath)
	if err != nil {
		slog.Error("❌ Failed to load signing key", "error", err)
		os.Exit(1)
	}
	defer signer.Wipe()

	placer, err := execution.NewFactory(cfg, nil, signer).Create()
	if err != nil {
		slog.Error("❌ Failed to create placer", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), placer, *ticker); err != nil {
		slog.Error("❌ Integration Test Failed", "error", err)
		os.Exit(1)
	}
	slog.Info("🎉 Integration Test Passed!")
}

func run(ctx context.Context, placer execution.OrderPlacer, ticker string) error {
	// 1c YES bid rests behind the whole book
	req := execution.PlaceRequest{
		ClientID: fmt.Sprintf("itest-%d", time.Now().Unix()),
		Ticker:   ticker,
		Side:     domain.SideYes,
		Price:    1,
		Qty:      1,
	}

	slog.Info("STEP 1: Placing Order...", "client_id", req.ClientID, "ticker", ticker)
	res, err := placer.Place(ctx, req)
	if err != nil {
		return fmt.Errorf("place: %w", err)
	}
	slog.Info("✅ Order Placed", "order_id", res.ExternalID, "status", res.Status)

	time.Sleep(2 * time.Second)

	slog.Info("STEP 2: Reading Order...", "order_id", res.ExternalID)
	upd, err := placer.Status(ctx, res.ExternalID)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	slog.Info("✅ Order Status", "status", upd.Status, "filled", upd.FilledQty)

	if queue, err := placer.QueuePositions(ctx, []string{ticker}); err == nil {
		slog.Info("📊 Queue position", "ahead", queue[res.ExternalID])
	}

	slog.Info("STEP 3: Canceling Order...", "order_id", res.ExternalID)
	if err := placer.Cancel(ctx, res.ExternalID); err != nil && !errors.Is(err, execution.ErrOrderNotFound) {
		return fmt.Errorf("cancel: %w", err)
	}
	slog.Info("✅ Order Canceled")
	return nil
}
