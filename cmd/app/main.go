package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kalshi_go/internal/app"
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Market discovery (REST) before the engine owns the market set
	discoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := bootstrap.Discover(discoverCtx)
	cancel()
	if err != nil {
		slog.Error("❌ Market discovery failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}

	// 4. Hotpath + feeds until Ctrl+C
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Engine stopped with error", slog.Any("error", err))
	}

	slog.Info("👋 Shutting down gracefully...")
}
