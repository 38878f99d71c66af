package execution

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"kalshi_go/internal/infra"
	"kalshi_go/internal/infra/kalshi"
)

// ConfirmRealMoneyEnv must be "true" before live orders are sent.
const ConfirmRealMoneyEnv = "CONFIRM_REAL_MONEY"

// ErrRealMoneyNotConfirmed is the live-mode safety latch.
var ErrRealMoneyNotConfirmed = errors.New("SAFETY_GUARD: live trading requires CONFIRM_REAL_MONEY=true")

// Factory builds the OrderPlacer for the configured trading mode.
type Factory struct {
	cfg    *infra.Config
	books  BookReader
	signer *kalshi.Signer
	getenv func(string) string
}

// NewFactory creates a factory. signer may be nil in paper mode.
func NewFactory(cfg *infra.Config, books BookReader, signer *kalshi.Signer) *Factory {
	return &Factory{cfg: cfg, books: books, signer: signer, getenv: os.Getenv}
}

// Create returns the placer for cfg.Trading.Mode.
func (f *Factory) Create() (OrderPlacer, error) {
	mode := f.cfg.Trading.Mode
	slog.Info("Initializing Execution System", slog.String("mode", mode))

	switch mode {
	case infra.ModePaper:
		return NewPaperPlacer(f.books), nil

	case infra.ModeDemo:
		slog.Info("🔒 Connecting to Kalshi DEMO")
		return f.kalshiPlacer("DEMO")

	case infra.ModeLive:
		if f.getenv(ConfirmRealMoneyEnv) != "true" {
			slog.Error(ErrRealMoneyNotConfirmed.Error())
			return nil, ErrRealMoneyNotConfirmed
		}
		slog.Warn("🚨🚨🚨 Connecting to Kalshi LIVE 🚨🚨🚨")
		return f.kalshiPlacer("LIVE")

	default:
		return nil, fmt.Errorf("%w: unknown execution mode %q", infra.ErrInvalidConfig, mode)
	}
}

func (f *Factory) kalshiPlacer(label string) (OrderPlacer, error) {
	if f.signer == nil {
		return nil, fmt.Errorf("%w: %s mode needs a kalshi signing key", infra.ErrInvalidConfig, label)
	}
	_, rest := f.cfg.KalshiEndpoints()
	client, err := kalshi.NewClient(rest, f.signer, f.cfg.Execution.CallTimeout())
	if err != nil {
		return nil, err
	}
	return NewKalshiPlacer(client, label), nil
}
