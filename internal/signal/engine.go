package signal

import (
	"time"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/orderbook"
	"kalshi_go/pkg/safe"
)

// Config holds the externally configured gates and model constants.
type Config struct {
	EdgeThreshold       float64
	ConfidenceThreshold float64
	TargetQty           int

	MomentumLookback   time.Duration
	MomentumDivisorBps float64
	MaxShift           float64
	MinProb            float64
	MaxProb            float64

	FullSampleCount int // Ensemble size treated as full strength
}

// DefaultConfig mirrors the production settings.
func DefaultConfig() Config {
	return Config{
		EdgeThreshold:       0.05,
		ConfidenceThreshold: 0.5,
		TargetQty:           10,
		MomentumLookback:    15 * time.Minute,
		MomentumDivisorBps:  800,
		MaxShift:            0.35,
		MinProb:             0.01,
		MaxProb:             0.99,
		FullSampleCount:     60,
	}
}

// BookReader provides immutable book copies.
type BookReader interface {
	Snapshot(ticker string) (orderbook.Book, bool)
}

// Engine compares model probabilities with VWAP-implied market probabilities.
// It is stateless; every call produces fresh signals.
type Engine struct {
	cfg Config
}

// NewEngine creates a signal engine.
func NewEngine(cfg Config) *Engine {
	if cfg.TargetQty <= 0 {
		cfg.TargetQty = 1
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate prices one instrument against a model probability.
// It returns false when neither side can fill the target quantity (illiquid).
func (e *Engine) Evaluate(ticker string, mode domain.SignalMode, model float64, book orderbook.Book, now time.Time) (domain.Signal, bool) {
	model = safe.Clamp01(model)

	yes := book.FillCost(domain.SideYes, e.cfg.TargetQty)
	no := book.FillCost(domain.SideNo, e.cfg.TargetQty)
	if !yes.Sufficient && !no.Sufficient {
		return domain.Signal{}, false
	}

	sig := domain.Signal{
		Ticker:    ticker,
		Mode:      mode,
		ModelProb: model,
		TargetQty: e.cfg.TargetQty,
		Direction: domain.Flat,
		CreatedAt: now,
	}

	yesEdge, noEdge := -2.0, -2.0
	if yes.Sufficient {
		yesEdge = model - yes.VWAPCents/100
	}
	if no.Sufficient {
		noEdge = (1 - model) - no.VWAPCents/100
	}

	if yesEdge >= noEdge {
		sig.Edge = yesEdge
		sig.MarketProb = safe.Clamp01(yes.VWAPCents / 100)
		sig.VWAPCents = yes.VWAPCents
		sig.FillableQty = yes.Fillable
		if yesEdge >= e.cfg.EdgeThreshold {
			sig.Direction = domain.BuyYes
		}
	} else {
		sig.Edge = -noEdge
		sig.MarketProb = safe.Clamp01(1 - no.VWAPCents/100)
		sig.VWAPCents = no.VWAPCents
		sig.FillableQty = no.Fillable
		if noEdge >= e.cfg.EdgeThreshold {
			sig.Direction = domain.BuyNo
		}
	}
	return sig, true
}

// finalize attaches confidence and decides actionability.
func (e *Engine) finalize(sig domain.Signal, confidence float64) domain.Signal {
	sig.Confidence = safe.Clamp01(confidence)
	sig.Actionable = sig.Direction != domain.Flat &&
		sig.AbsEdge() >= e.cfg.EdgeThreshold &&
		sig.Confidence >= e.cfg.ConfidenceThreshold
	return sig
}

// Assess evaluates one instrument with an externally supplied confidence.
func (e *Engine) Assess(ticker string, mode domain.SignalMode, model, confidence float64, book orderbook.Book, now time.Time) (domain.Signal, bool) {
	sig, ok := e.Evaluate(ticker, mode, model, book, now)
	if !ok {
		return domain.Signal{}, false
	}
	return e.finalize(sig, confidence), true
}
