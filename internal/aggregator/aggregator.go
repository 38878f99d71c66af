package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kalshi_go/pkg/quant"
	"kalshi_go/pkg/safe"
)

// Config controls source weights and the agreement curve.
type Config struct {
	Weights               map[string]float64
	StaleAfter            time.Duration
	SingleSourceAgreement float64
	DispersionFreeBps     float64 // Dispersion tolerated without penalty
	DispersionZeroBps     float64 // Dispersion at which agreement reaches 0
}

// DefaultConfig returns the production source weights.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			"coinbase": 0.30,
			"binance":  0.25,
			"kraken":   0.20,
		},
		StaleAfter:            5 * time.Second,
		SingleSourceAgreement: 0.7,
		DispersionFreeBps:     0,
		DispersionZeroBps:     100,
	}
}

// PriceQuote is the latest observation from one source.
// Stale is derived at read time.
type PriceQuote struct {
	Source string          `json:"source"`
	Price  decimal.Decimal `json:"price"`
	Ts     quant.TimeStamp `json:"ts"`
	Stale  bool            `json:"stale"`
}

// Estimate is the fused fair value. It is always derivable from the current quotes.
type Estimate struct {
	Value      decimal.Decimal `json:"value"`
	Confidence float64         `json:"confidence"`
	Agreement  float64         `json:"agreement"`
	Coverage   float64         `json:"coverage"` // available weight / total weight
	Sources    []string        `json:"sources"`
	Ts         quant.TimeStamp `json:"ts"`
}

// Valid reports whether at least one source contributed.
func (e Estimate) Valid() bool {
	return len(e.Sources) > 0 && e.Value.IsPositive()
}

// Aggregator fuses spot quotes from independent sources.
// Each source has exactly one writer; readers receive copies.
type Aggregator struct {
	cfg         Config
	totalWeight float64

	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// New creates an aggregator. Sources with non-positive weight are ignored.
func New(cfg Config) *Aggregator {
	var total float64
	for _, w := range cfg.Weights {
		if w > 0 {
			total += w
		}
	}
	return &Aggregator{
		cfg:         cfg,
		totalWeight: total,
		quotes:      make(map[string]PriceQuote),
	}
}

// Update stores the latest quote for a source. Older quotes never overwrite newer ones.
func (a *Aggregator) Update(source string, price decimal.Decimal, ts quant.TimeStamp) bool {
	if a.cfg.Weights[source] <= 0 || !price.IsPositive() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.quotes[source]; ok && prev.Ts > ts {
		return false
	}
	a.quotes[source] = PriceQuote{Source: source, Price: price, Ts: ts}
	return true
}

// Quotes returns every known quote with its staleness evaluated at now.
func (a *Aggregator) Quotes(now time.Time) []PriceQuote {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]PriceQuote, 0, len(a.quotes))
	for _, q := range a.quotes {
		q.Stale = a.isStale(q, now)
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (a *Aggregator) isStale(q PriceQuote, now time.Time) bool {
	return now.Sub(q.Ts.Time()) > a.cfg.StaleAfter
}

// Estimate fuses the non-stale quotes. It never fails: with no usable source it
// returns a zero-confidence estimate and callers apply their own gates.
func (a *Aggregator) Estimate(now time.Time) Estimate {
	a.mu.RLock()
	defer a.mu.RUnlock()

	est := Estimate{Ts: quant.FromTime(now)}
	if a.totalWeight <= 0 {
		return est
	}

	weighted := decimal.Zero
	var availWeight float64
	var lo, hi decimal.Decimal
	for _, q := range a.quotes {
		if a.isStale(q, now) {
			continue
		}
		w := a.cfg.Weights[q.Source]
		weighted = weighted.Add(q.Price.Mul(decimal.NewFromFloat(w)))
		availWeight += w
		if len(est.Sources) == 0 || q.Price.LessThan(lo) {
			lo = q.Price
		}
		if len(est.Sources) == 0 || q.Price.GreaterThan(hi) {
			hi = q.Price
		}
		est.Sources = append(est.Sources, q.Source)
	}
	if availWeight <= 0 {
		return est
	}
	sort.Strings(est.Sources)

	// Renormalize over the available sources
	est.Value = weighted.Div(decimal.NewFromFloat(availWeight))
	est.Coverage = safe.Clamp01(availWeight / a.totalWeight)
	est.Agreement = a.agreement(len(est.Sources), hi.Sub(lo), est.Value)
	est.Confidence = safe.Clamp01(est.Coverage * est.Agreement)
	return est
}

// agreement maps cross-source dispersion onto [0,1].
func (a *Aggregator) agreement(n int, spread, fair decimal.Decimal) float64 {
	if n == 1 {
		return safe.Clamp01(a.cfg.SingleSourceAgreement)
	}
	if !fair.IsPositive() {
		return 0
	}
	bps := spread.Div(fair).InexactFloat64() * quant.BpsScale
	if bps <= a.cfg.DispersionFreeBps {
		return 1
	}
	span := a.cfg.DispersionZeroBps - a.cfg.DispersionFreeBps
	if span <= 0 {
		return 0
	}
	return safe.Clamp01(1 - (bps-a.cfg.DispersionFreeBps)/span)
}
