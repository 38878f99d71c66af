package execution

import (
	"math"

	"kalshi_go/internal/domain"
)

// EdgeDecayAlerts flags open positions whose current signal flipped, decayed below thresholdBps, or vanished.
// Positions held on both sides of a ticker are boxed and skipped. A nil active set disables the
// active-market filter for the no-signal case.
func EdgeDecayAlerts(positions []domain.Position, signals map[string]domain.Signal, thresholdBps float64, active map[string]bool) []domain.EdgeAlert {
	sides := make(map[string]map[domain.Side]bool)
	for _, p := range positions {
		if !p.IsOpen() || p.Ticker == "" {
			continue
		}
		if sides[p.Ticker] == nil {
			sides[p.Ticker] = make(map[domain.Side]bool, 2)
		}
		sides[p.Ticker][p.Side] = true
	}

	var alerts []domain.EdgeAlert
	noSignalSent := make(map[string]bool)
	for _, p := range positions {
		if !p.IsOpen() || p.Ticker == "" {
			continue
		}
		if len(sides[p.Ticker]) > 1 {
			continue
		}

		sig, ok := signals[p.Ticker]
		if !ok {
			if active != nil && !active[p.Ticker] {
				continue
			}
			if noSignalSent[p.Ticker] {
				continue
			}
			noSignalSent[p.Ticker] = true
			alerts = append(alerts, domain.EdgeAlert{Ticker: p.Ticker, Kind: domain.AlertNoSignal, Side: p.Side})
			continue
		}

		edgeBps := sig.EdgeBps()
		if sig.Direction != domain.Flat && sig.Direction != domain.DirectionFor(p.Side) {
			alerts = append(alerts, domain.EdgeAlert{
				Ticker: p.Ticker, Kind: domain.AlertFlipped, Side: p.Side, Direction: sig.Direction, EdgeBps: edgeBps,
			})
			continue
		}
		if math.Abs(edgeBps) < thresholdBps {
			alerts = append(alerts, domain.EdgeAlert{
				Ticker: p.Ticker, Kind: domain.AlertDecayed, Side: p.Side, Direction: sig.Direction, EdgeBps: edgeBps,
			})
		}
	}
	return alerts
}
