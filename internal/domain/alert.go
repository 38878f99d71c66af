package domain

import "fmt"

// AlertKind classifies an edge-decay alert.
type AlertKind string

const (
	AlertFlipped  AlertKind = "SIGNAL_FLIPPED"
	AlertDecayed  AlertKind = "EDGE_DECAYED"
	AlertNoSignal AlertKind = "NO_SIGNAL"
)

// EdgeAlert flags an open position whose thesis no longer holds.
type EdgeAlert struct {
	Ticker    string    `json:"ticker"`
	Kind      AlertKind `json:"kind"`
	Side      Side      `json:"side"`
	Direction Direction `json:"direction,omitempty"`
	EdgeBps   float64   `json:"edge_bps"`
}

// Message renders a one-line description for logs.
func (a EdgeAlert) Message() string {
	switch a.Kind {
	case AlertFlipped:
		return fmt.Sprintf("signal flipped on %s: open side=%s current=%s edge=%.2f bps", a.Ticker, a.Side, a.Direction, a.EdgeBps)
	case AlertDecayed:
		return fmt.Sprintf("edge decayed on %s: current edge=%.2f bps", a.Ticker, a.EdgeBps)
	default:
		return fmt.Sprintf("no current signal for %s while a position is open", a.Ticker)
	}
}
