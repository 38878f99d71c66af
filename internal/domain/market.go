package domain

import "strings"

// MarketStatus follows the venue lifecycle of a contract.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketInactive MarketStatus = "inactive"
	MarketSettled  MarketStatus = "settled"
)

// MarketInfo describes a tracked contract.
// Low/High bound a partition bracket as [Low, High); nil means open-ended.
type MarketInfo struct {
	Ticker      string       `json:"ticker"`
	EventTicker string       `json:"event_ticker"`
	Status      MarketStatus `json:"status"`
	Low         *float64     `json:"low,omitempty"`
	High        *float64     `json:"high,omitempty"`
}

// SeriesOf returns the series prefix of a ticker (text before the first '-').
// It doubles as the instrument class for fill statistics.
func SeriesOf(ticker string) string {
	if i := strings.IndexByte(ticker, '-'); i > 0 {
		return ticker[:i]
	}
	return ticker
}

// Contains reports whether v falls inside the bracket.
func (m MarketInfo) Contains(v float64) bool {
	if m.Low != nil && v < *m.Low {
		return false
	}
	if m.High != nil && v >= *m.High {
		return false
	}
	return true
}
