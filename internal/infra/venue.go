package infra

import (
	"fmt"
	"strings"
)

// Venue is the closed set of upstream feeds.
type Venue string

const (
	VenueKalshi   Venue = "KALSHI"
	VenueCoinbase Venue = "COINBASE"
	VenueBinance  Venue = "BINANCE"
	VenueKraken   Venue = "KRAKEN"
)

// Venues lists every supported venue, Kalshi first.
var Venues = []Venue{VenueKalshi, VenueCoinbase, VenueBinance, VenueKraken}

// ParseVenue accepts any casing.
func ParseVenue(s string) (Venue, error) {
	v := Venue(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown venue %q", s)
	}
	return v, nil
}

// Valid reports whether v is one of Venues.
func (v Venue) Valid() bool {
	switch v {
	case VenueKalshi, VenueCoinbase, VenueBinance, VenueKraken:
		return true
	}
	return false
}

// Source is the aggregator source id of a spot venue ("coinbase", "binance", "kraken").
func (v Venue) Source() string {
	return strings.ToLower(string(v))
}

// IsSpot reports whether the venue supplies spot quotes rather than contract books.
func (v Venue) IsSpot() bool {
	return v.Valid() && v != VenueKalshi
}
