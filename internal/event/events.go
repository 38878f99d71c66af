package event

import (
	"github.com/shopspring/decimal"

	"kalshi_go/internal/domain"
	"kalshi_go/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvBookSnapshot Type = iota + 1
	EvBookDelta
	EvQuote
	EvTrade
	EvTicker
	EvLifecycle
	EvEnsemble
	EvFeedState
)

func (t Type) String() string {
	switch t {
	case EvBookSnapshot:
		return "book_snapshot"
	case EvBookDelta:
		return "book_delta"
	case EvQuote:
		return "quote"
	case EvTrade:
		return "trade"
	case EvTicker:
		return "ticker"
	case EvLifecycle:
		return "lifecycle"
	case EvEnsemble:
		return "ensemble"
	case EvFeedState:
		return "feed_state"
	default:
		return "unknown"
	}
}

// Event is the interface for everything delivered to the engine inbox.
type Event interface {
	GetTs() quant.TimeStamp
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Ts quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

// Level is one resting price level.
type Level struct {
	Price quant.Cents `json:"price"`
	Qty   int         `json:"qty"`
}

// BookSnapshotEvent replaces an instrument's book wholesale.
type BookSnapshotEvent struct {
	BaseEvent
	Ticker string  `json:"ticker"`
	Seq    uint64  `json:"seq"`
	Yes    []Level `json:"yes"` // YES bids
	No     []Level `json:"no"`  // NO bids
}

func (e BookSnapshotEvent) GetType() Type { return EvBookSnapshot }

// BookDeltaEvent changes one level of one side.
// Incremental deltas add Qty to the resting size; otherwise Qty is the new absolute size.
type BookDeltaEvent struct {
	BaseEvent
	Ticker      string      `json:"ticker"`
	Seq         uint64      `json:"seq"`
	Side        domain.Side `json:"side"`
	Price       quant.Cents `json:"price"`
	Qty         int         `json:"qty"`
	Incremental bool        `json:"incremental"`
}

func (e BookDeltaEvent) GetType() Type { return EvBookDelta }

// QuoteEvent is a spot price observation from one source.
type QuoteEvent struct {
	BaseEvent
	Source string          `json:"source"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func (e QuoteEvent) GetType() Type { return EvQuote }

// TradeEvent is a print on a venue.
type TradeEvent struct {
	BaseEvent
	Source     string          `json:"source"`
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
}

func (e TradeEvent) GetType() Type { return EvTrade }

// TickerEvent carries the venue's own top-of-book summary for cross-checking.
type TickerEvent struct {
	BaseEvent
	Ticker string      `json:"ticker"`
	YesBid quant.Cents `json:"yes_bid"`
	YesAsk quant.Cents `json:"yes_ask"`
}

func (e TickerEvent) GetType() Type { return EvTicker }

// LifecycleKind is a normalized market lifecycle transition.
type LifecycleKind string

const (
	LifecycleActivated   LifecycleKind = "activated"
	LifecycleDeactivated LifecycleKind = "deactivated"
	LifecycleSettled     LifecycleKind = "settled"
)

// LifecycleEvent reports listing and delisting of a contract.
type LifecycleEvent struct {
	BaseEvent
	Ticker      string        `json:"ticker"`
	EventTicker string        `json:"event_ticker"`
	Kind        LifecycleKind `json:"kind"`
}

func (e LifecycleEvent) GetType() Type { return EvLifecycle }

// EnsembleEvent delivers independent outcome draws for one partitioned event.
type EnsembleEvent struct {
	BaseEvent
	EventTicker string    `json:"event_ticker"`
	Draws       []float64 `json:"draws"`
}

func (e EnsembleEvent) GetType() Type { return EvEnsemble }

// FeedStateEvent reports a connection state change of one venue.
type FeedStateEvent struct {
	BaseEvent
	Venue string `json:"venue"`
	State string `json:"state"`
	Live  bool   `json:"live"`
}

func (e FeedStateEvent) GetType() Type { return EvFeedState }
