package domain

import (
	"errors"
	"fmt"
	"time"

	"kalshi_go/pkg/quant"
)

// ErrInvalidTransition is returned when an order status change is not allowed.
var ErrInvalidTransition = errors.New("invalid order transition")

// OrderStatus is the lifecycle state of an order.
// Placed -> Resting -> {PartiallyFilled -> Filled | Canceled | Expired}.
// Rejected is the terminal state of an order the venue refused.
type OrderStatus string

const (
	StatusPlaced          OrderStatus = "placed"
	StatusResting         OrderStatus = "resting"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusExpired         OrderStatus = "expired"
	StatusRejected        OrderStatus = "rejected"
)

var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusPlaced:          {StatusResting, StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired, StatusRejected},
	StatusResting:         {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired},
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order represents a limit order on one contract side.
// All prices are integer cents.
type Order struct {
	ClientID   string      `json:"client_id"`
	ExternalID string      `json:"external_id,omitempty"`
	Ticker     string      `json:"ticker"`
	Class      string      `json:"class"` // instrument class used for fill statistics
	Side       Side        `json:"side"`
	Price      quant.Cents `json:"price_cents"`
	Qty        int         `json:"qty"`
	FilledQty  int         `json:"filled_qty"`
	Status     OrderStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	EntryEdge  float64     `json:"entry_edge"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Transition moves the order to the next status. Terminal states are final.
func (o *Order) Transition(to OrderStatus, now time.Time) error {
	if o.Status == to && to != StatusPartiallyFilled {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, o.Status, to, o.ClientID)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// IsOpen checks if the order is still working at the venue.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int {
	if r := o.Qty - o.FilledQty; r > 0 {
		return r
	}
	return 0
}

// NotionalCents is the cost of the unfilled remainder.
func (o *Order) NotionalCents() int64 {
	return int64(o.Remaining()) * int64(o.Price)
}
