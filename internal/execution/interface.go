package execution

import (
	"context"
	"errors"
	"fmt"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/orderbook"
	"kalshi_go/pkg/quant"
)

var (
	// ErrOrderNotFound is returned by Cancel/Status for unknown or already finished orders.
	ErrOrderNotFound = errors.New("order not found")
	// ErrRejected marks a structured venue rejection. It is never retried without re-evaluation.
	ErrRejected = errors.New("order rejected")
)

// RejectError carries the venue's rejection reason.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return fmt.Sprintf("order rejected: %s", e.Reason) }

// Is makes errors.Is(err, ErrRejected) and errors.Is(err, infra.ErrUpstreamRejected) true.
func (e *RejectError) Is(target error) bool {
	return target == ErrRejected || target == infra.ErrUpstreamRejected
}

// PlaceRequest is a limit order instruction.
type PlaceRequest struct {
	ClientID string
	Ticker   string
	Side     domain.Side
	Price    quant.Cents
	Qty      int
}

// PlaceResult is the venue acknowledgement.
type PlaceResult struct {
	ExternalID string
	Status     domain.OrderStatus
	FilledQty  int
}

// OrderUpdate is the venue's current view of an order.
type OrderUpdate struct {
	ExternalID string
	Status     domain.OrderStatus
	FilledQty  int
}

// OrderPlacer is the order-placement collaborator.
type OrderPlacer interface {
	// Place submits a limit order.
	Place(ctx context.Context, req PlaceRequest) (PlaceResult, error)

	// Cancel cancels an existing order by venue id.
	Cancel(ctx context.Context, externalID string) error

	// Status fetches the current state of an order.
	Status(ctx context.Context, externalID string) (OrderUpdate, error)

	// QueuePositions returns contracts ahead of each resting order, keyed by venue id (or ticker).
	QueuePositions(ctx context.Context, tickers []string) (map[string]int, error)
}

// BookReader provides immutable book copies.
type BookReader interface {
	Snapshot(ticker string) (orderbook.Book, bool)
}
