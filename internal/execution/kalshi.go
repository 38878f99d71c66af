package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/infra/kalshi"
)

// KalshiClient is the subset of the REST client the placer needs.
type KalshiClient interface {
	CreateOrder(ctx context.Context, req kalshi.OrderRequest) (kalshi.Order, error)
	CancelOrder(ctx context.Context, orderID string) (kalshi.Order, error)
	GetOrder(ctx context.Context, orderID string) (kalshi.Order, error)
	QueuePositions(ctx context.Context, tickers []string) (map[string]any, error)
}

// KalshiPlacer places maker limit orders on Kalshi.
type KalshiPlacer struct {
	client KalshiClient
	label  string // DEMO or LIVE, for logs
}

// NewKalshiPlacer wraps a REST client.
func NewKalshiPlacer(client KalshiClient, label string) *KalshiPlacer {
	return &KalshiPlacer{client: client, label: label}
}

// Place implements OrderPlacer. Orders are post-only buys on the requested side.
func (k *KalshiPlacer) Place(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	if !req.Price.Valid() {
		return PlaceResult{}, &RejectError{Reason: fmt.Sprintf("invalid price %d", req.Price)}
	}
	if req.Qty <= 0 {
		return PlaceResult{}, &RejectError{Reason: "invalid quantity"}
	}

	body := kalshi.OrderRequest{
		Ticker:        req.Ticker,
		ClientOrderID: req.ClientID,
		Side:          string(req.Side),
		Count:         req.Qty,
		PostOnly:      true,
	}
	if req.Side == domain.SideYes {
		body.YesPrice = int(req.Price)
	} else {
		body.NoPrice = int(req.Price)
	}

	o, err := k.client.CreateOrder(ctx, body)
	if err != nil {
		return PlaceResult{}, venueError(err)
	}

	slog.Info("Order placed",
		slog.String("venue", k.label),
		slog.String("order_id", o.OrderID),
		slog.String("client_id", req.ClientID),
		slog.String("ticker", req.Ticker),
		slog.String("side", string(req.Side)),
		slog.Int("price", int(req.Price)),
		slog.Int("qty", req.Qty))
	return PlaceResult{ExternalID: o.OrderID, Status: mapStatus(o), FilledQty: o.FillCount}, nil
}

// Cancel implements OrderPlacer.
func (k *KalshiPlacer) Cancel(ctx context.Context, externalID string) error {
	if _, err := k.client.CancelOrder(ctx, externalID); err != nil {
		return venueError(err)
	}
	return nil
}

// Status implements OrderPlacer.
func (k *KalshiPlacer) Status(ctx context.Context, externalID string) (OrderUpdate, error) {
	o, err := k.client.GetOrder(ctx, externalID)
	if err != nil {
		return OrderUpdate{}, venueError(err)
	}
	return OrderUpdate{ExternalID: o.OrderID, Status: mapStatus(o), FilledQty: o.FillCount}, nil
}

// QueuePositions implements OrderPlacer. Results are keyed by order id and by ticker.
func (k *KalshiPlacer) QueuePositions(ctx context.Context, tickers []string) (map[string]int, error) {
	payload, err := k.client.QueuePositions(ctx, tickers)
	if err != nil {
		return nil, venueError(err)
	}
	return ExtractQueuePositions(payload), nil
}

// mapStatus converts the venue's order state into ours. Unknown strings read as resting.
func mapStatus(o kalshi.Order) domain.OrderStatus {
	st, ok := NormalizeStatus(o.Status)
	if !ok {
		slog.Warn("⚠️ Unknown order status", slog.String("order_id", o.OrderID), slog.String("status", o.Status))
		st = domain.StatusResting
	}
	if st == domain.StatusResting && o.FillCount > 0 {
		return domain.StatusPartiallyFilled
	}
	return st
}

// venueError turns structured rejections into RejectError and 404s into ErrOrderNotFound.
// Transport and auth errors pass through unchanged.
func venueError(err error) error {
	var apiErr *kalshi.APIError
	switch {
	case errors.Is(err, kalshi.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case errors.As(err, &apiErr) && errors.Is(err, infra.ErrUpstreamRejected):
		reason := apiErr.Code
		if reason == "" {
			reason = apiErr.Message
		}
		return &RejectError{Reason: reason}
	default:
		return err
	}
}
