package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"kalshi_go/internal/domain"
)

// MockPlacer is a scriptable placer that only records calls.
type MockPlacer struct {
	mu       sync.Mutex
	seq      int
	Placed   []PlaceRequest
	Canceled []string
	Updates  map[string]OrderUpdate // Returned by Status; default resting
	Queue    map[string]int
	Reject   string // Non-empty rejects every Place
	PlaceErr error  // Transport failure on Place
}

// NewMockPlacer creates an empty mock.
func NewMockPlacer() *MockPlacer {
	return &MockPlacer{Updates: make(map[string]OrderUpdate), Queue: make(map[string]int)}
}

// Place implements OrderPlacer.
func (m *MockPlacer) Place(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Info("MOCK EXECUTION: Place Order",
		slog.String("client_id", req.ClientID),
		slog.String("ticker", req.Ticker),
		slog.String("side", string(req.Side)),
		slog.Int("price", int(req.Price)),
		slog.Int("qty", req.Qty),
	)
	m.Placed = append(m.Placed, req)
	if m.PlaceErr != nil {
		return PlaceResult{}, m.PlaceErr
	}
	if m.Reject != "" {
		return PlaceResult{}, &RejectError{Reason: m.Reject}
	}
	m.seq++
	return PlaceResult{ExternalID: fmt.Sprintf("mock-%d", m.seq), Status: domain.StatusResting}, nil
}

// Cancel implements OrderPlacer.
func (m *MockPlacer) Cancel(ctx context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Canceled = append(m.Canceled, externalID)
	return nil
}

// Status implements OrderPlacer.
func (m *MockPlacer) Status(ctx context.Context, externalID string) (OrderUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Updates[externalID]; ok {
		return u, nil
	}
	return OrderUpdate{ExternalID: externalID, Status: domain.StatusResting}, nil
}

// QueuePositions implements OrderPlacer.
func (m *MockPlacer) QueuePositions(ctx context.Context, tickers []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.Queue))
	for k, v := range m.Queue {
		out[k] = v
	}
	return out, nil
}

// SetUpdate scripts the next Status answer for an order.
func (m *MockPlacer) SetUpdate(u OrderUpdate) {
	m.mu.Lock()
	m.Updates[u.ExternalID] = u
	m.mu.Unlock()
}

// SetQueue scripts a queue position.
func (m *MockPlacer) SetQueue(key string, pos int) {
	m.mu.Lock()
	m.Queue[key] = pos
	m.mu.Unlock()
}

// PlacedCount returns how many Place calls were made.
func (m *MockPlacer) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Placed)
}
