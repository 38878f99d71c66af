package coinbase

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
)

type captureWriter struct{ sent []subscribeRequest }

func (c *captureWriter) WriteJSON(v any) error {
	b, _ := json.Marshal(v)
	var r subscribeRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	c.sent = append(c.sent, r)
	return nil
}
func (c *captureWriter) WriteMessage(int, []byte) error { return nil }
func (c *captureWriter) Ping() error                    { return nil }

func TestSubscribe(t *testing.T) {
	h := NewFeedHandler("wss://ws-feed.exchange.coinbase.com", make(chan event.Event, 1))
	w := &captureWriter{}
	require.NoError(t, h.Subscribe(w, []string{"BTC-USD"}))
	require.Len(t, w.sent, 1)
	assert.Equal(t, "subscribe", w.sent[0].Type)
	assert.Equal(t, []string{"BTC-USD"}, w.sent[0].ProductIDs)
	assert.Equal(t, []string{"ticker", "heartbeat"}, w.sent[0].Channels)
}

func TestOnMessage_Ticker(t *testing.T) {
	inbox := make(chan event.Event, 1)
	h := NewFeedHandler("", inbox)

	msg := `{"type":"ticker","product_id":"BTC-USD","price":"67012.34","time":"2026-03-02T14:00:00.123456Z"}`
	require.NoError(t, h.OnMessage(context.Background(), []byte(msg)))

	q := (<-inbox).(*event.QuoteEvent)
	defer event.ReleaseQuoteEvent(q)
	assert.Equal(t, "coinbase", q.Source)
	assert.Equal(t, "BTC-USD", q.Symbol)
	assert.Equal(t, "67012.34", q.Price.String())
	want := time.Date(2026, 3, 2, 14, 0, 0, 123456000, time.UTC)
	assert.True(t, q.Ts.Time().Equal(want), "ts %v", q.Ts.Time())
}

func TestOnMessage_HeartbeatAndErrors(t *testing.T) {
	inbox := make(chan event.Event, 1)
	h := NewFeedHandler("", inbox)
	ctx := context.Background()

	assert.NoError(t, h.OnMessage(ctx, []byte(`{"type":"heartbeat","sequence":1}`)))
	assert.NoError(t, h.OnMessage(ctx, []byte(`{"type":"subscriptions","channels":[]}`)))
	assert.Empty(t, inbox)

	assert.ErrorIs(t, h.OnMessage(ctx, []byte(`{"type":"ticker","product_id":"BTC-USD","price":""}`)), infra.ErrMalformed)
	assert.ErrorIs(t, h.OnMessage(ctx, []byte(`{"type":"ticker","product_id":"BTC-USD","price":"-1"}`)), infra.ErrMalformed)
	assert.ErrorIs(t, h.OnMessage(ctx, []byte(`[`)), infra.ErrMalformed)
	assert.ErrorIs(t, h.OnMessage(ctx, []byte(`{"type":"error","message":"Failed to subscribe","reason":"bad product"}`)), infra.ErrUpstreamRejected)
}

func TestOnMessage_DropsWhenFull(t *testing.T) {
	inbox := make(chan event.Event, 1)
	h := NewFeedHandler("", inbox)
	msg := []byte(`{"type":"ticker","product_id":"BTC-USD","price":"1","time":"bad"}`)
	require.NoError(t, h.OnMessage(context.Background(), msg))
	require.NoError(t, h.OnMessage(context.Background(), msg))
	assert.Len(t, inbox, 1)
}
