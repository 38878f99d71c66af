package binance

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
)

type captureWriter struct{ sent []streamRequest }

func (c *captureWriter) WriteJSON(v any) error {
	b, _ := json.Marshal(v)
	var r streamRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	c.sent = append(c.sent, r)
	return nil
}
func (c *captureWriter) WriteMessage(int, []byte) error { return nil }
func (c *captureWriter) Ping() error                    { return nil }

func TestSubscribeUnsubscribe(t *testing.T) {
	h := NewFeedHandler("wss://stream.binance.com:9443/ws", make(chan event.Event, 1))
	w := &captureWriter{}
	require.NoError(t, h.Subscribe(w, []string{"BTCUSDT"}))
	require.NoError(t, h.Unsubscribe(w, []string{"btcusdt"}))

	require.Len(t, w.sent, 2)
	assert.Equal(t, "SUBSCRIBE", w.sent[0].Method)
	assert.Equal(t, []string{"btcusdt@trade"}, w.sent[0].Params)
	assert.Equal(t, "UNSUBSCRIBE", w.sent[1].Method)
	assert.NotEqual(t, w.sent[0].ID, w.sent[1].ID)
}

func TestOnMessage_Trade(t *testing.T) {
	inbox := make(chan event.Event, 1)
	h := NewFeedHandler("", inbox)

	msg := `{"e":"trade","E":1772460000100,"s":"BTCUSDT","t":12345,"p":"67000.10","q":"0.002","T":1772460000099,"m":true,"M":true}`
	require.NoError(t, h.OnMessage(context.Background(), []byte(msg)))

	q := (<-inbox).(*event.QuoteEvent)
	defer event.ReleaseQuoteEvent(q)
	assert.Equal(t, "binance", q.Source)
	assert.Equal(t, "btcusdt", q.Symbol)
	assert.Equal(t, "67000.1", q.Price.String())
	assert.EqualValues(t, 1772460000099000, q.Ts)
}

func TestTradeEvent_CaseDistinctKeys(t *testing.T) {
	msg := `{"e":"trade","E":1772460000100,"s":"ETHUSDT","t":987,"p":"3500.5","q":"1","T":1772460000050,"m":false,"M":true}`
	var ev tradeEvent
	require.NoError(t, json.Unmarshal([]byte(msg), &ev))
	assert.Equal(t, "trade", ev.Event)
	assert.EqualValues(t, 1772460000100, ev.EventTime)
	assert.EqualValues(t, 987, ev.TradeID)
	assert.EqualValues(t, 1772460000050, ev.TradeTime)
	assert.False(t, ev.Maker)
}

func TestOnMessage_ControlFrames(t *testing.T) {
	inbox := make(chan event.Event, 1)
	h := NewFeedHandler("", inbox)
	ctx := context.Background()

	assert.NoError(t, h.OnMessage(ctx, []byte(`{"result":null,"id":1}`)))
	assert.Empty(t, inbox)
	assert.ErrorIs(t, h.OnMessage(ctx, []byte(`{"error":{"code":2,"msg":"Invalid request"},"id":2}`)), infra.ErrUpstreamRejected)
	assert.ErrorIs(t, h.OnMessage(ctx, []byte(`{"e":"trade","s":"BTCUSDT","p":"0"}`)), infra.ErrMalformed)
	assert.ErrorIs(t, h.OnMessage(ctx, []byte(`nope`)), infra.ErrMalformed)
}
