package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/aggregator"
	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/orderbook"
	"kalshi_go/pkg/quant"
)

type staticPrices struct{ agg *aggregator.Aggregator }

func (p staticPrices) FairValue() aggregator.Estimate { return p.agg.Estimate(time.Now()) }
func (p staticPrices) Quotes() []aggregator.PriceQuote {
	return p.agg.Quotes(time.Now())
}

func newTestServer(t *testing.T, feeds []FeedStatus) *Server {
	t.Helper()
	rec := orderbook.NewReconciler()
	require.NoError(t, rec.ApplySnapshot(&event.BookSnapshotEvent{
		Ticker: "KX-A", Seq: 7,
		Yes: []event.Level{{Price: 40, Qty: 10}},
		No:  []event.Level{{Price: 55, Qty: 3}},
	}))

	agg := aggregator.New(aggregator.DefaultConfig())
	agg.Update("coinbase", decimal.NewFromInt(67000), quant.Now())

	return NewServer("127.0.0.1:0", Deps{
		Books:      rec,
		Prices:     staticPrices{agg},
		Feeds:      func() []FeedStatus { return feeds },
		OpenOrders: func() int { return 2 },
		Metrics:    infra.NewMetrics().Handler(),
	})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealth(t *testing.T) {
	live := []FeedStatus{{Venue: "KALSHI", State: "SUBSCRIBED", Live: true}}
	rr := get(t, newTestServer(t, live), "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Books)
	assert.Equal(t, 2, resp.OpenOrders)

	down := append(live, FeedStatus{Venue: "KRAKEN", State: "RECONNECTING"})
	rr = get(t, newTestServer(t, down), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"KRAKEN"}, resp.Degraded)
}

func TestBook(t *testing.T) {
	s := newTestServer(t, nil)

	rr := get(t, s, "/books/KX-A")
	require.Equal(t, http.StatusOK, rr.Code)
	var v orderbook.View
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	assert.Equal(t, uint64(7), v.Seq)
	require.NotNil(t, v.YesAsk)
	assert.EqualValues(t, 45, *v.YesAsk)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/books/NOPE").Code)

	rr = get(t, s, "/books")
	assert.JSONEq(t, `["KX-A"]`, rr.Body.String())
}

func TestFeedsAndFairValue(t *testing.T) {
	s := newTestServer(t, []FeedStatus{{Venue: "COINBASE", State: "SUBSCRIBED", Live: true, Subscriptions: 1}})

	rr := get(t, s, "/feeds")
	require.Equal(t, http.StatusOK, rr.Code)
	var feeds []FeedStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &feeds))
	require.Len(t, feeds, 1)
	assert.Equal(t, 1, feeds[0].Subscriptions)

	rr = get(t, s, "/fairvalue")
	require.Equal(t, http.StatusOK, rr.Code)
	var fv fairValueResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fv))
	assert.True(t, fv.Estimate.Value.Equal(decimal.NewFromInt(67000)))
	assert.Equal(t, []string{"coinbase"}, fv.Estimate.Sources)
	assert.Len(t, fv.Quotes, 1)
}

func TestMetricsAndPprof(t *testing.T) {
	s := newTestServer(t, nil)

	rr := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "go_goroutines"))

	assert.Equal(t, http.StatusOK, get(t, s, "/debug/pprof/").Code)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
