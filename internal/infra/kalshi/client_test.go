package kalshi

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/infra"
)

func newTestClient(t *testing.T, h http.HandlerFunc, signer *Signer) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/trade-api/v2", signer, 2*time.Second)
	require.NoError(t, err)
	return c
}

func TestClient_CreateOrderSigned(t *testing.T) {
	var gotPath, gotSig string
	var body OrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSig = r.Header.Get(HeaderSignature)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"order":{"order_id":"ord-1","ticker":"KX-A","status":"resting","side":"yes","yes_price":41}}`))
	}, NewSigner("kid", testKey(t)))

	o, err := c.CreateOrder(context.Background(), OrderRequest{
		Ticker: "KX-A", ClientOrderID: "c-1", Side: "yes", Count: 3, YesPrice: 41,
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.OrderID)
	assert.Equal(t, "resting", o.Status)
	assert.Equal(t, "/trade-api/v2/portfolio/orders", gotPath)
	assert.NotEmpty(t, gotSig)
	assert.Equal(t, "buy", body.Action)
	assert.Equal(t, "limit", body.Type)
	assert.Equal(t, 41, body.YesPrice)
	assert.Zero(t, body.NoPrice)
}

func TestClient_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusUnauthorized, infra.ErrAuthRejected},
		{http.StatusForbidden, infra.ErrAuthRejected},
		{http.StatusBadRequest, infra.ErrUpstreamRejected},
		{http.StatusConflict, infra.ErrUpstreamRejected},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":{"code":"some_code","message":"nope"}}`))
		}, nil)
		_, err := c.GetOrder(context.Background(), "ord-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "some_code", apiErr.Code)
		assert.Equal(t, "nope", apiErr.Message)
		assert.False(t, apiErr.Transient())
	}
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}, nil)
	_, err := c.Balance(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Transient())
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Equal(t, infra.ClassTransientNetwork, infra.Classify(err))
}

func TestClient_AuthFailuresOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, nil)

	for i := 0; i < 5; i++ {
		_, err := c.Balance(context.Background())
		require.ErrorIs(t, err, infra.ErrAuthRejected)
	}
	_, err := c.Balance(context.Background())
	assert.ErrorIs(t, err, infra.ErrCircuitOpen)
	assert.EqualValues(t, 5, calls.Load())
	assert.Equal(t, infra.BreakerOpen, c.Breaker().State())
}

func TestClient_RejectionsDoNotOpenBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, nil)
	for i := 0; i < 8; i++ {
		_, err := c.CancelOrder(context.Background(), "ord-1")
		require.ErrorIs(t, err, infra.ErrUpstreamRejected)
	}
	assert.Equal(t, infra.BreakerClosed, c.Breaker().State())
}

func TestClient_QueuePositions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trade-api/v2/portfolio/orders/queue_positions", r.URL.Path)
		assert.Equal(t, "KX-A,KX-B", r.URL.Query().Get("market_tickers"))
		w.Write([]byte(`{"queue_positions":[{"order_id":"o1","market_ticker":"KX-A","queue_position":120}]}`))
	}, nil)
	qp, err := c.QueuePositions(context.Background(), []string{"KX-A", "KX-B"})
	require.NoError(t, err)
	list, ok := qp["queue_positions"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "o1", list[0].(map[string]any)["order_id"])
}

func TestClient_MarketsFollowsCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KXBTC", r.URL.Query().Get("series_ticker"))
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"markets":[{"ticker":"KXBTC-A","event_ticker":"KXBTC-E","status":"active","floor_strike":100000}],"cursor":"p2"}`))
			return
		}
		w.Write([]byte(`{"markets":[{"ticker":"KXBTC-B","event_ticker":"KXBTC-E","status":"active","cap_strike":100000}],"cursor":""}`))
	}, nil)

	ms, err := c.Markets(context.Background(), "KXBTC", "open")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	require.NotNil(t, ms[0].FloorStrike)
	assert.Equal(t, 100000.0, *ms[0].FloorStrike)
	assert.Nil(t, ms[0].CapStrike)
	assert.Equal(t, "KXBTC-B", ms[1].Ticker)
}

func TestClient_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance":`))
	}, nil)
	_, err := c.Balance(context.Background())
	assert.ErrorIs(t, err, infra.ErrMalformed)
}

func TestClient_SignedPathExcludesQuery(t *testing.T) {
	key := testKey(t)
	s := NewSigner("kid", key)
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	var sig string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(HeaderSignature)
		w.Write([]byte(`{"queue_positions":[]}`))
	}, s)
	_, err := c.QueuePositions(context.Background(), []string{"KX-A"})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("1700000000000GET/trade-api/v2/portfolio/orders/queue_positions"))
	assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], raw,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}))
}
