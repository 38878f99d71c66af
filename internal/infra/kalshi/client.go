package kalshi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"kalshi_go/internal/infra"
)

// ErrNotFound is returned for unknown orders and markets.
var ErrNotFound = errors.New("kalshi: not found")

// APIError is a non-2xx REST answer.
type APIError struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

// Transient reports whether the call may succeed on retry.
func (e *APIError) Transient() bool { return e.kind == nil }

// Client is the Kalshi trade API REST client.
type Client struct {
	baseURL *url.URL
	signer  *Signer
	http    *http.Client
	limits  infra.KalshiLimiters
	breaker *infra.CircuitBreaker
}

// NewClient creates a REST client for baseURL (e.g. https://api.elections.kalshi.com/trade-api/v2).
func NewClient(baseURL string, signer *Signer, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: kalshi rest url: %v", infra.ErrInvalidConfig, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cbCfg := infra.DefaultCircuitBreakerConfig("kalshi_rest")
	cbCfg.Trip = func(err error) bool { return errors.Is(err, infra.ErrAuthRejected) }

	return &Client{
		baseURL: u,
		signer:  signer,
		http:    &http.Client{Timeout: timeout},
		limits:  infra.NewKalshiLimiters(),
		breaker: infra.NewCircuitBreaker(cbCfg),
	}, nil
}

// Breaker exposes the auth circuit breaker.
func (c *Client) Breaker() *infra.CircuitBreaker { return c.breaker }

// CreateOrder places a limit buy.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Action == "" {
		req.Action = "buy"
	}
	if req.Type == "" {
		req.Type = "limit"
	}
	var out orderResponse
	err := c.do(ctx, http.MethodPost, "/portfolio/orders", nil, req, &out)
	return out.Order, err
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (Order, error) {
	var out orderResponse
	err := c.do(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil, &out)
	return out.Order, err
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var out orderResponse
	err := c.do(ctx, http.MethodGet, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil, &out)
	return out.Order, err
}

// QueuePositions returns the raw queue position payload for the given markets.
// Entries come back as a list or keyed by order id depending on the API version.
func (c *Client) QueuePositions(ctx context.Context, tickers []string) (map[string]any, error) {
	q := url.Values{}
	if len(tickers) > 0 {
		q.Set("market_tickers", strings.Join(tickers, ","))
	}
	out := make(map[string]any)
	err := c.do(ctx, http.MethodGet, "/portfolio/orders/queue_positions", q, nil, &out)
	return out, err
}

// Markets lists markets of a series with the given status, following cursors.
func (c *Client) Markets(ctx context.Context, series, status string) ([]Market, error) {
	var all []Market
	cursor := ""
	for {
		q := url.Values{}
		q.Set("series_ticker", series)
		if status != "" {
			q.Set("status", status)
		}
		q.Set("limit", "200")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page marketsResponse
		if err := c.do(ctx, http.MethodGet, "/markets", q, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Markets...)
		if page.Cursor == "" || len(page.Markets) == 0 {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// Market fetches one market.
func (c *Client) Market(ctx context.Context, ticker string) (Market, error) {
	var out marketResponse
	err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(ticker), nil, nil, &out)
	return out.Market, err
}

// Balance returns the available cash balance in cents.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var out balanceResponse
	err := c.do(ctx, http.MethodGet, "/portfolio/balance", nil, nil, &out)
	return out.Balance, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	lim := c.limits.Read
	if method != http.MethodGet {
		lim = c.limits.Write
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Do(func() error {
		return c.roundTrip(ctx, method, path, q, body, out)
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		// 서명 경로는 쿼리를 제외한다
		h, err := c.signer.Headers(method, u.Path)
		if err != nil {
			return err
		}
		for k, v := range h {
			req.Header[k] = v
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := decodeError(resp.StatusCode, raw)
		slog.Warn("⚠️ Kalshi REST error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", apiErr.Status),
			slog.String("code", apiErr.Code))
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", infra.ErrMalformed, method, path, err)
	}
	return nil
}

func decodeError(status int, raw []byte) *APIError {
	e := &APIError{Status: status}
	var body apiErrorBody
	if json.Unmarshal(raw, &body) == nil {
		e.Code = body.Error.Code
		e.Message = body.Error.Message
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}

	switch {
	case status == http.StatusNotFound:
		e.kind = ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.kind = infra.ErrAuthRejected
	case status == http.StatusTooManyRequests:
		// rate limited: transient
	case status >= 400 && status < 500:
		e.kind = infra.ErrUpstreamRejected
	}
	return e
}
