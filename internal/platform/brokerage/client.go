// Package brokerage is the REST client for the brokerage historical order
// and fill endpoints used by the settlement monitor.
package brokerage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	rateLimitKey   = "brokerage"
	maxFillPages   = 100
)

// RequestSigner adds authentication to an outgoing request.
type RequestSigner interface {
	Sign(req *http.Request) error
}

// BearerToken signs requests with a static "Authorization: Bearer" header.
type BearerToken string

// Sign implements RequestSigner.
func (t BearerToken) Sign(req *http.Request) error {
	if t == "" {
		return fmt.Errorf("brokerage: empty api key")
	}
	req.Header.Set("Authorization", "Bearer "+string(t))
	return nil
}

// Client implements domain.OrderAPI over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     RequestSigner
	limiter    domain.RateLimiter
}

// NewClient creates a brokerage REST client. baseURL is the API root, e.g.
// "https://api.brokerage.example/api/v3/brokerage".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithSigner signs every request with s.
func (c *Client) WithSigner(s RequestSigner) *Client {
	c.signer = s
	return c
}

// WithRateLimiter paces every request through rl.
func (c *Client) WithRateLimiter(rl domain.RateLimiter) *Client {
	c.limiter = rl
	return c
}

// ListOrdersByID returns the orders with the given ids. Unknown ids are
// omitted from the result rather than reported as errors.
func (c *Client) ListOrdersByID(ctx context.Context, ids []string) ([]domain.BrokerOrder, error) {
	params := url.Values{}
	for _, id := range ids {
		params.Add("order_ids", id)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/orders/historical/batch?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("brokerage: list orders: %w", err)
	}

	var resp ordersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("brokerage: decode orders: %w", err)
	}

	orders := make([]domain.BrokerOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

// ListFills returns every fill of an order, following pagination cursors.
func (c *Client) ListFills(ctx context.Context, orderID string) ([]domain.Fill, error) {
	var fills []domain.Fill
	cursor := ""

	for page := 0; page < maxFillPages; page++ {
		params := url.Values{}
		params.Set("order_id", orderID)
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.doRequest(ctx, http.MethodGet, "/orders/historical/fills?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("brokerage: list fills %s: %w", orderID, err)
		}

		var resp fillsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("brokerage: decode fills: %w", err)
		}
		for _, f := range resp.Fills {
			fills = append(fills, f.toDomain())
		}

		if resp.Cursor == "" || resp.Cursor == cursor {
			return fills, nil
		}
		cursor = resp.Cursor
	}
	return nil, fmt.Errorf("brokerage: list fills %s: more than %d pages", orderID, maxFillPages)
}

// doRequest sends a request and returns the body of a 2xx response.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.signer != nil {
		if err := c.signer.Sign(req); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransient, err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Error
	}

	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited: %s", domain.ErrTransient, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s", msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

var _ domain.OrderAPI = (*Client)(nil)
