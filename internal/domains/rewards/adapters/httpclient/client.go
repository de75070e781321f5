package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Apurer/go-commerce-orders/internal/domains/rewards/ports"
)

const defaultTimeout = 10 * time.Second

var _ ports.AccrualSender = (*Client)(nil)

// Client posts accruals to the external rewards service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithTimeout bounds each accrual call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIKey sets the bearer token presented to the rewards service.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient swaps the underlying client, e.g. for instrumented transports.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient instantiates the client against the service's base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type accrualRequest struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	OccurredAt string `json:"occurred_at"`
}

// Send posts one accrual. The idempotency key rides in a header so the
// rewards service can collapse duplicate submissions.
func (c *Client) Send(ctx context.Context, accrual ports.Accrual) (*ports.Result, error) {
	if c.baseURL == "" {
		return nil, errors.New("rewards service URL is empty")
	}
	body, err := json.Marshal(accrualRequest{
		OrderID:    accrual.OrderID.String(),
		CustomerID: accrual.CustomerID.String(),
		Amount:     accrual.Amount,
		OccurredAt: accrual.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode accrual: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/accruals", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build accrual request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", accrual.IdempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("post accrual: %w", err)
	}
	defer resp.Body.Close()
	return &ports.Result{StatusCode: resp.StatusCode, Latency: latency}, nil
}
