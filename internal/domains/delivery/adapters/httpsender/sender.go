package httpsender

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/ports"
)

const (
	// HeaderSignature carries the hex HMAC-SHA256 of the body under the
	// vendor's shared secret so the receiver can authenticate origin.
	HeaderSignature = "X-Webhook-Signature"
	// HeaderIdempotencyKey lets the receiver collapse duplicate deliveries.
	HeaderIdempotencyKey = "X-Idempotency-Key"

	defaultTimeout = 10 * time.Second
)

var _ ports.WebhookSender = (*Sender)(nil)

// Sender performs signed webhook POSTs. Every call carries a bounded timeout;
// exceeding it is a failed attempt, never a hang.
type Sender struct {
	client  *http.Client
	timeout time.Duration
}

// Option configures the sender.
type Option func(*Sender)

// WithTimeout bounds each delivery call.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient swaps the underlying client, e.g. for instrumented transports.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

// NewSender instantiates the sender with sane defaults.
func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Deliver signs and posts the payload to the vendor endpoint. A transport
// failure returns a non-nil error; any HTTP response is a Result.
func (s *Sender) Deliver(ctx context.Context, endpoint ports.Endpoint, delivery ports.Delivery) (*ports.Result, error) {
	if strings.TrimSpace(endpoint.URL) == "" {
		return nil, errors.New("vendor endpoint URL is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, delivery.IdempotencyKey)
	req.Header.Set(HeaderSignature, Sign(endpoint.Secret, delivery.Payload))

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	return &ports.Result{StatusCode: resp.StatusCode, Latency: latency}, nil
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret, in
// constant time. Intended for receiver-side tests and documentation of the
// contract.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
