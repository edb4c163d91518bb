// Package processor wraps the ChargX HTTP API. One method per endpoint,
// publishable key for public calls, secret key for admin calls. Errors
// are typed and retries are left to callers because repeating a charge
// risks duplication.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chargx/storefront-gateway/internal/obs"
	"github.com/chargx/storefront-gateway/internal/resilience"
)

var tracer = otel.Tracer("processor")

// ErrNoSecretKey is returned by admin operations when no secret key is configured.
var ErrNoSecretKey = errors.New("processor: secret key is missing")

// APIError is a non-2xx or transport failure from the processor. A transport
// failure carries Status 0. Body holds the raw response for operator logs and
// must never be shown to buyers directly.
type APIError struct {
	Status  int
	Body    string
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("processor: transport failure: %s", e.Message)
	}
	return fmt.Sprintf("processor: api error (%d): %s", e.Status, e.Message)
}

// IsTransport reports whether the error was a connection-level failure
// rather than an HTTP response.
func (e *APIError) IsTransport() bool { return e.Status == 0 }

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Client issues authenticated calls to the ChargX public and admin APIs.
type Client struct {
	BaseURL        string
	AdminURL       string
	PublishableKey string
	SecretKey      string
	HTTP           *http.Client
	Log            zerolog.Logger
}

// NewClient builds a client with an instrumented HTTP transport and the
// standard 30 second timeout.
func NewClient(baseURL, adminURL, publishableKey, secretKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		AdminURL:       strings.TrimRight(adminURL, "/"),
		PublishableKey: strings.TrimSpace(publishableKey),
		SecretKey:      strings.TrimSpace(secretKey),
		HTTP:           HTTPClient(timeout),
		Log:            log,
	}
}

// HTTPClient returns an HTTP client configured for processor calls.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("processor")
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(resilience.Transport{
			Base:    http.DefaultTransport,
			Breaker: breaker,
		}),
	}
}

// Pretransact fetches a fresh token-request descriptor.
func (c *Client) Pretransact(ctx context.Context) (PretransactResponse, error) {
	var out PretransactResponse
	err := c.do(ctx, "pretransact", http.MethodGet, c.BaseURL+"/pretransact", c.publicHeaders(), nil, &out)
	return out, err
}

// Transact charges a token in one authorize+capture call.
func (c *Client) Transact(ctx context.Context, req TransactRequest) (TransactResponse, error) {
	var out TransactResponse
	err := c.do(ctx, "transact", http.MethodPost, c.BaseURL+"/transact", c.publicHeaders(), req, &out)
	return out, err
}

// Authorize reserves funds without capturing them.
func (c *Client) Authorize(ctx context.Context, req TransactRequest) (TransactResponse, error) {
	var out TransactResponse
	err := c.do(ctx, "authorize", http.MethodPost, c.BaseURL+"/card/authorize", c.publicHeaders(), req, &out)
	return out, err
}

// Capture settles a previously authorized transaction.
func (c *Client) Capture(ctx context.Context, orderID string) (TransactResponse, error) {
	return c.transactionCall(ctx, "capture", orderID)
}

// Refund refunds a settled transaction.
func (c *Client) Refund(ctx context.Context, orderID string) (TransactResponse, error) {
	return c.transactionCall(ctx, "refund", orderID)
}

// Void cancels an authorization before capture.
func (c *Client) Void(ctx context.Context, orderID string) (TransactResponse, error) {
	return c.transactionCall(ctx, "void", orderID)
}

func (c *Client) transactionCall(ctx context.Context, action, orderID string) (TransactResponse, error) {
	var out TransactResponse
	body := map[string]string{"orderId": orderID}
	err := c.do(ctx, "transaction."+action, http.MethodPost, c.BaseURL+"/transaction/"+action, c.publicHeaders(), body, &out)
	return out, err
}

// CreateSubscription registers a recurring charge from stored opaque data.
func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (SubscriptionResponse, error) {
	var out SubscriptionResponse
	err := c.do(ctx, "subscription.create", http.MethodPost, c.BaseURL+"/subscription", c.publicHeaders(), req, &out)
	return out, err
}

// GetSubscription fetches a subscription record.
func (c *Client) GetSubscription(ctx context.Context, id string) (SubscriptionResponse, error) {
	var out SubscriptionResponse
	err := c.do(ctx, "subscription.get", http.MethodGet, c.BaseURL+"/subscription/"+url.PathEscape(id), c.publicHeaders(), nil, &out)
	return out, err
}

// DeleteSubscription cancels a subscription on the processor side.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	return c.do(ctx, "subscription.delete", http.MethodDelete, c.BaseURL+"/subscription/"+url.PathEscape(id), c.publicHeaders(), nil, nil)
}

// Payout triggers an admin payout. Requires the secret key.
func (c *Client) Payout(ctx context.Context, req PayoutRequest) (PayoutResponse, error) {
	if c.SecretKey == "" {
		return nil, ErrNoSecretKey
	}
	headers := map[string]string{
		"Authorization": "Basic " + c.SecretKey,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	var out PayoutResponse
	err := c.do(ctx, "admin.payout", http.MethodPost, c.AdminURL+"/payout", headers, req, &out)
	return out, err
}

func (c *Client) publicHeaders() map[string]string {
	return map[string]string{
		"x-publishable-api-key": c.PublishableKey,
		"Content-Type":          "application/json",
		"Accept":                "application/json",
	}
}

func (c *Client) do(ctx context.Context, operation, method, rawURL string, headers map[string]string, payload, out any) error {
	ctx, span := tracer.Start(ctx, "processor."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("processor.operation", operation),
		attribute.String("http.method", method),
	)

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("processor: encode %s payload: %w", operation, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("processor: build %s request: %w", operation, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		span.RecordError(err)
		obs.ProcessorCallLatency.WithLabelValues(operation, "transport_error").Observe(obs.DurationMillis(time.Since(start)))
		c.Log.Error().Err(err).Str("operation", operation).Msg("processor transport failure")
		return &APIError{Status: 0, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		obs.ProcessorCallLatency.WithLabelValues(operation, "transport_error").Observe(obs.DurationMillis(time.Since(start)))
		return &APIError{Status: 0, Message: err.Error()}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		obs.ProcessorCallLatency.WithLabelValues(operation, "error").Observe(obs.DurationMillis(time.Since(start)))
		message := extractMessage(raw)
		c.Log.Error().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("processor api error")
		return &APIError{Status: resp.StatusCode, Body: string(raw), Message: message}
	}
	obs.ProcessorCallLatency.WithLabelValues(operation, "ok").Observe(obs.DurationMillis(time.Since(start)))

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("processor: decode %s response: %w", operation, err)
	}
	return nil
}

func extractMessage(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && strings.TrimSpace(envelope.Message) != "" {
		return envelope.Message
	}
	return "unknown processor error"
}
