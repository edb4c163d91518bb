package tokenize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/obs"
	"github.com/chargx/storefront-gateway/internal/processor"
)

// Placeholder tokens in the processor's templated token-request params.
const (
	placeholderCardNumber = "#cardNumber#"
	placeholderExpiry     = "#expirationDate#"
	placeholderCardCode   = "#cardCode#"
)

var (
	// ErrNoPublishableKey means the engine has no publishable key to start with.
	ErrNoPublishableKey = errors.New("tokenize: publishable key is not configured")
	// ErrBadDescriptor means the pretransact response lacks the token request URL or params.
	ErrBadDescriptor = errors.New("tokenize: pretransact response missing token request descriptor")
	// ErrNoToken means the token response carries neither opaqueData nor token.
	ErrNoToken = errors.New("tokenize: processor response contains no token")
)

// DescriptorFetcher fetches a fresh pretransact descriptor.
type DescriptorFetcher interface {
	Pretransact(ctx context.Context) (processor.PretransactResponse, error)
}

// Engine runs the two-round-trip card tokenization protocol. The token
// request goes straight to the processor-supplied URL; the merchant server
// never sees the card fields.
type Engine struct {
	Fetcher        DescriptorFetcher
	PublishableKey string
	HTTP           *http.Client
	Log            zerolog.Logger

	// Now is overridable for expiry tests; defaults to time.Now.
	Now func() time.Time
}

// Tokenize validates the card input, fetches a descriptor, substitutes the
// card fields into the templated params, and exchanges them for opaque data.
func (e *Engine) Tokenize(ctx context.Context, in CardInput) (processor.OpaqueData, error) {
	if e.Fetcher == nil || strings.TrimSpace(e.PublishableKey) == "" {
		obs.TokenizationTotal.WithLabelValues("config_error").Inc()
		return processor.OpaqueData{}, ErrNoPublishableKey
	}

	descriptor, err := e.Fetcher.Pretransact(ctx)
	if err != nil {
		obs.TokenizationTotal.WithLabelValues("pretransact_error").Inc()
		return processor.OpaqueData{}, err
	}
	if strings.TrimSpace(descriptor.CardTokenRequestURL) == "" || len(descriptor.CardTokenRequestParams) == 0 {
		obs.TokenizationTotal.WithLabelValues("bad_descriptor").Inc()
		return processor.OpaqueData{}, ErrBadDescriptor
	}

	fields, err := in.validate(e.now())
	if err != nil {
		obs.TokenizationTotal.WithLabelValues("validation_error").Inc()
		return processor.OpaqueData{}, err
	}

	body := substitute(descriptor.CardTokenRequestParams, fields)
	opaque, err := e.requestToken(ctx, descriptor.CardTokenRequestURL, body)
	if err != nil {
		obs.TokenizationTotal.WithLabelValues("token_error").Inc()
		return processor.OpaqueData{}, err
	}
	obs.TokenizationTotal.WithLabelValues("ok").Inc()
	return opaque, nil
}

// substitute performs literal placeholder replacement on the raw JSON
// template, matching the processor's documented contract.
func substitute(params json.RawMessage, fields cardFields) []byte {
	body := string(params)
	body = strings.ReplaceAll(body, placeholderCardNumber, fields.Number)
	body = strings.ReplaceAll(body, placeholderExpiry, fields.ExpiryMMYY)
	body = strings.ReplaceAll(body, placeholderCardCode, fields.CVC)
	return []byte(body)
}

func (e *Engine) requestToken(ctx context.Context, tokenURL string, body []byte) (processor.OpaqueData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return processor.OpaqueData{}, &processor.APIError{Status: 0, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient().Do(req)
	if err != nil {
		e.Log.Error().Err(err).Msg("token request transport failure")
		return processor.OpaqueData{}, &processor.APIError{Status: 0, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return processor.OpaqueData{}, &processor.APIError{Status: 0, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.Log.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("token request rejected")
		return processor.OpaqueData{}, &processor.APIError{Status: resp.StatusCode, Body: string(raw), Message: "card tokenization failed"}
	}

	// opaqueData is preferred; a bare token field is the fallback shape.
	var envelope struct {
		OpaqueData *processor.OpaqueData `json:"opaqueData"`
		Token      string                `json:"token"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return processor.OpaqueData{}, ErrNoToken
	}
	if envelope.OpaqueData != nil && (envelope.OpaqueData.DataValue != "" || envelope.OpaqueData.Token != "") {
		return *envelope.OpaqueData, nil
	}
	if strings.TrimSpace(envelope.Token) != "" {
		return processor.OpaqueData{Token: envelope.Token}, nil
	}
	return processor.OpaqueData{}, ErrNoToken
}

func (e *Engine) httpClient() *http.Client {
	if e.HTTP != nil {
		return e.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
