// Command checkout is a headless checkout client. It bootstraps from the
// gateway's params endpoint, tokenizes a card directly against the processor
// and submits the opaque token to the gateway. Raw card data never reaches
// the gateway.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/chargx/storefront-gateway/internal/checkout"
	"github.com/chargx/storefront-gateway/internal/obs"
	"github.com/chargx/storefront-gateway/internal/processor"
	"github.com/chargx/storefront-gateway/internal/tokenize"
)

func main() {
	var (
		gatewayURL   = flag.String("gateway", envOrDefault("GATEWAY_URL", "http://localhost:8080"), "merchant gateway base URL")
		processorURL = flag.String("processor", envOrDefault("CHARGX_API_URL", "https://api.chargx.io"), "processor base URL")
		orderID      = flag.String("order", "", "order id registered with the gateway")
		cardNumber   = flag.String("card", "", "card number")
		expiry       = flag.String("expiry", "", "card expiry, MM/YY")
		cvc          = flag.String("cvc", "", "card security code")
		timeout      = flag.Duration("timeout", 30*time.Second, "per-request timeout")
		sessionID    = flag.String("session", "", "checkout session id (default a fresh id)")
		redisURL     = flag.String("redis", envOrDefault("REDIS_URL", ""), "redis URL for shared attempt state (default in-memory)")
	)
	flag.Parse()

	logger := obs.NewLogger("console", envOrDefault("OBS_LOG_LEVEL", "info"))

	if *orderID == "" || *cardNumber == "" || *expiry == "" || *cvc == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: *timeout}
	params, err := fetchParams(ctx, httpClient, *gatewayURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("fetch gateway params")
	}
	logger.Info().
		Str("currency", params.Currency).
		Bool("testMode", params.TestMode).
		Msg("gateway params loaded")

	procClient := processor.NewClient(*processorURL, "", params.PublishableKey, "", *timeout, logger)
	engine := &tokenize.Engine{
		Fetcher:        procClient,
		PublishableKey: params.PublishableKey,
		HTTP:           httpClient,
		Log:            logger,
	}

	// A shared redis store lets concurrent invocations for one session
	// collapse to a single attempt, the way browser tabs would.
	var attempts checkout.AttemptStore = checkout.NewMemoryStore()
	if *redisURL != "" {
		redisOpts, err := redis.ParseURL(*redisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		attempts = &checkout.RedisStore{R: redis.NewClient(redisOpts), TTL: checkout.DefaultAttemptTTL}
	}

	orchestrator := &checkout.Orchestrator{
		Store:     attempts,
		Tokenizer: engine,
		Log:       logger,
	}
	submission := &gatewaySubmission{
		client:  httpClient,
		baseURL: strings.TrimRight(*gatewayURL, "/"),
		orderID: *orderID,
	}

	session := *sessionID
	if session == "" {
		session = uuid.NewString()
	}

	card := tokenize.CardInput{Number: *cardNumber, Expiry: *expiry, CVC: *cvc}
	if err := orchestrator.PlaceOrder(ctx, session, card, submission); err != nil {
		logger.Fatal().Err(err).Msg("checkout failed")
	}
	if submission.redirect != "" {
		logger.Info().Str("redirect", submission.redirect).Msg("checkout settled")
	} else {
		logger.Info().Msg("checkout settled")
	}
}

type gatewayParams struct {
	PublishableKey string `json:"publishableKey"`
	Currency       string `json:"currency"`
	TestMode       bool   `json:"testMode"`
}

func fetchParams(ctx context.Context, client *http.Client, baseURL string) (gatewayParams, error) {
	var params gatewayParams
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/v1/gateway/params", nil)
	if err != nil {
		return params, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return params, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return params, fmt.Errorf("gateway params: unexpected status %d", resp.StatusCode)
	}
	return params, json.NewDecoder(resp.Body).Decode(&params)
}

// gatewaySubmission submits an opaque token to the gateway's card checkout
// endpoint and interprets the checkout envelope.
type gatewaySubmission struct {
	client   *http.Client
	baseURL  string
	orderID  string
	redirect string
}

func (g *gatewaySubmission) Proceed(ctx context.Context, opaque processor.OpaqueData) error {
	payload, err := json.Marshal(struct {
		OrderID    string               `json:"orderId"`
		OpaqueData processor.OpaqueData `json:"opaqueData"`
	}{OrderID: g.orderID, OpaqueData: opaque})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/v1/checkout/card", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Result   string `json:"result"`
		Redirect string `json:"redirect"`
		Messages string `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode checkout response: %w", err)
	}
	if envelope.Result != "success" {
		msg := envelope.Messages
		if msg == "" {
			msg = fmt.Sprintf("checkout rejected with status %d", resp.StatusCode)
		}
		return fmt.Errorf("checkout: %s", msg)
	}
	g.redirect = envelope.Redirect
	return nil
}

func (g *gatewaySubmission) OnError(err error) {
	fmt.Fprintln(os.Stderr, "checkout error:", err)
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
