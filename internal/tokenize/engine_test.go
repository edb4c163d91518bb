package tokenize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chargx/storefront-gateway/internal/processor"
)

type stubFetcher struct {
	resp  processor.PretransactResponse
	err   error
	calls int
}

func (s *stubFetcher) Pretransact(context.Context) (processor.PretransactResponse, error) {
	s.calls++
	return s.resp, s.err
}

func fixedNow() time.Time {
	return time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12/25", "1225"},
		{"1/25", "0125"},
		{"01/2025", "0125"},
		{"12 / 29", "1229"},
	}
	for _, tc := range tests {
		got, err := ParseExpiry(tc.in, fixedNow())
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseExpiryExpandsWithCurrentCentury(t *testing.T) {
	// Two-digit years resolve against the current century, even when that
	// is calendar-wrong near a century boundary.
	got, err := ParseExpiry("06/00", time.Date(2090, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "0600", got)
}

func TestParseExpiryRejectsBadShapes(t *testing.T) {
	for _, in := range []string{"", "1225", "13/25", "00/25", "12/2", "12/20255", "ab/cd"} {
		_, err := ParseExpiry(in, fixedNow())
		var fieldErr *FieldError
		require.ErrorAs(t, err, &fieldErr, in)
		require.Equal(t, FieldExpiry, fieldErr.Field, in)
	}
}

func descriptorParams() json.RawMessage {
	return json.RawMessage(`{"cardNumber":"#cardNumber#","expirationDate":"#expirationDate#","cardCode":"#cardCode#"}`)
}

func TestTokenizeSubstitutesPlaceholders(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"opaqueData":{"dataDescriptor":"COMMON.ACCEPT.INAPP.PAYMENT","dataValue":"blob123"}}`))
	}))
	defer srv.Close()

	fetcher := &stubFetcher{resp: processor.PretransactResponse{
		CardTokenRequestURL:    srv.URL,
		CardTokenRequestParams: descriptorParams(),
	}}
	engine := &Engine{Fetcher: fetcher, PublishableKey: "pk_test", Now: fixedNow}

	opaque, err := engine.Tokenize(context.Background(), CardInput{
		Number: "4242 4242 4242 4242",
		Expiry: "12/25",
		CVC:    "123",
	})
	require.NoError(t, err)
	require.Equal(t, "blob123", opaque.DataValue)
	require.Equal(t, "4242424242424242", got["cardNumber"])
	require.Equal(t, "1225", got["expirationDate"])
	require.Equal(t, "123", got["cardCode"])
}

func TestTokenizeStopsOnMissingTokenURL(t *testing.T) {
	fetcher := &stubFetcher{resp: processor.PretransactResponse{
		CardTokenRequestParams: descriptorParams(),
	}}
	engine := &Engine{Fetcher: fetcher, PublishableKey: "pk_test", Now: fixedNow}

	_, err := engine.Tokenize(context.Background(), CardInput{Number: "4242424242424242", Expiry: "12/25", CVC: "123"})
	require.ErrorIs(t, err, ErrBadDescriptor)
	require.Equal(t, 1, fetcher.calls)
}

func TestTokenizeRequiresPublishableKey(t *testing.T) {
	engine := &Engine{Fetcher: &stubFetcher{}, Now: fixedNow}
	_, err := engine.Tokenize(context.Background(), CardInput{Number: "4242424242424242", Expiry: "12/25", CVC: "123"})
	require.ErrorIs(t, err, ErrNoPublishableKey)
}

func TestTokenizePropagatesPretransactFailure(t *testing.T) {
	fetcher := &stubFetcher{err: &processor.APIError{Status: 503, Message: "down"}}
	engine := &Engine{Fetcher: fetcher, PublishableKey: "pk_test", Now: fixedNow}

	_, err := engine.Tokenize(context.Background(), CardInput{Number: "4242424242424242", Expiry: "12/25", CVC: "123"})
	apiErr, ok := processor.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, 503, apiErr.Status)
}

func TestTokenizeValidationPerField(t *testing.T) {
	fetcher := &stubFetcher{resp: processor.PretransactResponse{
		CardTokenRequestURL:    "https://tokens.example/issue",
		CardTokenRequestParams: descriptorParams(),
	}}
	engine := &Engine{Fetcher: fetcher, PublishableKey: "pk_test", Now: fixedNow}

	tests := []struct {
		name  string
		in    CardInput
		field string
	}{
		{"missing number", CardInput{Expiry: "12/25", CVC: "123"}, FieldCardNumber},
		{"missing expiry", CardInput{Number: "4242424242424242", CVC: "123"}, FieldExpiry},
		{"missing cvc", CardInput{Number: "4242424242424242", Expiry: "12/25", CVC: "  "}, FieldCVC},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Tokenize(context.Background(), tc.in)
			var fieldErr *FieldError
			require.ErrorAs(t, err, &fieldErr)
			require.Equal(t, tc.field, fieldErr.Field)
		})
	}
}

func TestTokenizeFallsBackToTokenField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok_abc"}`))
	}))
	defer srv.Close()

	fetcher := &stubFetcher{resp: processor.PretransactResponse{
		CardTokenRequestURL:    srv.URL,
		CardTokenRequestParams: descriptorParams(),
	}}
	engine := &Engine{Fetcher: fetcher, PublishableKey: "pk_test", Now: fixedNow}

	opaque, err := engine.Tokenize(context.Background(), CardInput{Number: "4242424242424242", Expiry: "12/25", CVC: "123"})
	require.NoError(t, err)
	require.Equal(t, "tok_abc", opaque.Token)
}

func TestTokenizeRejectsTokenlessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	fetcher := &stubFetcher{resp: processor.PretransactResponse{
		CardTokenRequestURL:    srv.URL,
		CardTokenRequestParams: descriptorParams(),
	}}
	engine := &Engine{Fetcher: fetcher, PublishableKey: "pk_test", Now: fixedNow}

	_, err := engine.Tokenize(context.Background(), CardInput{Number: "4242424242424242", Expiry: "12/25", CVC: "123"})
	require.ErrorIs(t, err, ErrNoToken)
}

func TestTokenizeErrorIsNotFieldError(t *testing.T) {
	engine := &Engine{Fetcher: &stubFetcher{err: errors.New("boom")}, PublishableKey: "pk_test", Now: fixedNow}
	_, err := engine.Tokenize(context.Background(), CardInput{Number: "4", Expiry: "12/25", CVC: "1"})
	var fieldErr *FieldError
	require.False(t, errors.As(err, &fieldErr))
}
