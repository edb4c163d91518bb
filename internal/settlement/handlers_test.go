package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chargx/storefront-gateway/internal/checkout"
	"github.com/chargx/storefront-gateway/internal/order"
	"github.com/chargx/storefront-gateway/internal/processor"
)

func newHandler(api *fakeAPI, store *order.MemoryStore) *Handler {
	return &Handler{
		Svc:        newService(api, store, &fakeCart{}, ModeSale),
		Params:     GatewayParams{CardGatewayID: "chargx_card", PublishableKey: "pk_test", Currency: "USD", TestMode: true},
		ReturnBase: "https://shop.example.com",
		Log:        zerolog.Nop(),
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) checkoutEnvelope {
	t.Helper()
	var envelope checkoutEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestSettleCardHandlerSuccess(t *testing.T) {
	store := order.NewMemoryStore()
	store.Put(testOrder())
	h := newHandler(&fakeAPI{resp: okResponse()}, store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/card",
		strings.NewReader(`{"orderId":"ord-1","opaqueData":`+cardToken+`}`))
	h.SettleCard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.Equal(t, "success", envelope.Result)
	require.Equal(t, "https://shop.example.com/order/ord-1/received", envelope.Redirect)
}

func TestSettleCardHandlerDeclineShowsProcessorMessage(t *testing.T) {
	store := order.NewMemoryStore()
	store.Put(testOrder())
	api := &fakeAPI{err: &processor.APIError{
		Status:  http.StatusPaymentRequired,
		Body:    `{"message":"insufficient_funds"}`,
		Message: "insufficient_funds",
	}}
	h := newHandler(api, store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/card",
		strings.NewReader(`{"orderId":"ord-1","opaqueData":`+cardToken+`}`))
	h.SettleCard(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.Equal(t, "failure", envelope.Result)
	require.Equal(t, "insufficient_funds", envelope.Messages)

	ord, err := store.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, order.StatusFailed, ord.Status)
}

func TestSettleCardHandlerMissingToken(t *testing.T) {
	h := newHandler(&fakeAPI{}, order.NewMemoryStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/card",
		strings.NewReader(`{"orderId":"ord-1"}`))
	h.SettleCard(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.Equal(t, "failure", envelope.Result)
	require.Contains(t, envelope.Messages, "tokenizing your card")
}

func TestSettleWalletHandlerSuccess(t *testing.T) {
	store := order.NewMemoryStore()
	store.Put(testOrder())
	api := &fakeAPI{resp: okResponse()}
	h := newHandler(api, store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/wallet",
		strings.NewReader(`{"orderId":"ord-1","wallet":"google_pay","token":"YmxvYg=="}`))
	h.SettleWallet(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", decodeEnvelope(t, rec).Result)
	require.Len(t, api.transacts, 1)
	require.Equal(t, processor.GooglePayDescriptor, api.transacts[0].OpaqueData.DataDescriptor)
}

func TestSettleWalletHandlerRejectsUnknownWallet(t *testing.T) {
	h := newHandler(&fakeAPI{}, order.NewMemoryStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/wallet",
		strings.NewReader(`{"orderId":"ord-1","wallet":"samsung_pay","token":"x"}`))
	h.SettleWallet(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGatewayParamsHandler(t *testing.T) {
	h := newHandler(&fakeAPI{}, order.NewMemoryStore())

	rec := httptest.NewRecorder()
	h.GatewayParams(rec, httptest.NewRequest(http.MethodGet, "/api/v1/gateway/params", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var params GatewayParams
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &params))
	require.Equal(t, "pk_test", params.PublishableKey)
	require.Equal(t, "chargx_card", params.CardGatewayID)
	require.True(t, params.TestMode)
}

func adminRequest(t *testing.T, h http.HandlerFunc, orderID string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/admin/orders/{orderId}/op", h)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/orders/"+orderID+"/op", nil)
	r.ServeHTTP(rec, req)
	return rec
}

func TestRefundHandlerWithoutRemoteTransaction(t *testing.T) {
	store := order.NewMemoryStore()
	store.Put(testOrder())
	h := newHandler(&fakeAPI{resp: okResponse()}, store)

	rec := adminRequest(t, h.Refund, "ord-1")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NO_REMOTE_TRANSACTION")
}

func TestCaptureHandlerSuccess(t *testing.T) {
	store := order.NewMemoryStore()
	ord := testOrder()
	ord.Meta = map[string]string{order.MetaOrderID: "tx-1"}
	store.Put(ord)
	h := newHandler(&fakeAPI{resp: okResponse()}, store)

	rec := adminRequest(t, h.Capture, "ord-1")
	require.Equal(t, http.StatusOK, rec.Code)
}

type fakePayouts struct {
	requests []processor.PayoutRequest
	resp     processor.PayoutResponse
	err      error
}

func (f *fakePayouts) Payout(_ context.Context, req processor.PayoutRequest) (processor.PayoutResponse, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func TestSubmitPayout(t *testing.T) {
	h := newHandler(&fakeAPI{}, order.NewMemoryStore())
	payouts := &fakePayouts{resp: processor.PayoutResponse{"status": "queued"}}
	h.Payouts = payouts

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/payout", strings.NewReader(`{"amount":"100"}`))
	h.SubmitPayout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, payouts.requests, 1)
	require.Equal(t, "100", payouts.requests[0]["amount"])
}

func TestSubmitPayoutWithoutSecretKey(t *testing.T) {
	h := newHandler(&fakeAPI{}, order.NewMemoryStore())
	h.Payouts = &fakePayouts{err: processor.ErrNoSecretKey}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/payout", strings.NewReader(`{}`))
	h.SubmitPayout(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "SECRET_KEY_MISSING")
}

func TestSettleCardRejectsSubmissionAlreadyInFlight(t *testing.T) {
	store := order.NewMemoryStore()
	store.Put(testOrder())
	h := newHandler(&fakeAPI{resp: okResponse()}, store)
	attempts := checkout.NewMemoryStore()
	h.Gate = &checkout.Gate{Store: attempts}

	// Another tab's submission for the same order holds the slot.
	inFlight := checkout.Attempt{SessionID: "order:ord-1", State: checkout.StateSubmitting}
	require.NoError(t, attempts.Transition(context.Background(), inFlight, checkout.StateIdle))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/card",
		strings.NewReader(`{"orderId":"ord-1","opaqueData":`+cardToken+`}`))
	h.SettleCard(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.Equal(t, "failure", envelope.Result)
	require.Contains(t, envelope.Messages, "already being processed")

	// Once the first submission finishes, the slot frees up.
	require.NoError(t, attempts.Reset(context.Background(), "order:ord-1"))
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/checkout/card",
		strings.NewReader(`{"orderId":"ord-1","opaqueData":`+cardToken+`}`))
	h.SettleCard(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSettleCardReleasesGateAfterSettlement(t *testing.T) {
	store := order.NewMemoryStore()
	store.Put(testOrder())
	h := newHandler(&fakeAPI{resp: okResponse()}, store)
	attempts := checkout.NewMemoryStore()
	h.Gate = &checkout.Gate{Store: attempts}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/card",
		strings.NewReader(`{"orderId":"ord-1","opaqueData":`+cardToken+`}`))
	h.SettleCard(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	attempt, err := attempts.Get(context.Background(), "order:ord-1")
	require.NoError(t, err)
	require.Equal(t, checkout.StateIdle, attempt.State)
}
