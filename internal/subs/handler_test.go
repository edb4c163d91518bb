package subs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chargx/storefront-gateway/internal/order"
	"github.com/chargx/storefront-gateway/internal/processor"
)

func newTestRouter(svc *Service) http.Handler {
	h := &Handler{Svc: svc, Log: zerolog.Nop()}
	r := chi.NewRouter()
	r.Get("/admin/subscriptions/{orderId}", h.Status)
	r.Delete("/admin/subscriptions/{orderId}", h.Cancel)
	return r
}

func TestCancelEndpoint(t *testing.T) {
	api := &fakeSubsAPI{}
	svc, store := newService(t, api, recurringOrder())
	require.NoError(t, store.SetMeta(t.Context(), "ord-7", order.MetaSubscriptionID, "sub-42"))

	req := httptest.NewRequest(http.MethodDelete, "/admin/subscriptions/ord-7", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"cancelled"}`, rec.Body.String())
	require.Equal(t, []string{"sub-42"}, api.deleted)
}

func TestStatusEndpoint(t *testing.T) {
	api := &fakeSubsAPI{}
	svc, store := newService(t, api, recurringOrder())
	require.NoError(t, store.SetMeta(t.Context(), "ord-7", order.MetaSubscriptionID, "sub-42"))

	req := httptest.NewRequest(http.MethodGet, "/admin/subscriptions/ord-7", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var sub processor.SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.Equal(t, "sub-42", sub.ID)
	require.Equal(t, "active", sub.Status)
}

func TestStatusWithoutSubscription(t *testing.T) {
	api := &fakeSubsAPI{}
	svc, _ := newService(t, api, recurringOrder())

	req := httptest.NewRequest(http.MethodGet, "/admin/subscriptions/ord-7", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NO_SUBSCRIPTION")
}

func TestCancelUnknownOrder(t *testing.T) {
	api := &fakeSubsAPI{}
	svc, _ := newService(t, api, recurringOrder())

	req := httptest.NewRequest(http.MethodDelete, "/admin/subscriptions/missing", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "ORDER_NOT_FOUND")
}
