package order

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &RedisStore{R: client, TTL: time.Hour}
}

func sampleOrder() Order {
	return Order{
		ID:       "ord-9",
		Amount:   "12.00",
		Currency: "USD",
		Customer: Customer{Name: "Alan Turing", Email: "alan@example.com"},
		Billing:  Address{Street: "1 Bletchley Park", CountryCode: "GB"},
		Status:   StatusPending,
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newRedisStore(t)
	require.NoError(t, store.Put(t.Context(), sampleOrder()))

	got, err := store.Get(t.Context(), "ord-9")
	require.NoError(t, err)
	require.Equal(t, "12.00", got.Amount)
	require.NotNil(t, got.Meta)
}

func TestRedisStoreMissingOrder(t *testing.T) {
	store := newRedisStore(t)
	_, err := store.Get(t.Context(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.SetStatus(t.Context(), "nope", StatusPaid), ErrNotFound)
}

func TestRedisStoreMutations(t *testing.T) {
	store := newRedisStore(t)
	require.NoError(t, store.Put(t.Context(), sampleOrder()))

	require.NoError(t, store.SetStatus(t.Context(), "ord-9", StatusPaid))
	require.NoError(t, store.SetMeta(t.Context(), "ord-9", MetaOrderID, "tx-1"))

	got, err := store.Get(t.Context(), "ord-9")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)
	require.Equal(t, "tx-1", got.MetaValue(MetaOrderID))

	require.NoError(t, store.DeleteMeta(t.Context(), "ord-9", MetaOrderID))
	got, err = store.Get(t.Context(), "ord-9")
	require.NoError(t, err)
	require.Empty(t, got.MetaValue(MetaOrderID))
}

func newOrderRouter(store *RedisStore) http.Handler {
	h := &Handler{Store: store, Put: store, Log: zerolog.Nop()}
	r := chi.NewRouter()
	r.Post("/orders", h.Upsert)
	r.Get("/orders/{orderId}", h.Get)
	return r
}

func TestUpsertRegistersOrder(t *testing.T) {
	store := newRedisStore(t)
	body := `{"id":"ord-9","amount":"12.00","currency":"USD","customer":{"name":"Alan Turing"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newOrderRouter(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got, err := store.Get(t.Context(), "ord-9")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestUpsertPreservesMeta(t *testing.T) {
	store := newRedisStore(t)
	require.NoError(t, store.Put(t.Context(), sampleOrder()))
	require.NoError(t, store.SetMeta(t.Context(), "ord-9", MetaOrderID, "tx-1"))

	body := `{"id":"ord-9","amount":"15.00","currency":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newOrderRouter(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got, err := store.Get(t.Context(), "ord-9")
	require.NoError(t, err)
	require.Equal(t, "15.00", got.Amount)
	require.Equal(t, "tx-1", got.MetaValue(MetaOrderID))
}

func TestUpsertValidation(t *testing.T) {
	store := newRedisStore(t)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"id":"ord-9"}`))
	rec := httptest.NewRecorder()
	newOrderRouter(store).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownOrder(t *testing.T) {
	store := newRedisStore(t)
	req := httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
	rec := httptest.NewRecorder()
	newOrderRouter(store).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
