package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, formatted string) Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lim, err := New(client, formatted, "test:relay")
	require.NoError(t, err)
	return Handler{Limiter: lim}
}

func TestMiddlewareAllowsWithinLimit(t *testing.T) {
	h := newTestHandler(t, "3-M")
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := h.Middleware(next)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/validate", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/validate", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "RATE_LIMITED")
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddlewareSetsHeaders(t *testing.T) {
	h := newTestHandler(t, "5-M")
	wrapped := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/validate", nil))
	require.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddlewarePassesThroughWithoutLimiter(t *testing.T) {
	wrapped := Handler{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/validate", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareKeysPerClient(t *testing.T) {
	h := newTestHandler(t, "1-M")
	h.Key = func(r *http.Request) string { return r.Header.Get("X-Client") }
	wrapped := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodPost, "/validate", nil)
	first.Header.Set("X-Client", "a")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodPost, "/validate", nil)
	second.Header.Set("X-Client", "b")
	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, second)
	require.Equal(t, http.StatusOK, rec2.Code)
}
