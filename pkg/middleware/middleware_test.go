package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-orders/pkg/logger"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRateLimiterMiddleware_PerIP(t *testing.T) {
	m := NewRateLimiterMiddleware(&RateLimiterConfig{IPMaxTokens: 1, IPRefillRate: 0, IdleTTL: time.Minute}, logger.NewNop())
	defer m.Stop()
	h := m.Middleware(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	other.RemoteAddr = "192.0.2.2:1234"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, other)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, m.TrackedClients())
}

func TestClientIP_ForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:5555"

	assert.Equal(t, "203.0.113.9", ClientIP(req, true))
	assert.Equal(t, "10.0.0.1", ClientIP(req, false))
}

func TestEndpointRateLimiter_SharesBucketPerTemplate(t *testing.T) {
	m := NewEndpointRateLimiterMiddleware(1, 0, logger.NewNop())

	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/orders/{number}", okHandler).Methods(http.MethodGet)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ORD-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ORD-2", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	_, ok := m.Limits()["GET:/orders/{number}"]
	assert.True(t, ok)
}

func TestLogging_SetsRequestID(t *testing.T) {
	h := Logging(logger.NewNop())(http.HandlerFunc(okHandler))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestRecover_ReturnsInternalError(t *testing.T) {
	h := Recover(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
