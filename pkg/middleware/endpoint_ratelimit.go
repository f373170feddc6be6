package middleware

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/ratelimit"
)

// EndpointRateLimiterMiddleware provides per-route rate limiting.
// Routes are keyed by method and mux path template so /orders/{id} shares one bucket.
type EndpointRateLimiterMiddleware struct {
	limiters      map[string]*ratelimit.TokenBucket
	mu            sync.RWMutex
	defaultTokens float64
	defaultRate   float64
	logger        logger.Logger
}

// EndpointLimit describes one configured bucket
type EndpointLimit struct {
	MaxTokens  float64 `json:"max_tokens"`
	RefillRate float64 `json:"refill_rate"`
	Available  float64 `json:"available"`
}

// NewEndpointRateLimiterMiddleware creates a new EndpointRateLimiterMiddleware
func NewEndpointRateLimiterMiddleware(defaultTokens, defaultRate float64, logger logger.Logger) *EndpointRateLimiterMiddleware {
	return &EndpointRateLimiterMiddleware{
		limiters:      make(map[string]*ratelimit.TokenBucket),
		defaultTokens: defaultTokens,
		defaultRate:   defaultRate,
		logger:        logger,
	}
}

// SetLimit sets the rate limit for an endpoint key ("METHOD:/path/{template}")
func (m *EndpointRateLimiterMiddleware) SetLimit(endpoint string, maxTokens, refillRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limiters[endpoint] = ratelimit.NewTokenBucket(maxTokens, refillRate)
}

func (m *EndpointRateLimiterMiddleware) getLimiter(endpoint string) *ratelimit.TokenBucket {
	m.mu.RLock()
	limiter, exists := m.limiters[endpoint]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists = m.limiters[endpoint]; exists {
		return limiter
	}
	limiter = ratelimit.NewTokenBucket(m.defaultTokens, m.defaultRate)
	m.limiters[endpoint] = limiter
	return limiter
}

// Middleware returns a middleware function for per-endpoint rate limiting
func (m *EndpointRateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := EndpointKey(r)

		if !m.getLimiter(endpoint).Allow() {
			m.logger.Warn("Endpoint rate limit exceeded",
				"endpoint", endpoint,
				"path", r.URL.Path)
			tooManyRequests(w, "5", "Endpoint rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// EndpointKey returns the bucket key for r
func EndpointKey(r *http.Request) string {
	path := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			path = tpl
		}
	}
	return r.Method + ":" + path
}

// Limits returns all configured endpoint limits
func (m *EndpointRateLimiterMiddleware) Limits() map[string]EndpointLimit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]EndpointLimit, len(m.limiters))
	for endpoint, limiter := range m.limiters {
		result[endpoint] = EndpointLimit{
			MaxTokens:  limiter.MaxTokens(),
			RefillRate: limiter.RefillRate(),
			Available:  limiter.Available(),
		}
	}
	return result
}
