package api

import (
	"net/http"

	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
)

// getRateLimitsHandler returns the per-endpoint buckets and how many client IPs are tracked
func (s *Server) getRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"tracked_clients": s.rateLimiter.TrackedClients(),
		"endpoint_limits": s.endpointRateLimiter.Limits(),
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response})
}

// setEndpointRateLimitHandler replaces the bucket of one endpoint, keyed "METHOD:/api/v1/path/{template}"
func (s *Server) setEndpointRateLimitHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint   string  `json:"endpoint"`
		MaxTokens  float64 `json:"max_tokens"`
		RefillRate float64 `json:"refill_rate"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	if req.Endpoint == "" {
		s.respondWithError(w, http.StatusBadRequest, apperrors.CodeValidation, "Endpoint is required")
		return
	}
	if req.MaxTokens <= 0 || req.RefillRate <= 0 {
		s.respondWithError(w, http.StatusBadRequest, apperrors.CodeValidation, "MaxTokens and RefillRate must be greater than zero")
		return
	}

	s.endpointRateLimiter.SetLimit(req.Endpoint, req.MaxTokens, req.RefillRate)
	s.logger.Info("Endpoint rate limit updated", "endpoint", req.Endpoint, "maxTokens", req.MaxTokens, "refillRate", req.RefillRate)

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"endpoint":    req.Endpoint,
			"max_tokens":  req.MaxTokens,
			"refill_rate": req.RefillRate,
		},
	})
}
