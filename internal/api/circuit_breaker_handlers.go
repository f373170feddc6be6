package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-orders/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
)

// getCircuitBreakersHandler returns the state of every collaborator breaker
func (s *Server) getCircuitBreakersHandler(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.deps.Breakers))
	for name := range s.deps.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)

	metrics := make([]circuitbreaker.Metrics, 0, len(names))
	for _, name := range names {
		metrics = append(metrics, s.deps.Breakers[name].BreakerMetrics())
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: metrics})
}

// resetCircuitBreakerHandler forces one breaker closed
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	breaker, ok := s.deps.Breakers[name]
	if !ok {
		s.respondWithError(w, http.StatusNotFound, apperrors.CodeNotFound, "Unknown circuit breaker "+name)
		return
	}
	breaker.ResetBreaker()

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: breaker.BreakerMetrics()})
}
