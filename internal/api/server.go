package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/internal/outbox"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/circuitbreaker"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/middleware"
)

// Breaker is a collaborator client whose circuit breaker can be inspected and reset
type Breaker interface {
	BreakerMetrics() circuitbreaker.Metrics
	ResetBreaker()
}

// Dependencies are the services the HTTP layer exposes
type Dependencies struct {
	Orders        *service.OrderService
	Ledger        *service.PaymentLedger
	Engine        *service.VerificationEngine
	Sweeper       *service.PendingOrderSweeper
	DeadLetters   *repository.DeadLetterRepository
	DeadLetterJob *outbox.DeadLetterProcessor
	Breakers      map[string]Breaker
}

// Server is the HTTP front of the order service
type Server struct {
	config              *config.Config
	logger              logger.Logger
	router              *mux.Router
	httpServer          *http.Server
	deps                Dependencies
	rateLimiter         *middleware.RateLimiterMiddleware
	endpointRateLimiter *middleware.EndpointRateLimiterMiddleware
}

// NewServer builds the router over deps
func NewServer(cfg *config.Config, deps Dependencies, logger logger.Logger) *Server {
	r := mux.NewRouter()

	s := &Server{
		config: cfg,
		logger: logger,
		router: r,
		deps:   deps,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		rateLimiter: middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
			IPMaxTokens:       cfg.RateLimit.Burst,
			IPRefillRate:      cfg.RateLimit.PerSecond,
			IdleTTL:           10 * time.Minute,
			TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		}, logger),
		endpointRateLimiter: middleware.NewEndpointRateLimiterMiddleware(200, 100, logger),
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// limited applies the per-IP write limit
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return s.rateLimiter.Middleware(h)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recover(s.logger))
	s.router.Use(middleware.Logging(s.logger))

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.endpointRateLimiter.Middleware)

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	api.Handle("/orders", s.limited(s.createOrderHandler)).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.listOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/summary", s.orderSummaryHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{number}", s.getOrderHandler).Methods(http.MethodGet)
	api.Handle("/orders/{number}/status", s.limited(s.updateOrderStatusHandler)).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{number}/fulfillment/{stage}", s.checkFulfillmentHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{number}/payments", s.listPaymentsHandler).Methods(http.MethodGet)
	api.Handle("/orders/{number}/payments/retry", s.limited(s.retryPaymentHandler)).Methods(http.MethodPost)

	api.Handle("/payments/confirm", s.limited(s.confirmGatewayPaymentHandler)).Methods(http.MethodPost)
	api.HandleFunc("/payments/{reference}", s.getPaymentHandler).Methods(http.MethodGet)
	api.Handle("/payments/{reference}/checkout", s.limited(s.startCheckoutHandler)).Methods(http.MethodPost)
	api.Handle("/payments/{reference}/failure", s.limited(s.gatewayFailureHandler)).Methods(http.MethodPost)
	api.Handle("/payments/{reference}/offline-proof", s.limited(s.offlineProofHandler)).Methods(http.MethodPost)
	api.Handle("/payments/{reference}/offline/verify", s.limited(s.verifyOfflineHandler)).Methods(http.MethodPost)
	api.Handle("/payments/{reference}/offline/reject", s.limited(s.rejectOfflineHandler)).Methods(http.MethodPost)
	api.Handle("/payments/{reference}/cod/advance/verify", s.limited(s.verifyCODAdvanceHandler)).Methods(http.MethodPost)
	api.Handle("/payments/{reference}/cod/verify", s.limited(s.verifyCODHandler)).Methods(http.MethodPost)
	api.Handle("/payments/{reference}/cod/collection", s.limited(s.codCollectionHandler)).Methods(http.MethodPost)
	api.Handle("/payments/{reference}/refund", s.limited(s.refundHandler)).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/cleanup", s.cleanupHandler).Methods(http.MethodPost)
	admin.HandleFunc("/dead-letters", s.getDeadLettersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/dead-letters/{id}/retry", s.retryDeadLetterHandler).Methods(http.MethodPost)
	admin.HandleFunc("/dead-letters/{id}/discard", s.discardDeadLetterHandler).Methods(http.MethodPost)
	admin.HandleFunc("/circuit-breakers", s.getCircuitBreakersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breakers/{name}/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
	admin.HandleFunc("/rate-limits", s.getRateLimitsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/rate-limits", s.setEndpointRateLimitHandler).Methods(http.MethodPut)
}
