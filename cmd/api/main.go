package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/vaidashi/storefront-orders/internal/api"
	"github.com/vaidashi/storefront-orders/internal/clients"
	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/outbox"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/internal/search"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/kafka"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewLogger(cfg.LogLevel).With("service", "storefront-orders", "env", cfg.Env)
	l.Info("Starting API server...")

	db, err := database.New(cfg, l)
	if err != nil {
		l.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.RunMigrations(); err != nil {
		l.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	orderRepo := repository.NewOrderRepository(db, l)
	paymentRepo := repository.NewPaymentRepository(db, l)
	outboxRepo := repository.NewOutboxRepository(db, l)
	dlqRepo := repository.NewDeadLetterRepository(db, l)
	fulfillmentRepo := repository.NewFulfillmentRepository(db, l)

	catalog := clients.NewCatalogClient(cfg.Clients.CatalogURL, cfg.Clients.Timeout, l)
	customers := clients.NewCustomerClient(cfg.Clients.CustomersURL, cfg.Clients.Timeout, l)
	if cfg.Payments.KeySecret == "" {
		l.Warn("GATEWAY_KEY_SECRET is empty, gateway signatures cannot be verified")
	}
	verifier := clients.NewHMACVerifier(cfg.Payments.KeySecret)

	ledger := service.NewPaymentLedger(db, orderRepo, paymentRepo, outboxRepo,
		service.LedgerConfig{CODAdvanceAmount: cfg.Orders.CODAdvanceAmount}, l)
	engine := service.NewVerificationEngine(ledger, verifier, service.EngineConfig{
		GatewayName:   cfg.Payments.GatewayName,
		VerifyTimeout: cfg.Payments.VerifyTimeout,
	})
	orders := service.NewOrderService(db, orderRepo, outboxRepo, ledger, catalog, customers, fulfillmentRepo,
		service.OrderConfig{
			IdempotencyWindow:   cfg.Orders.IdempotencyWindow,
			EnforceCatalogPrice: cfg.Orders.EnforceCatalogPrice,
		}, l)
	sweeper := service.NewPendingOrderSweeper(db, orderRepo, outboxRepo, l)

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers, l)
	if err != nil {
		l.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}

	relay := outbox.FanOut{
		outbox.NewLoggingHandler(l),
		outbox.NewKafkaHandler(kafkaProducer, cfg.Kafka.OrdersTopic, l),
	}

	if cfg.Search.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		esClient, err := search.NewClient(ctx, cfg.Search, l)
		cancel()
		if err != nil {
			l.Error("Failed to connect to Elasticsearch", "error", err)
			os.Exit(1)
		}
		relay = append(relay, search.NewOrderIndexer(esClient, cfg.Search.OrdersIndex, l))
	} else {
		l.Info("ES_URL not set, order indexing disabled")
	}

	outboxProcessor := outbox.NewProcessor(outboxRepo, dlqRepo, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
	}, l)

	deadLetterProcessor := outbox.NewDeadLetterProcessor(dlqRepo, outbox.DeadLetterProcessorConfig{
		PollingInterval: 30 * time.Second,
		BatchSize:       5,
		MaxRetries:      5,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: 1 * time.Second,
			MaxInterval:     2 * time.Minute,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}, l)

	for _, eventType := range models.EventTypes {
		outboxProcessor.RegisterHandler(eventType, relay)
		deadLetterProcessor.RegisterHandler(eventType, relay)
	}

	server := api.NewServer(cfg, api.Dependencies{
		Orders:        orders,
		Ledger:        ledger,
		Engine:        engine,
		Sweeper:       sweeper,
		DeadLetters:   dlqRepo,
		DeadLetterJob: deadLetterProcessor,
		Breakers: map[string]api.Breaker{
			"catalog":   catalog,
			"customers": customers,
		},
	}, l)

	outboxProcessor.Start()
	deadLetterProcessor.Start()

	go func() {
		l.Info(fmt.Sprintf("Server is starting on port %d", cfg.Port))

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			l.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	}

	outboxProcessor.Stop()
	deadLetterProcessor.Stop()

	if err := kafkaProducer.Close(); err != nil {
		l.Error("Error closing Kafka producer", "error", err)
	}
	if err := db.Close(); err != nil {
		l.Error("Error closing database connection", "error", err)
	}

	l.Info("Server exiting")
}
