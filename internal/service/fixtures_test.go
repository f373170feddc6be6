package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-orders/internal/clients"
	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/database/dbtest"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const testSecret = "test-key-secret"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]*models.Product
	calls    int
}

func (f *fakeCatalog) GetProduct(_ context.Context, id string) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	p, ok := f.products[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("product " + id + " not found").WithCode(apperrors.CodeProductNotFound)
	}
	cp := *p
	return &cp, nil
}

type fakeCustomers struct{}

func (fakeCustomers) GetCustomer(_ context.Context, id string) (*models.Customer, error) {
	if id == "unknown-customer" {
		return nil, apperrors.NewNotFoundError("customer " + id + " not found").WithCode(apperrors.CodeCustomerNotFound)
	}
	return &models.Customer{ID: id, Name: "Customer " + id, Email: id + "@example.com"}, nil
}

type fakeVerifier struct {
	verify func(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (bool, error)
}

func (f *fakeVerifier) Verify(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (bool, error) {
	return f.verify(ctx, gatewayOrderID, gatewayPaymentID, signature)
}

type fixture struct {
	db       *database.Database
	orders   *OrderService
	ledger   *PaymentLedger
	engine   *VerificationEngine
	sweeper  *PendingOrderSweeper
	outbox   *repository.OutboxRepository
	catalog  *fakeCatalog
	verifier *fakeVerifier
	signer   *clients.HMACVerifier
	clock    *fakeClock
}

func newFixture(t *testing.T, cfg OrderConfig) *fixture {
	t.Helper()

	db := dbtest.New(t)
	log := logger.NewNop()

	orderRepo := repository.NewOrderRepository(db, log)
	paymentRepo := repository.NewPaymentRepository(db, log)
	outboxRepo := repository.NewOutboxRepository(db, log)
	fulfillmentRepo := repository.NewFulfillmentRepository(db, log)

	catalog := &fakeCatalog{products: map[string]*models.Product{
		"p1": {ID: "p1", Name: "Kettle", Price: decimal.RequireFromString("499.00"), Stock: 10},
		"p2": {ID: "p2", Name: "Toaster", Price: decimal.RequireFromString("449.00"), Stock: 3},
	}}

	signer := clients.NewHMACVerifier(testSecret)
	verifier := &fakeVerifier{verify: signer.Verify}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	ledger := NewPaymentLedger(db, orderRepo, paymentRepo, outboxRepo,
		LedgerConfig{CODAdvanceAmount: decimal.RequireFromString("200.00")}, log)
	ledger.now = clock.now

	engine := NewVerificationEngine(ledger, verifier, EngineConfig{GatewayName: "razorpay", VerifyTimeout: time.Second})

	orders := NewOrderService(db, orderRepo, outboxRepo, ledger, catalog, fakeCustomers{}, fulfillmentRepo, cfg, log)
	orders.now = clock.now

	sweeper := NewPendingOrderSweeper(db, orderRepo, outboxRepo, log)
	sweeper.now = clock.now

	return &fixture{
		db:       db,
		orders:   orders,
		ledger:   ledger,
		engine:   engine,
		sweeper:  sweeper,
		outbox:   outboxRepo,
		catalog:  catalog,
		verifier: verifier,
		signer:   signer,
		clock:    clock,
	}
}

func defaultFixture(t *testing.T) *fixture {
	return newFixture(t, OrderConfig{IdempotencyWindow: 30 * time.Minute, EnforceCatalogPrice: true})
}

func standardItems() []OrderItemRequest {
	return []OrderItemRequest{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	}
}

func (f *fixture) createOrder(t *testing.T, customerID string, method models.PaymentMethod) *models.Order {
	t.Helper()

	order, created, err := f.orders.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID:    customerID,
		Items:         standardItems(),
		PaymentMethod: method,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, order.Payment)
	return order
}

// paidOrder creates an offline order and verifies it, leaving it processing
func (f *fixture) paidOrder(t *testing.T, customerID string) *models.Order {
	t.Helper()
	ctx := context.Background()

	order := f.createOrder(t, customerID, models.PaymentMethodOffline)
	_, err := f.ledger.AttachOfflineProof(ctx, order.Payment.Reference, OfflineProof{ProofReference: "UTR-" + customerID})
	require.NoError(t, err)
	_, err = f.engine.VerifyOfflinePayment(ctx, order.Payment.Reference, "staff-1")
	require.NoError(t, err)

	got, err := f.orders.GetOrder(ctx, order.OrderNumber)
	require.NoError(t, err)
	return got
}

func (f *fixture) events(t *testing.T, eventType string) []*models.OutboxMessage {
	t.Helper()
	msgs, err := f.outbox.ListByEventType(context.Background(), eventType)
	require.NoError(t, err)
	return msgs
}
