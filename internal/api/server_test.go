package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-orders/internal/clients"
	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/internal/database/dbtest"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/outbox"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/internal/service"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/retry"
)

const gatewaySecret = "api-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testEnv struct {
	handler     http.Handler
	signer      *clients.HMACVerifier
	outbox      *repository.OutboxRepository
	deadLetters *repository.DeadLetterRepository
	delivered   *int
}

// collaborators serves the catalog and customer directory
func collaborators(t *testing.T) *httptest.Server {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		products := map[string]models.Product{
			"p1": {ID: "p1", Name: "Kettle", Price: decimal.RequireFromString("499.00"), Stock: 10},
			"p2": {ID: "p2", Name: "Toaster", Price: decimal.RequireFromString("449.00"), Stock: 3},
		}
		p, ok := products[mux.Vars(r)["id"]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	})
	r.HandleFunc("/api/v1/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		_ = json.NewEncoder(w).Encode(models.Customer{ID: id, Name: "Customer " + id})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type countingHandler struct{ n *int }

func (h countingHandler) HandleMessage(context.Context, *models.OutboxMessage) error {
	*h.n++
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := dbtest.New(t)
	log := logger.NewNop()
	upstream := collaborators(t)

	orderRepo := repository.NewOrderRepository(db, log)
	paymentRepo := repository.NewPaymentRepository(db, log)
	outboxRepo := repository.NewOutboxRepository(db, log)
	dlqRepo := repository.NewDeadLetterRepository(db, log)
	fulfillmentRepo := repository.NewFulfillmentRepository(db, log)

	catalog := clients.NewCatalogClient(upstream.URL, 2*time.Second, log)
	customers := clients.NewCustomerClient(upstream.URL, 2*time.Second, log)
	signer := clients.NewHMACVerifier(gatewaySecret)

	ledger := service.NewPaymentLedger(db, orderRepo, paymentRepo, outboxRepo,
		service.LedgerConfig{CODAdvanceAmount: decimal.RequireFromString("200.00")}, log)
	engine := service.NewVerificationEngine(ledger, signer, service.EngineConfig{GatewayName: "razorpay", VerifyTimeout: time.Second})
	orders := service.NewOrderService(db, orderRepo, outboxRepo, ledger, catalog, customers, fulfillmentRepo,
		service.OrderConfig{IdempotencyWindow: 30 * time.Minute, EnforceCatalogPrice: true}, log)
	sweeper := service.NewPendingOrderSweeper(db, orderRepo, outboxRepo, log)

	delivered := 0
	dlqJob := outbox.NewDeadLetterProcessor(dlqRepo, outbox.DeadLetterProcessorConfig{
		MaxRetries:      1,
		BackoffStrategy: &retry.ConstantBackoff{Interval: time.Millisecond},
	}, log)
	dlqJob.RegisterHandler(models.EventOrderCreated, countingHandler{n: &delivered})

	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{Burst: 1000, PerSecond: 1000},
		Cleanup:   config.CleanupConfig{OlderThan: time.Hour},
	}

	srv := NewServer(cfg, Dependencies{
		Orders:        orders,
		Ledger:        ledger,
		Engine:        engine,
		Sweeper:       sweeper,
		DeadLetters:   dlqRepo,
		DeadLetterJob: dlqJob,
		Breakers:      map[string]Breaker{"catalog": catalog, "customers": customers},
	}, log)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testEnv{
		handler:     srv.Handler(),
		signer:      signer,
		outbox:      outboxRepo,
		deadLetters: dlqRepo,
		delivered:   &delivered,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func (e *testEnv) createOrder(t *testing.T, customerID string, method models.PaymentMethod) models.Order {
	t.Helper()

	status, env := e.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"customer_id":    customerID,
		"payment_method": method,
		"items": []map[string]interface{}{
			{"product_id": "p1", "quantity": 2},
			{"product_id": "p2", "quantity": 1},
		},
	})
	require.Equal(t, http.StatusCreated, status, env.Error)

	var order models.Order
	decodeData(t, env, &order)
	return order
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
}

func TestCreateOrder_IsIdempotentWithinWindow(t *testing.T) {
	env := newTestEnv(t)

	first := env.createOrder(t, "cust-1", models.PaymentMethodOnline)
	assert.True(t, first.Total.Equal(decimal.RequireFromString("1447.00")))
	assert.Equal(t, models.OrderStatusPending, first.Status)
	require.NotNil(t, first.Payment)

	status, body := env.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"customer_id":    "cust-1",
		"payment_method": "online",
		"items":          []map[string]interface{}{{"product_id": "p1", "quantity": 1}},
	})
	assert.Equal(t, http.StatusOK, status)

	var again models.Order
	decodeData(t, body, &again)
	assert.Equal(t, first.OrderNumber, again.OrderNumber)
}

func TestCreateOrder_Errors(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/orders", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeValidation, body.Code)

	status, body = env.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"customer_id":    "cust-2",
		"payment_method": "cod",
		"items":          []map[string]interface{}{{"product_id": "missing", "quantity": 1}},
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperrors.CodeProductNotFound, body.Code)

	status, body = env.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"customer_id":    "cust-2",
		"payment_method": "cod",
		"items":          []map[string]interface{}{{"product_id": "p2", "quantity": 4}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeOutOfStock, body.Code)
}

func TestOnlinePaymentFlow(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "cust-3", models.PaymentMethodOnline)
	ref := order.Payment.Reference

	status, body := env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/checkout",
		map[string]string{"gateway_order_id": "gw_order_1"})
	require.Equal(t, http.StatusOK, status, body.Error)

	status, body = env.do(t, http.MethodPost, "/api/v1/payments/confirm", map[string]string{
		"gateway_order_id":   "gw_order_1",
		"gateway_payment_id": "gw_pay_1",
		"signature":          "forged",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeSignatureInvalid, body.Code)

	confirm := map[string]string{
		"gateway_order_id":   "gw_order_1",
		"gateway_payment_id": "gw_pay_1",
		"signature":          env.signer.Sign("gw_order_1", "gw_pay_1"),
	}
	status, body = env.do(t, http.MethodPost, "/api/v1/payments/confirm", confirm)
	require.Equal(t, http.StatusOK, status, body.Error)

	var payment models.Payment
	decodeData(t, body, &payment)
	assert.Equal(t, models.PaymentStatusVerified, payment.Status)

	status, body = env.do(t, http.MethodPost, "/api/v1/payments/confirm", confirm)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperrors.CodeAlreadyFinalized, body.Code)
	var unchanged models.Payment
	decodeData(t, body, &unchanged)
	assert.Equal(t, models.PaymentStatusVerified, unchanged.Status)

	status, body = env.do(t, http.MethodGet, "/api/v1/orders/"+order.OrderNumber, nil)
	require.Equal(t, http.StatusOK, status)
	var got models.Order
	decodeData(t, body, &got)
	assert.Equal(t, models.OrderStatusProcessing, got.Status)
	assert.Equal(t, models.PaymentStatusVerified, got.PaymentStatus)

	status, body = env.do(t, http.MethodGet, "/api/v1/orders/"+order.OrderNumber+"/fulfillment/dispatch", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), `"allowed":true`)

	status, body = env.do(t, http.MethodGet, "/api/v1/orders/"+order.OrderNumber+"/fulfillment/bill_generated", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), "no invoice generated")

	status, _ = env.do(t, http.MethodGet, "/api/v1/orders/"+order.OrderNumber+"/fulfillment/teleport", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOfflinePaymentAndStatusUpdate(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "cust-4", models.PaymentMethodOffline)
	ref := order.Payment.Reference

	status, body := env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/offline/verify", map[string]string{"staff": ""})
	assert.Equal(t, http.StatusBadRequest, status, body.Error)

	status, body = env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/offline-proof",
		map[string]string{"proof_reference": "UTR-991"})
	require.Equal(t, http.StatusOK, status, body.Error)

	status, body = env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/offline/verify", map[string]string{"staff": "staff-7"})
	require.Equal(t, http.StatusOK, status, body.Error)

	status, body = env.do(t, http.MethodPatch, "/api/v1/orders/"+order.OrderNumber+"/status",
		map[string]string{"status": "out_for_delivery", "updated_by": "staff-7"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperrors.CodeTransitionDenied, body.Code)

	status, body = env.do(t, http.MethodPatch, "/api/v1/orders/"+order.OrderNumber+"/status",
		map[string]string{"status": "cancelled", "updated_by": "staff-7"})
	require.Equal(t, http.StatusOK, status, body.Error)

	status, body = env.do(t, http.MethodPatch, "/api/v1/orders/"+order.OrderNumber+"/status",
		map[string]string{"status": "processing", "updated_by": "staff-7"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperrors.CodeInvalidState, body.Code)

	status, body = env.do(t, http.MethodGet, "/api/v1/orders/summary", nil)
	require.Equal(t, http.StatusOK, status)
	var summary OrderSummary
	decodeData(t, body, &summary)
	assert.Equal(t, 1, summary.ByStatus["cancelled"])
	assert.Equal(t, "1447.00", summary.VerifiedRevenue)
}

func TestRefusedPaymentActionsReturnCurrentPayment(t *testing.T) {
	env := newTestEnv(t)

	online := env.createOrder(t, "cust-9", models.PaymentMethodOnline)
	status, body := env.do(t, http.MethodPost, "/api/v1/payments/"+online.Payment.Reference+"/offline-proof",
		map[string]string{"proof_reference": "UTR-1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeValidation, body.Code)

	var current models.Payment
	decodeData(t, body, &current)
	assert.Equal(t, online.Payment.Reference, current.Reference)
	assert.Equal(t, models.PaymentStatusPending, current.Status)

	offline := env.createOrder(t, "cust-10", models.PaymentMethodOffline)
	ref := offline.Payment.Reference
	status, body = env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/offline-proof",
		map[string]string{"proof_reference": "UTR-2"})
	require.Equal(t, http.StatusOK, status, body.Error)
	status, body = env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/offline/verify", map[string]string{"staff": "staff-1"})
	require.Equal(t, http.StatusOK, status, body.Error)

	status, body = env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/offline/reject",
		map[string]string{"staff": "staff-2", "reason": "looks fake"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperrors.CodeAlreadyFinalized, body.Code)

	decodeData(t, body, &current)
	assert.Equal(t, ref, current.Reference)
	assert.Equal(t, models.PaymentStatusVerified, current.Status)
}

func TestPaymentRetryAndListing(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "cust-5", models.PaymentMethodOnline)

	status, body := env.do(t, http.MethodPost, "/api/v1/orders/"+order.OrderNumber+"/payments/retry", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperrors.CodeInvalidState, body.Code)

	status, body = env.do(t, http.MethodPost, "/api/v1/payments/"+order.Payment.Reference+"/failure",
		map[string]string{"reason": "card declined"})
	require.Equal(t, http.StatusOK, status, body.Error)

	status, body = env.do(t, http.MethodPost, "/api/v1/orders/"+order.OrderNumber+"/payments/retry", nil)
	require.Equal(t, http.StatusCreated, status, body.Error)

	status, body = env.do(t, http.MethodGet, "/api/v1/orders/"+order.OrderNumber+"/payments", nil)
	require.Equal(t, http.StatusOK, status)
	var payments []models.Payment
	decodeData(t, body, &payments)
	assert.Len(t, payments, 2)

	status, body = env.do(t, http.MethodGet, "/api/v1/orders?customer_id=cust-5&limit=5", nil)
	require.Equal(t, http.StatusOK, status)
	var page service.OrderPage
	decodeData(t, body, &page)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.Limit)

	status, body = env.do(t, http.MethodGet, "/api/v1/payments/PAY-NOPE", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperrors.CodePaymentNotFound, body.Code)
}

func TestCODAdvanceVerification(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "cust-8", models.PaymentMethodCOD)
	assert.True(t, order.AdvanceAmount.Valid)

	status, body := env.do(t, http.MethodPost, "/api/v1/payments/"+order.Payment.Reference+"/cod/advance/verify",
		map[string]string{"staff": "staff-2"})
	require.Equal(t, http.StatusOK, status, body.Error)

	status, body = env.do(t, http.MethodGet, "/api/v1/orders/"+order.OrderNumber, nil)
	require.Equal(t, http.StatusOK, status)
	var got models.Order
	decodeData(t, body, &got)
	assert.True(t, got.AdvanceVerified)
}

func TestCleanupDefaultsToDryRun(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "cust-6", models.PaymentMethodOnline)

	status, body := env.do(t, http.MethodPost, "/api/v1/admin/cleanup", map[string]interface{}{"older_than_hours": 0.0001})
	require.Equal(t, http.StatusOK, status, body.Error)

	var report service.SweepReport
	decodeData(t, body, &report)
	assert.True(t, report.DryRun)
	assert.Zero(t, report.Deleted)

	status, body = env.do(t, http.MethodPost, "/api/v1/admin/cleanup", map[string]interface{}{"older_than_hours": -1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeValidation, body.Code)
}

func TestDeadLetterEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg, err := models.NewOrderEvent(models.EventOrderCreated,
		models.OrderEventData{Order: &models.Order{OrderNumber: "ORD-0A1B2C3D"}}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, env.outbox.Create(ctx, msg))

	first := models.NewDeadLetterMessage(msg, "kafka down", "max retries")
	second := models.NewDeadLetterMessage(msg, "kafka down", "max retries")
	require.NoError(t, env.deadLetters.Create(ctx, first))
	require.NoError(t, env.deadLetters.Create(ctx, second))

	status, body := env.do(t, http.MethodGet, "/api/v1/admin/dead-letters", nil)
	require.Equal(t, http.StatusOK, status)
	var list DeadLetterList
	decodeData(t, body, &list)
	assert.Equal(t, 2, list.Count)

	status, body = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+itoa(first.ID)+"/retry", nil)
	require.Equal(t, http.StatusOK, status, body.Error)
	assert.Equal(t, 1, *env.delivered)

	status, _ = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+itoa(first.ID)+"/retry", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+itoa(second.ID)+"/discard",
		map[string]string{"reason": "replayed by hand"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/999/discard", map[string]string{})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/abc/retry", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminBreakersAndRateLimits(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/admin/circuit-breakers", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(string(body.Data), `"name":"catalog"`))

	status, _ = env.do(t, http.MethodPost, "/api/v1/admin/circuit-breakers/catalog/reset", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodPost, "/api/v1/admin/circuit-breakers/payments/reset", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodPut, "/api/v1/admin/rate-limits", map[string]interface{}{
		"endpoint": "GET:/api/v1/health", "max_tokens": 1, "refill_rate": 0.001,
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, status)
	status, body = env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", body.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
