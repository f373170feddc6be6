package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/database/dbtest"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

type repos struct {
	db          *database.Database
	orders      *repository.OrderRepository
	payments    *repository.PaymentRepository
	outbox      *repository.OutboxRepository
	deadLetters *repository.DeadLetterRepository
	fulfillment *repository.FulfillmentRepository
}

func setup(t *testing.T) *repos {
	db := dbtest.New(t)
	log := logger.NewNop()
	return &repos{
		db:          db,
		orders:      repository.NewOrderRepository(db, log),
		payments:    repository.NewPaymentRepository(db, log),
		outbox:      repository.NewOutboxRepository(db, log),
		deadLetters: repository.NewDeadLetterRepository(db, log),
		fulfillment: repository.NewFulfillmentRepository(db, log),
	}
}

func seedOrder(t *testing.T, r *repos, customerID string, method models.PaymentMethod, createdAt time.Time) (*models.Order, *models.Payment) {
	t.Helper()
	ctx := context.Background()

	items := []models.OrderItem{
		{ProductID: "p1", ProductName: "Kettle", Quantity: 2, Price: decimal.RequireFromString("499.00")},
		{ProductID: "p2", ProductName: "Toaster", Quantity: 1, Price: decimal.RequireFromString("449.00")},
	}
	order := models.NewOrder(customerID, method, items, createdAt)
	payment := models.NewPayment(order, method, order.Total, createdAt)

	require.NoError(t, r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.orders.CreateInTx(ctx, tx, order); err != nil {
			return err
		}
		payment.OrderID = order.ID
		return r.payments.CreateInTx(ctx, tx, payment)
	}))
	return order, payment
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	order, _ := seedOrder(t, r, "c1", models.PaymentMethodOnline, now)

	got, err := r.orders.GetByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, "1447.00", got.Total.StringFixed(2))
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.False(t, got.AdvanceVerified)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "998.00", got.Items[0].Total().StringFixed(2))
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = r.orders.GetByNumber(ctx, "ORD-MISSING0")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreate_TakenKeysAreDuplicateKey(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order, payment := seedOrder(t, r, "c1", models.PaymentMethodOnline, now)

	clash := models.NewOrder("c2", models.PaymentMethodOnline, order.Items, now)
	clash.OrderNumber = order.OrderNumber
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.orders.CreateInTx(ctx, tx, clash)
	})
	assert.ErrorIs(t, err, repository.ErrDuplicateKey)

	other, active := seedOrder(t, r, "c3", models.PaymentMethodOnline, now)
	err = r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.payments.DeactivateInTx(ctx, tx, active.ID, now); err != nil {
			return err
		}
		dup := models.NewPayment(other, models.PaymentMethodOnline, other.Total, now)
		dup.Reference = payment.Reference
		return r.payments.CreateInTx(ctx, tx, dup)
	})
	assert.ErrorIs(t, err, repository.ErrDuplicateKey)

	// a second active payment is not a key collision
	err = r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.payments.CreateInTx(ctx, tx, models.NewPayment(other, models.PaymentMethodOnline, other.Total, now))
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrDuplicateKey)
}

func TestOrderRepository_FindRecentPending(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old, _ := seedOrder(t, r, "c1", models.PaymentMethodOnline, now.Add(-2*time.Hour))
	recent, _ := seedOrder(t, r, "c1", models.PaymentMethodOnline, now.Add(-10*time.Minute))

	require.NoError(t, r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		require.NoError(t, r.orders.AcquireCreationGuardInTx(ctx, tx, "c1", now))

		found, err := r.orders.FindRecentPendingInTx(ctx, tx, "c1", now.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, recent.OrderNumber, found.OrderNumber)
		assert.NotEqual(t, old.OrderNumber, found.OrderNumber)

		_, err = r.orders.FindRecentPendingInTx(ctx, tx, "c2", now.Add(-30*time.Minute))
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	}))
}

func TestOrderRepository_UpdateInTxIsConditional(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	order, _ := seedOrder(t, r, "c1", models.PaymentMethodOffline, time.Now().UTC())

	processing := models.OrderStatusProcessing
	verified := models.PaymentStatusVerified

	require.NoError(t, r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.orders.UpdateInTx(ctx, tx, order.ID, models.OrderStatusPending, repository.OrderUpdate{
			Status: &processing, PaymentStatus: &verified, UpdatedAt: time.Now().UTC(),
		})
	}))

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.orders.UpdateInTx(ctx, tx, order.ID, models.OrderStatusPending, repository.OrderUpdate{
			Status: &processing, UpdatedAt: time.Now().UTC(),
		})
	})
	assert.ErrorIs(t, err, repository.ErrStale)

	got, err := r.orders.GetByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, got.Status)
	assert.Equal(t, models.PaymentStatusVerified, got.PaymentStatus)
}

func TestOrderRepository_ListAndCounts(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, _ := seedOrder(t, r, "c1", models.PaymentMethodOnline, now.Add(-time.Minute))
	seedOrder(t, r, "c2", models.PaymentMethodCOD, now)

	orders, total, err := r.orders.List(ctx, repository.OrderFilter{CustomerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)
	assert.Equal(t, a.OrderNumber, orders[0].OrderNumber)

	orders, total, err = r.orders.List(ctx, repository.OrderFilter{Search: a.OrderNumber[4:8]})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	assert.NotEmpty(t, orders)

	counts, err := r.orders.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["pending"])

	sum, err := r.orders.SumTotals(ctx, models.PaymentStatusVerified)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestOrderRepository_SearchMatchesCustomerAndEscapesWildcards(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := func(number, name, email string) {
		items := []models.OrderItem{{ProductID: "p1", ProductName: "Kettle", Quantity: 1, Price: decimal.RequireFromString("499.00")}}
		order := models.NewOrder("cust-"+number, models.PaymentMethodOnline, items, now)
		order.OrderNumber = number
		order.CustomerName = name
		order.CustomerEmail = email
		require.NoError(t, r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			return r.orders.CreateInTx(ctx, tx, order)
		}))
	}
	seed("ORD-AAAA0001", "Asha Rao", "asha@shop.test")
	seed("ORD-BBBB0002", "100% Cotton Ltd", "sales@cotton.test")
	seed("ORD-CCCC0003", "Ravi_K", "ravi@shop.test")

	search := func(q string) []string {
		orders, total, err := r.orders.List(ctx, repository.OrderFilter{Search: q})
		require.NoError(t, err)
		require.Len(t, orders, total)
		var numbers []string
		for _, o := range orders {
			numbers = append(numbers, o.OrderNumber)
		}
		return numbers
	}

	assert.ElementsMatch(t, []string{"ORD-AAAA0001"}, search("asha"))
	assert.ElementsMatch(t, []string{"ORD-AAAA0001", "ORD-CCCC0003"}, search("@SHOP.test"))
	assert.ElementsMatch(t, []string{"ORD-BBBB0002"}, search("bbbb"))
	assert.ElementsMatch(t, []string{"ORD-BBBB0002"}, search("%"))
	assert.ElementsMatch(t, []string{"ORD-CCCC0003"}, search("_"))
	assert.Empty(t, search("zzz"))
}

func TestOrderRepository_DeleteStalePendingCascades(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale, stalePayment := seedOrder(t, r, "c1", models.PaymentMethodOnline, now.Add(-2*time.Hour))
	fresh, _ := seedOrder(t, r, "c2", models.PaymentMethodOnline, now.Add(-30*time.Minute))

	count, sample, err := r.orders.CountStalePending(ctx, now.Add(-time.Hour), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{stale.OrderNumber}, sample)

	var deleted []string
	require.NoError(t, r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		deleted, err = r.orders.DeleteStalePendingInTx(ctx, tx, now.Add(-time.Hour))
		return err
	}))
	assert.Equal(t, []string{stale.OrderNumber}, deleted)

	_, err = r.payments.GetByReference(ctx, stalePayment.Reference)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = r.orders.GetByNumber(ctx, fresh.OrderNumber)
	assert.NoError(t, err)
}

func TestPaymentRepository_TransitionIsCheckAndSet(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	_, payment := seedOrder(t, r, "c1", models.PaymentMethodOffline, time.Now().UTC())

	staff := "staff-1"
	now := time.Now().UTC()
	transition := repository.PaymentTransition{
		Status: models.PaymentStatusVerified, VerifiedBy: &staff, VerifiedAt: &now, UpdatedAt: now,
	}

	require.NoError(t, r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.payments.TransitionInTx(ctx, tx, payment.ID, []models.PaymentStatus{models.PaymentStatusPending}, transition)
	}))

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.payments.TransitionInTx(ctx, tx, payment.ID, []models.PaymentStatus{models.PaymentStatusPending}, transition)
	})
	assert.ErrorIs(t, err, repository.ErrStale)

	got, err := r.payments.GetByReference(ctx, payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusVerified, got.Status)
	require.NotNil(t, got.VerifiedBy)
	assert.Equal(t, "staff-1", *got.VerifiedBy)
}

func TestPaymentRepository_Details(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, online := seedOrder(t, r, "c1", models.PaymentMethodOnline, now)
	_, cod := seedOrder(t, r, "c2", models.PaymentMethodCOD, now)

	require.NoError(t, r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.payments.CreateOnlineDetailInTx(ctx, tx, &models.OnlineDetail{
			PaymentID: online.ID, TransactionID: "pay_123", GatewayName: "razorpay",
			GatewayResponse: []byte(`{"ok":true}`),
		}); err != nil {
			return err
		}
		if err := r.payments.CreateCODDetailInTx(ctx, tx, &models.CODDetail{
			PaymentID: cod.ID, AdvanceAmount: decimal.RequireFromString("200.00"),
		}); err != nil {
			return err
		}
		return r.payments.VerifyCODAdvanceInTx(ctx, tx, cod.ID, "staff-1", now)
	}))

	got, err := r.payments.GetByReference(ctx, online.Reference)
	require.NoError(t, err)
	detail, ok := got.Online()
	require.True(t, ok)
	assert.Equal(t, "pay_123", detail.TransactionID)
	assert.JSONEq(t, `{"ok":true}`, string(detail.GatewayResponse))

	got, err = r.payments.GetByReference(ctx, cod.Reference)
	require.NoError(t, err)
	codDetail, ok := got.COD()
	require.True(t, ok)
	assert.True(t, codDetail.AdvanceVerified)
	assert.Equal(t, "200.00", codDetail.AdvanceAmount.StringFixed(2))

	order, err := r.orders.GetByNumber(ctx, cod.OrderNumber)
	require.NoError(t, err)
	assert.True(t, order.AdvanceVerified)

	err = r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.payments.VerifyCODAdvanceInTx(ctx, tx, cod.ID, "staff-2", now)
	})
	assert.ErrorIs(t, err, repository.ErrStale)
}

func TestFulfillmentRepository_Exists(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	order, _ := seedOrder(t, r, "c1", models.PaymentMethodOnline, time.Now().UTC())

	has, err := r.fulfillment.HasInvoice(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, has)

	dbtest.SeedInvoice(t, r.db, order.ID, "INV-1")
	dbtest.SeedShipmentDetails(t, r.db, order.ID, "bluedart")

	has, err = r.fulfillment.HasInvoice(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = r.fulfillment.HasShipmentDetails(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestOutboxAndDeadLetterRepositories(t *testing.T) {
	r := setup(t)
	ctx := context.Background()

	order := &models.Order{OrderNumber: "ORD-0A1B2C3D"}
	msg, err := models.NewOrderEvent(models.EventOrderCreated, models.OrderEventData{Order: order}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, r.outbox.Create(ctx, msg))

	pending, err := r.outbox.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, string(msg.Payload), string(pending[0].Payload))

	require.NoError(t, r.outbox.MarkAsProcessing(ctx, msg.ID))
	assert.ErrorIs(t, r.outbox.MarkAsProcessing(ctx, msg.ID), repository.ErrStale)

	dl := models.NewDeadLetterMessage(pending[0], "kafka down", "max retries")
	require.NoError(t, r.deadLetters.Create(ctx, dl))

	require.NoError(t, r.deadLetters.MarkAsRetrying(ctx, dl.ID))
	require.NoError(t, r.deadLetters.ResetToRetry(ctx, dl.ID))
	require.NoError(t, r.deadLetters.MarkAsDiscarded(ctx, dl.ID, "operator"))

	got, err := r.deadLetters.GetMessage(ctx, dl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusDiscarded, got.Status)
	assert.Contains(t, got.FailureReason, "Discarded: operator")
	assert.Equal(t, 1, got.RetryCount)
}
