package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/fulfillment"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const (
	defaultIdempotencyWindow = 30 * time.Minute
	maxCatalogLookups        = 8
	defaultPageSize          = 20
	maxPageSize              = 100
)

// OrderConfig holds order creation settings
type OrderConfig struct {
	IdempotencyWindow   time.Duration
	EnforceCatalogPrice bool
}

// OrderItemRequest is one requested line. A nil Price takes the catalog price.
type OrderItemRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// CreateOrderRequest is a customer's checkout submission
type CreateOrderRequest struct {
	CustomerID        string                  `json:"customer_id"`
	Items             []OrderItemRequest      `json:"items"`
	BillingAddressID  *string                 `json:"billing_address_id,omitempty"`
	ShippingAddressID *string                 `json:"shipping_address_id,omitempty"`
	ShippingAddress   *models.ShippingAddress `json:"shipping_address,omitempty"`
	PaymentMethod     models.PaymentMethod    `json:"payment_method"`
}

// StatusUpdate is a staff change to an order. Nil fields are left alone.
type StatusUpdate struct {
	Status            *models.OrderStatus `json:"status,omitempty"`
	TrackingNumber    *string             `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time          `json:"estimated_delivery,omitempty"`
	UpdatedBy         string              `json:"updated_by"`
}

// OrderPage is one page of ListOrders
type OrderPage struct {
	Orders []*models.Order `json:"orders"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

var statusTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:        {models.OrderStatusCancelled, models.OrderStatusRejected},
	models.OrderStatusProcessing:     {models.OrderStatusOutForDelivery, models.OrderStatusCancelled},
	models.OrderStatusOutForDelivery: {models.OrderStatusDelivered},
}

// OrderService handles order-related operations
type OrderService struct {
	db         *database.Database
	orderRepo  *repository.OrderRepository
	outboxRepo *repository.OutboxRepository
	ledger     *PaymentLedger
	catalog    CatalogReader
	customers  CustomerDirectory
	records    FulfillmentRecords
	cfg        OrderConfig
	logger     logger.Logger
	now        func() time.Time
	newNumber  func() string
}

// NewOrderService creates a new OrderService
func NewOrderService(
	db *database.Database,
	orderRepo *repository.OrderRepository,
	outboxRepo *repository.OutboxRepository,
	ledger *PaymentLedger,
	catalog CatalogReader,
	customers CustomerDirectory,
	records FulfillmentRecords,
	cfg OrderConfig,
	logger logger.Logger,
) *OrderService {
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = defaultIdempotencyWindow
	}

	return &OrderService{
		db:         db,
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
		ledger:     ledger,
		catalog:    catalog,
		customers:  customers,
		records:    records,
		cfg:        cfg,
		logger:     logger,
		now:        models.GetCurrentTime,
		newNumber:  func() string { return models.GenerateReference("ORD") },
	}
}

func validateRequest(req CreateOrderRequest) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return invalidInput("customer_id is required")
	}
	if len(req.Items) == 0 {
		return invalidInput("order must contain at least one item")
	}
	if !req.PaymentMethod.Valid() {
		return invalidInput("unknown payment method %q", req.PaymentMethod)
	}

	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return invalidInput("product_id is required for every item")
		}
		if item.Quantity <= 0 {
			return apperrors.NewInvalidInputError(fmt.Sprintf("quantity for product %s must be positive", item.ProductID)).
				WithCode(apperrors.CodeInvalidQuantity).
				WithContext("product_id", item.ProductID)
		}
		if item.Price != nil && item.Price.IsNegative() {
			return invalidInput("price for product %s must not be negative", item.ProductID)
		}
	}
	return nil
}

// resolve looks up the customer and every distinct product concurrently
func (s *OrderService) resolve(ctx context.Context, req CreateOrderRequest) (*models.Customer, map[string]*models.Product, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, item := range req.Items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	var (
		customer *models.Customer
		products = make([]*models.Product, len(ids))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCatalogLookups)

	g.Go(func() error {
		var err error
		customer, err = s.customers.GetCustomer(gctx, req.CustomerID)
		return err
	})

	for i, id := range ids {
		g.Go(func() error {
			product, err := s.catalog.GetProduct(gctx, id)
			if err != nil {
				return err
			}
			products[i] = product
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	byID := make(map[string]*models.Product, len(ids))
	for i, id := range ids {
		byID[id] = products[i]
	}
	return customer, byID, nil
}

// buildItems snapshots name, image and price of every line
func (s *OrderService) buildItems(req CreateOrderRequest, products map[string]*models.Product) ([]models.OrderItem, error) {
	requested := make(map[string]int)
	items := make([]models.OrderItem, 0, len(req.Items))

	for _, line := range req.Items {
		product := products[line.ProductID]

		requested[line.ProductID] += line.Quantity
		if requested[line.ProductID] > product.Stock {
			return nil, apperrors.NewInvalidInputError(
				fmt.Sprintf("only %d of product %s in stock", product.Stock, product.ID)).
				WithCode(apperrors.CodeOutOfStock).
				WithContext("product_id", product.ID)
		}

		price := product.Price
		if line.Price != nil {
			if s.cfg.EnforceCatalogPrice && !line.Price.Equal(product.Price) {
				return nil, apperrors.NewInvalidInputError(
					fmt.Sprintf("price %s for product %s does not match catalog price %s",
						line.Price.StringFixed(2), product.ID, product.Price.StringFixed(2))).
					WithCode(apperrors.CodePriceMismatch).
					WithContext("product_id", product.ID)
			}
			price = *line.Price
		}

		items = append(items, models.OrderItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductImage: product.Image,
			Quantity:     line.Quantity,
			Price:        price,
		})
	}

	return items, nil
}

// CreateOrder creates a pending order with its payment and an outbox message.
// A pending order of the same customer inside the idempotency window is returned
// instead, with created false, before the catalog is consulted.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, bool, error) {
	if err := validateRequest(req); err != nil {
		return nil, false, err
	}

	existing, err := s.recentPending(ctx, req.CustomerID)
	if err != nil {
		return nil, false, passThrough("failed to look up pending orders", err)
	}
	if existing != nil {
		s.logger.Info("Returning existing pending order", "orderNumber", existing.OrderNumber, "customerID", req.CustomerID)
		return existing, false, nil
	}

	customer, products, err := s.resolve(ctx, req)
	if err != nil {
		return nil, false, err
	}

	items, err := s.buildItems(req, products)
	if err != nil {
		return nil, false, err
	}

	var (
		result  *models.Order
		created bool
	)

	err = regenerateOnCollision(ctx, s.logger, func() error {
		return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			now := s.now()

			if err := s.orderRepo.AcquireCreationGuardInTx(ctx, tx, req.CustomerID, now); err != nil {
				return err
			}

			// a concurrent submission may have committed since the first lookup
			existing, err := s.findRecentPendingInTx(ctx, tx, req.CustomerID, now)
			if err != nil {
				return err
			}
			if existing != nil {
				result, created = existing, false
				return nil
			}

			order := models.NewOrder(req.CustomerID, req.PaymentMethod, items, now)
			order.OrderNumber = s.newNumber()
			order.CustomerName = customer.Name
			order.CustomerEmail = customer.Email
			order.BillingAddressID = req.BillingAddressID
			order.ShippingAddressID = req.ShippingAddressID
			if req.ShippingAddress != nil {
				order.ShippingAddress = *req.ShippingAddress
			}

			if err := s.orderRepo.CreateInTx(ctx, tx, order); err != nil {
				return err
			}

			payment, err := s.ledger.OpenPaymentInTx(ctx, tx, order, order.PaymentMethod, order.Total)
			if err != nil {
				return err
			}
			order.Payment = payment

			outboxMsg, err := models.NewOrderEvent(models.EventOrderCreated, models.OrderEventData{
				Order:   order,
				Payment: payment,
				Actor:   req.CustomerID,
			}, now)
			if err != nil {
				s.logger.Error("Failed to create outbox message", "error", err)
				return internalErr("failed to create outbox message", err)
			}

			if err := s.outboxRepo.CreateInTx(ctx, tx, outboxMsg); err != nil {
				return err
			}

			result, created = order, true
			return nil
		})
	})
	if err != nil {
		return nil, false, passThrough("failed to create order", err)
	}

	if created {
		s.logger.Info("Order created with outbox message",
			"orderNumber", result.OrderNumber,
			"customerID", result.CustomerID,
			"total", result.Total.StringFixed(2),
			"paymentMethod", result.PaymentMethod)
	} else {
		s.logger.Info("Returning existing pending order", "orderNumber", result.OrderNumber, "customerID", req.CustomerID)
	}

	return result, created, nil
}

// recentPending returns the customer's pending order inside the idempotency window, nil when there is none
func (s *OrderService) recentPending(ctx context.Context, customerID string) (*models.Order, error) {
	var existing *models.Order
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		existing, err = s.findRecentPendingInTx(ctx, tx, customerID, s.now())
		return err
	})
	return existing, err
}

func (s *OrderService) findRecentPendingInTx(ctx context.Context, tx *sqlx.Tx, customerID string, now time.Time) (*models.Order, error) {
	existing, err := s.orderRepo.FindRecentPendingInTx(ctx, tx, customerID, now.Add(-s.cfg.IdempotencyWindow))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if existing.Payment, err = s.ledger.activePaymentInTx(ctx, tx, existing.ID); err != nil {
		return nil, err
	}
	return existing, nil
}

// GetOrder retrieves an order with its items and active payment
func (s *OrderService) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.orderRepo.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, lookupErr(err, func() error { return orderNotFound(orderNumber) }, "failed to load order")
	}

	if order.Payment, err = s.ledger.activePayment(ctx, order.ID); err != nil {
		return nil, passThrough("failed to load payment", err)
	}
	return order, nil
}

// ListOrders returns a page of orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) (*OrderPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalidInput("unknown order status %q", filter.Status)
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, invalidInput("unknown payment status %q", filter.PaymentStatus)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	orders, total, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		return nil, passThrough("failed to list orders", err)
	}

	return &OrderPage{Orders: orders, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// StatusCounts counts orders per order status
func (s *OrderService) StatusCounts(ctx context.Context) (map[string]int, error) {
	counts, err := s.orderRepo.StatusCounts(ctx)
	if err != nil {
		return nil, passThrough("failed to count orders", err)
	}
	return counts, nil
}

// PaymentStatusCounts counts orders per payment status
func (s *OrderService) PaymentStatusCounts(ctx context.Context) (map[string]int, error) {
	counts, err := s.orderRepo.PaymentStatusCounts(ctx)
	if err != nil {
		return nil, passThrough("failed to count orders", err)
	}
	return counts, nil
}

// VerifiedRevenue sums the totals of orders whose payment is verified
func (s *OrderService) VerifiedRevenue(ctx context.Context) (decimal.Decimal, error) {
	sum, err := s.orderRepo.SumTotals(ctx, models.PaymentStatusVerified)
	if err != nil {
		return decimal.Zero, passThrough("failed to sum revenue", err)
	}
	return sum, nil
}

// CheckFulfillment reports whether the order may move to stage. Nothing is changed.
func (s *OrderService) CheckFulfillment(ctx context.Context, orderNumber string, stage fulfillment.Stage) (fulfillment.Decision, error) {
	order, err := s.orderRepo.GetByNumber(ctx, orderNumber)
	if err != nil {
		return fulfillment.Decision{}, lookupErr(err, func() error { return orderNotFound(orderNumber) }, "failed to load order")
	}
	return s.authorize(ctx, order, stage)
}

func (s *OrderService) authorize(ctx context.Context, order *models.Order, stage fulfillment.Stage) (fulfillment.Decision, error) {
	hasInvoice, err := s.records.HasInvoice(ctx, order.ID)
	if err != nil {
		return fulfillment.Decision{}, passThrough("failed to check invoice", err)
	}

	hasShipment, err := s.records.HasShipmentDetails(ctx, order.ID)
	if err != nil {
		return fulfillment.Decision{}, passThrough("failed to check shipment details", err)
	}

	return fulfillment.Authorize(stage, fulfillment.SnapshotOf(order, hasInvoice, hasShipment)), nil
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionDenied(message string) error {
	return apperrors.NewConflictError(message).WithCode(apperrors.CodeTransitionDenied)
}

// UpdateOrderStatus applies a staff change. A status change is a check-and-set on
// the current status and writes an outbox message in the same transaction.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderNumber string, upd StatusUpdate) (*models.Order, error) {
	if upd.Status == nil && upd.TrackingNumber == nil && upd.EstimatedDelivery == nil {
		return nil, invalidInput("nothing to update")
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, invalidInput("unknown order status %q", *upd.Status)
	}

	order, err := s.orderRepo.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, lookupErr(err, func() error { return orderNotFound(orderNumber) }, "failed to load order")
	}

	if order.Status.IsTerminal() {
		return nil, invalidState("order %s is %s and can no longer change", orderNumber, order.Status)
	}

	oldStatus := order.Status
	changing := upd.Status != nil && *upd.Status != oldStatus

	if changing {
		if !transitionAllowed(oldStatus, *upd.Status) {
			return nil, transitionDenied(fmt.Sprintf("order %s cannot move from %s to %s", orderNumber, oldStatus, *upd.Status))
		}

		if *upd.Status == models.OrderStatusOutForDelivery {
			decision, err := s.authorize(ctx, order, fulfillment.StageOutForDelivery)
			if err != nil {
				return nil, err
			}
			if !decision.Allowed {
				return nil, transitionDenied(fmt.Sprintf("order %s cannot go out for delivery: %s", orderNumber, decision.Reason))
			}
		}
	}

	change := repository.OrderUpdate{TrackingNumber: upd.TrackingNumber}
	if changing {
		change.Status = upd.Status
	}
	if upd.EstimatedDelivery != nil {
		eta := upd.EstimatedDelivery.UTC()
		change.EstimatedDelivery = &eta
	}

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		change.UpdatedAt = s.now()

		if err := s.orderRepo.UpdateInTx(ctx, tx, order.ID, oldStatus, change); err != nil {
			return err
		}

		if order, err = s.orderRepo.GetByIDInTx(ctx, tx, order.ID); err != nil {
			return err
		}

		if !changing {
			return nil
		}

		outboxMsg, err := models.NewOrderEvent(models.EventOrderStatusChanged, models.OrderEventData{
			Order:     order,
			OldStatus: string(oldStatus),
			Actor:     upd.UpdatedBy,
		}, change.UpdatedAt)
		if err != nil {
			s.logger.Error("Failed to create outbox message", "error", err)
			return internalErr("failed to create outbox message", err)
		}

		return s.outboxRepo.CreateInTx(ctx, tx, outboxMsg)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, apperrors.NewConflictError(fmt.Sprintf("order %s changed concurrently, reload and retry", orderNumber))
		}
		return nil, passThrough("failed to update order", err)
	}

	if order.Payment, err = s.ledger.activePayment(ctx, order.ID); err != nil {
		return nil, passThrough("failed to load payment", err)
	}

	s.logger.Info("Order updated",
		"orderNumber", orderNumber,
		"oldStatus", oldStatus,
		"newStatus", order.Status,
		"updatedBy", upd.UpdatedBy)

	return order, nil
}
