package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const orderColumns = `
	o.id, o.order_number, o.customer_id, o.customer_name, o.customer_email, o.total, o.status, o.payment_status, o.payment_method,
	o.advance_amount, o.billing_address_id, o.shipping_address_id,
	o.shipping_street, o.shipping_city, o.shipping_state, o.shipping_zip, o.shipping_country,
	o.tracking_number, o.estimated_delivery, o.created_at, o.updated_at,
	COALESCE((
		SELECT c.advance_verified FROM payment_cod c
		JOIN payments p ON p.id = c.payment_id
		WHERE p.order_id = o.id AND p.active
	), false) AS advance_verified`

// OrderFilter narrows ListOrders
type OrderFilter struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	CustomerID    string
	Search        string
	Limit         int
	Offset        int
}

// OrderUpdate lists the order columns a conditional update may set. Nil fields are left alone.
type OrderUpdate struct {
	Status            *models.OrderStatus
	PaymentStatus     *models.PaymentStatus
	AdvanceAmount     *decimal.Decimal
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	UpdatedAt         time.Time
}

// OrderRepository handles database operations for orders
type OrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// AcquireCreationGuardInTx takes the per-customer creation guard row for the rest of tx
func (r *OrderRepository) AcquireCreationGuardInTx(ctx context.Context, tx *sqlx.Tx, customerID string, now time.Time) error {
	query := tx.Rebind(`
		INSERT INTO order_creation_guards (customer_id, last_attempt_at)
		VALUES (?, ?)
		ON CONFLICT (customer_id) DO UPDATE SET last_attempt_at = excluded.last_attempt_at
	`)

	if _, err := tx.ExecContext(ctx, query, customerID, now); err != nil {
		r.logger.Error("Failed to acquire order creation guard", "error", err, "customerID", customerID)
		return dbErr(err)
	}
	return nil
}

// FindRecentPendingInTx returns the newest order of the customer that is still
// pending with a pending payment and was created at or after since
func (r *OrderRepository) FindRecentPendingInTx(ctx context.Context, tx *sqlx.Tx, customerID string, since time.Time) (*models.Order, error) {
	query := tx.Rebind(`SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.customer_id = ? AND o.status = ? AND o.payment_status = ? AND o.created_at >= ?
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT 1
	`)

	var order models.Order
	err := sqlx.GetContext(ctx, tx, &order, query,
		customerID, models.OrderStatusPending, models.PaymentStatusPending, since)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to look up recent pending order", "error", err, "customerID", customerID)
		return nil, dbErr(err)
	}

	return &order, r.loadItems(ctx, tx, &order)
}

// CreateInTx inserts the order and its items
func (r *OrderRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := tx.Rebind(`
		INSERT INTO orders (
			order_number, customer_id, customer_name, customer_email, total, status, payment_status, payment_method,
			advance_amount, billing_address_id, shipping_address_id,
			shipping_street, shipping_city, shipping_state, shipping_zip, shipping_country,
			tracking_number, estimated_delivery, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := tx.QueryRowxContext(ctx, query,
		order.OrderNumber,
		order.CustomerID,
		order.CustomerName,
		order.CustomerEmail,
		order.Total,
		order.Status,
		order.PaymentStatus,
		order.PaymentMethod,
		order.AdvanceAmount,
		order.BillingAddressID,
		order.ShippingAddressID,
		order.Street,
		order.City,
		order.State,
		order.Zip,
		order.Country,
		order.TrackingNumber,
		order.EstimatedDelivery,
		order.CreatedAt,
		order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		if isKeyCollision(err, "order_number") {
			r.logger.Warn("Order number already taken", "orderNumber", order.OrderNumber)
			return fmt.Errorf("%w: order number %s", ErrDuplicateKey, order.OrderNumber)
		}
		r.logger.Error("Failed to create order", "error", err, "orderNumber", order.OrderNumber)
		return dbErr(err)
	}

	itemQuery := tx.Rebind(`
		INSERT INTO order_items (order_id, product_id, product_name, product_image, quantity, price, total)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		err := tx.QueryRowxContext(ctx, itemQuery,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.ProductImage,
			item.Quantity,
			item.Price,
			item.Total(),
		).Scan(&item.ID)
		if err != nil {
			r.logger.Error("Failed to create order item", "error", err, "orderNumber", order.OrderNumber, "productID", item.ProductID)
			return dbErr(err)
		}
	}

	return nil
}

// GetByNumber retrieves an order with its items by order number
func (r *OrderRepository) GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return r.getByNumber(ctx, r.db.DB, orderNumber)
}

// GetByNumberInTx is GetByNumber inside tx
func (r *OrderRepository) GetByNumberInTx(ctx context.Context, tx *sqlx.Tx, orderNumber string) (*models.Order, error) {
	return r.getByNumber(ctx, tx, orderNumber)
}

func (r *OrderRepository) getByNumber(ctx context.Context, q sqlx.ExtContext, orderNumber string) (*models.Order, error) {
	query := q.Rebind(`SELECT ` + orderColumns + ` FROM orders o WHERE o.order_number = ?`)

	var order models.Order
	if err := sqlx.GetContext(ctx, q, &order, query, orderNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by number", "error", err, "orderNumber", orderNumber)
		return nil, dbErr(err)
	}

	return &order, r.loadItems(ctx, q, &order)
}

// GetByIDInTx retrieves an order by its internal id inside tx
func (r *OrderRepository) GetByIDInTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Order, error) {
	query := tx.Rebind(`SELECT ` + orderColumns + ` FROM orders o WHERE o.id = ?`)

	var order models.Order
	if err := sqlx.GetContext(ctx, tx, &order, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, dbErr(err)
	}

	return &order, r.loadItems(ctx, tx, &order)
}

func (r *OrderRepository) loadItems(ctx context.Context, q sqlx.ExtContext, order *models.Order) error {
	query := q.Rebind(`
		SELECT id, order_id, product_id, product_name, product_image, quantity, price
		FROM order_items
		WHERE order_id = ?
		ORDER BY id
	`)

	var items []models.OrderItem
	if err := sqlx.SelectContext(ctx, q, &items, query, order.ID); err != nil {
		r.logger.Error("Failed to load order items", "error", err, "orderNumber", order.OrderNumber)
		return dbErr(err)
	}

	order.Items = items
	return nil
}

// List returns a page of orders matching filter, newest first, and the total match count
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*models.Order, int, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.Status != "" {
		where = append(where, "o.status = ?")
		args = append(args, filter.Status)
	}
	if filter.PaymentStatus != "" {
		where = append(where, "o.payment_status = ?")
		args = append(args, filter.PaymentStatus)
	}
	if filter.CustomerID != "" {
		where = append(where, "o.customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(filter.Search)) + "%"
		where = append(where, `(LOWER(o.order_number) LIKE ? ESCAPE '\' OR LOWER(o.customer_name) LIKE ? ESCAPE '\'`+
			` OR LOWER(o.customer_email) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := r.db.Rebind(`SELECT COUNT(*) FROM orders o` + clause)
	if err := r.db.DB.GetContext(ctx, &total, countQuery, args...); err != nil {
		r.logger.Error("Failed to count orders", "error", err)
		return nil, 0, dbErr(err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := r.db.Rebind(`SELECT ` + orderColumns + ` FROM orders o` + clause +
		` ORDER BY o.created_at DESC, o.id DESC LIMIT ? OFFSET ?`)

	var orders []*models.Order
	if err := r.db.DB.SelectContext(ctx, &orders, query, append(args, limit, filter.Offset)...); err != nil {
		r.logger.Error("Failed to list orders", "error", err, "limit", limit, "offset", filter.Offset)
		return nil, 0, dbErr(err)
	}

	return orders, total, nil
}

type statusCount struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}

func (r *OrderRepository) countBy(ctx context.Context, column string) (map[string]int, error) {
	query := `SELECT ` + column + ` AS status, COUNT(*) AS count FROM orders GROUP BY ` + column

	var rows []statusCount
	if err := r.db.DB.SelectContext(ctx, &rows, query); err != nil {
		r.logger.Error("Failed to count orders by column", "error", err, "column", column)
		return nil, dbErr(err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// StatusCounts returns the number of orders per order status
func (r *OrderRepository) StatusCounts(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, "status")
}

// PaymentStatusCounts returns the number of orders per payment status
func (r *OrderRepository) PaymentStatusCounts(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, "payment_status")
}

// SumTotals returns the summed total of orders with the given payment status
func (r *OrderRepository) SumTotals(ctx context.Context, status models.PaymentStatus) (decimal.Decimal, error) {
	query := r.db.Rebind(`SELECT COALESCE(SUM(total), 0) FROM orders WHERE payment_status = ?`)

	var sum decimal.Decimal
	if err := r.db.DB.GetContext(ctx, &sum, query, status); err != nil {
		r.logger.Error("Failed to sum order totals", "error", err, "paymentStatus", status)
		return decimal.Zero, dbErr(err)
	}
	return sum, nil
}

// UpdateInTx applies upd when the order is still in expected status.
// Returns ErrStale when it is not.
func (r *OrderRepository) UpdateInTx(ctx context.Context, tx *sqlx.Tx, orderID int64, expected models.OrderStatus, upd OrderUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{upd.UpdatedAt}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.PaymentStatus != nil {
		sets = append(sets, "payment_status = ?")
		args = append(args, *upd.PaymentStatus)
	}
	if upd.AdvanceAmount != nil {
		sets = append(sets, "advance_amount = ?")
		args = append(args, *upd.AdvanceAmount)
	}
	if upd.TrackingNumber != nil {
		sets = append(sets, "tracking_number = ?")
		args = append(args, *upd.TrackingNumber)
	}
	if upd.EstimatedDelivery != nil {
		sets = append(sets, "estimated_delivery = ?")
		args = append(args, *upd.EstimatedDelivery)
	}

	query := tx.Rebind(`UPDATE orders SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`)
	args = append(args, orderID, expected)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update order", "error", err, "orderID", orderID)
		return dbErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if rowsAffected == 0 {
		return ErrStale
	}

	return nil
}

// CountStalePending counts pending/pending orders created before cutoff and
// returns up to sampleSize of their order numbers, oldest first
func (r *OrderRepository) CountStalePending(ctx context.Context, cutoff time.Time, sampleSize int) (int, []string, error) {
	var count int
	countQuery := r.db.Rebind(`SELECT COUNT(*) FROM orders WHERE status = ? AND payment_status = ? AND created_at < ?`)
	if err := r.db.DB.GetContext(ctx, &count, countQuery,
		models.OrderStatusPending, models.PaymentStatusPending, cutoff); err != nil {
		r.logger.Error("Failed to count stale pending orders", "error", err)
		return 0, nil, dbErr(err)
	}

	sample := []string{}
	if sampleSize > 0 && count > 0 {
		sampleQuery := r.db.Rebind(`
			SELECT order_number FROM orders
			WHERE status = ? AND payment_status = ? AND created_at < ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		`)
		if err := r.db.DB.SelectContext(ctx, &sample, sampleQuery,
			models.OrderStatusPending, models.PaymentStatusPending, cutoff, sampleSize); err != nil {
			r.logger.Error("Failed to sample stale pending orders", "error", err)
			return 0, nil, dbErr(err)
		}
	}

	return count, sample, nil
}

// DeleteStalePendingInTx deletes pending/pending orders created before cutoff.
// Items, payments and payment sub-records cascade. Returns the deleted order numbers.
func (r *OrderRepository) DeleteStalePendingInTx(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) ([]string, error) {
	selectQuery := tx.Rebind(`
		SELECT order_number FROM orders
		WHERE status = ? AND payment_status = ? AND created_at < ?
		ORDER BY created_at ASC, id ASC
	`)

	var numbers []string
	if err := sqlx.SelectContext(ctx, tx, &numbers, selectQuery,
		models.OrderStatusPending, models.PaymentStatusPending, cutoff); err != nil {
		r.logger.Error("Failed to select stale pending orders", "error", err)
		return nil, dbErr(err)
	}
	if len(numbers) == 0 {
		return numbers, nil
	}

	args := make([]interface{}, 0, len(numbers)+2)
	args = append(args, models.OrderStatusPending, models.PaymentStatusPending)
	for _, n := range numbers {
		args = append(args, n)
	}

	deleteQuery := tx.Rebind(`DELETE FROM orders WHERE status = ? AND payment_status = ? AND order_number IN (` +
		placeholders(len(numbers)) + `)`)

	result, err := tx.ExecContext(ctx, deleteQuery, args...)
	if err != nil {
		r.logger.Error("Failed to delete stale pending orders", "error", err)
		return nil, dbErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, dbErr(err)
	}
	if int(rowsAffected) != len(numbers) {
		return nil, ErrStale
	}

	return numbers, nil
}
