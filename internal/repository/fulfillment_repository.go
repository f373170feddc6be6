package repository

import (
	"context"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// FulfillmentRepository answers existence questions about invoices and shipment
// details, which are written by the invoicing and logistics services
type FulfillmentRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewFulfillmentRepository creates a new FulfillmentRepository
func NewFulfillmentRepository(db *database.Database, logger logger.Logger) *FulfillmentRepository {
	return &FulfillmentRepository{
		db:     db,
		logger: logger,
	}
}

func (r *FulfillmentRepository) exists(ctx context.Context, table string, orderID int64) (bool, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM ` + table + ` WHERE order_id = ?`)

	var n int
	if err := r.db.DB.GetContext(ctx, &n, query, orderID); err != nil {
		r.logger.Error("Failed to check fulfillment record", "error", err, "table", table, "orderID", orderID)
		return false, dbErr(err)
	}
	return n > 0, nil
}

// HasInvoice reports whether an invoice exists for the order
func (r *FulfillmentRepository) HasInvoice(ctx context.Context, orderID int64) (bool, error) {
	return r.exists(ctx, "invoices", orderID)
}

// HasShipmentDetails reports whether shipment details exist for the order
func (r *FulfillmentRepository) HasShipmentDetails(ctx context.Context, orderID int64) (bool, error) {
	return r.exists(ctx, "shipment_details", orderID)
}
