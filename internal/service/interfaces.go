package service

import (
	"context"

	"github.com/vaidashi/storefront-orders/internal/models"
)

// CatalogReader resolves products. A missing product is a NotFound AppError.
type CatalogReader interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
}

// CustomerDirectory resolves customers. A missing customer is a NotFound AppError.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
}

// FulfillmentRecords answers existence questions about an order's invoice and shipment details
type FulfillmentRecords interface {
	HasInvoice(ctx context.Context, orderID int64) (bool, error)
	HasShipmentDetails(ctx context.Context, orderID int64) (bool, error)
}

// GatewayVerifier checks the signature the payment gateway returned to the client
type GatewayVerifier interface {
	Verify(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (bool, error)
}
