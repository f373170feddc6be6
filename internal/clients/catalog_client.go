package clients

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/vaidashi/storefront-orders/internal/models"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// CatalogClient reads products from the catalog service
type CatalogClient struct {
	*jsonClient
}

// NewCatalogClient creates a new CatalogClient
func NewCatalogClient(baseURL string, timeout time.Duration, logger logger.Logger) *CatalogClient {
	return &CatalogClient{jsonClient: newJSONClient("catalog", baseURL, timeout, logger)}
}

// GetProduct returns the product or a PRODUCT_NOT_FOUND error
func (c *CatalogClient) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product

	err := c.get(ctx, "/api/v1/products/"+url.PathEscape(id), &product, func() error {
		return apperrors.NewNotFoundError(fmt.Sprintf("product %s not found", id)).
			WithCode(apperrors.CodeProductNotFound).
			WithContext("product_id", id)
	})
	if err != nil {
		return nil, err
	}

	if product.ID == "" {
		product.ID = id
	}
	return &product, nil
}

// CustomerClient reads customers from the customer directory
type CustomerClient struct {
	*jsonClient
}

// NewCustomerClient creates a new CustomerClient
func NewCustomerClient(baseURL string, timeout time.Duration, logger logger.Logger) *CustomerClient {
	return &CustomerClient{jsonClient: newJSONClient("customers", baseURL, timeout, logger)}
}

// GetCustomer returns the customer or a CUSTOMER_NOT_FOUND error
func (c *CustomerClient) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer

	err := c.get(ctx, "/api/v1/customers/"+url.PathEscape(id), &customer, func() error {
		return apperrors.NewNotFoundError(fmt.Sprintf("customer %s not found", id)).
			WithCode(apperrors.CodeCustomerNotFound).
			WithContext("customer_id", id)
	})
	if err != nil {
		return nil, err
	}

	if customer.ID == "" {
		customer.ID = id
	}
	return &customer, nil
}
