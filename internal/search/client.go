// Package search keeps an Elasticsearch index of order snapshots for reporting.
package search

import (
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// NewClient connects to Elasticsearch and checks the cluster answers
func NewClient(ctx context.Context, cfg config.SearchConfig, log logger.Logger) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to reach Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info: %s", res.Status())
	}

	log.Info("Connected to Elasticsearch", "url", cfg.URL, "index", cfg.OrdersIndex)
	return client, nil
}
