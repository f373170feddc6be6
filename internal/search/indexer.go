package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// OrderDocument is what gets indexed per order number
type OrderDocument struct {
	OrderNumber string          `json:"order_number"`
	Order       json.RawMessage `json:"order"`
	Payment     json.RawMessage `json:"payment,omitempty"`
	LastEvent   string          `json:"last_event"`
	LastEventID string          `json:"last_event_id"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderIndexer is an outbox handler that mirrors order events into Elasticsearch.
// Documents are versioned by event time, so a late redelivery never overwrites newer state.
type OrderIndexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

// NewOrderIndexer creates a new OrderIndexer
func NewOrderIndexer(client *elasticsearch.Client, index string, logger logger.Logger) *OrderIndexer {
	return &OrderIndexer{
		client: client,
		index:  index,
		logger: logger,
	}
}

// HandleMessage indexes the order snapshot carried by the event, or deletes purged orders
func (h *OrderIndexer) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, err := models.DecodeEvent(message.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	if event.EventType == models.EventOrdersPurged {
		return h.deleteOrders(ctx, event)
	}
	return h.indexOrder(ctx, event)
}

func (h *OrderIndexer) indexOrder(ctx context.Context, event *models.OutboxMessageEvent) error {
	// decoded loosely: the payment detail is polymorphic
	var data struct {
		Order   json.RawMessage `json:"order"`
		Payment json.RawMessage `json:"payment"`
	}
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode order event data: %w", err)
	}
	if len(data.Order) == 0 {
		return fmt.Errorf("event %s carries no order", event.EventID)
	}

	body, err := json.Marshal(OrderDocument{
		OrderNumber: event.AggregateID,
		Order:       data.Order,
		Payment:     data.Payment,
		LastEvent:   event.EventType,
		LastEventID: event.EventID,
		UpdatedAt:   event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode order document: %w", err)
	}

	res, err := h.client.Index(h.index, bytes.NewReader(body),
		h.client.Index.WithContext(ctx),
		h.client.Index.WithDocumentID(event.AggregateID),
		h.client.Index.WithVersion(int(event.OccurredAt.UnixNano())),
		h.client.Index.WithVersionType("external"),
	)
	if err != nil {
		return fmt.Errorf("failed to index order %s: %w", event.AggregateID, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		h.logger.Debug("Skipping stale order event", "orderNumber", event.AggregateID, "eventID", event.EventID)
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("failed to index order %s: %s", event.AggregateID, readError(res.Body, res.Status()))
	}

	h.logger.Debug("Order indexed", "orderNumber", event.AggregateID, "eventType", event.EventType)
	return nil
}

func (h *OrderIndexer) deleteOrders(ctx context.Context, event *models.OutboxMessageEvent) error {
	var data models.OrdersPurgedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode purge event data: %w", err)
	}

	for _, number := range data.OrderNumbers {
		res, err := h.client.Delete(h.index, number, h.client.Delete.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to delete order %s from index: %w", number, err)
		}

		status, failed := res.StatusCode, res.IsError()
		msg := ""
		if failed {
			msg = readError(res.Body, res.Status())
		}
		res.Body.Close()

		if failed && status != http.StatusNotFound {
			return fmt.Errorf("failed to delete order %s from index: %s", number, msg)
		}
	}

	h.logger.Info("Purged orders removed from index", "count", len(data.OrderNumbers))
	return nil
}

func readError(body io.Reader, status string) string {
	b, _ := io.ReadAll(io.LimitReader(body, 512))
	if len(b) == 0 {
		return status
	}
	return status + ": " + string(b)
}
