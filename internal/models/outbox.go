package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Event types written to the outbox
const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventOrdersPurged       = "orders_purged"
	EventPaymentProcessing  = "payment_processing"
	EventPaymentVerified    = "payment_verified"
	EventPaymentFailed      = "payment_failed"
	EventPaymentRejected    = "payment_rejected"
	EventPaymentRetried     = "payment_retried"
	EventCODAdvanceVerified = "cod_advance_verified"
	EventCODCollected       = "cod_collected"
	EventRefundRecorded     = "refund_recorded"
	EventOfflineProofAdded  = "offline_proof_submitted"
)

// EventTypes lists every event type the service emits
var EventTypes = []string{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrdersPurged,
	EventPaymentProcessing,
	EventPaymentVerified,
	EventPaymentFailed,
	EventPaymentRejected,
	EventPaymentRetried,
	EventCODAdvanceVerified,
	EventCODCollected,
	EventRefundRecorded,
	EventOfflineProofAdded,
}

const (
	AggregateOrder = "order"
	AggregateBatch = "order_batch"
)

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the envelope stored as the outbox payload
type OutboxMessageEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// OrderEventData is carried by every event about a single order
type OrderEventData struct {
	Order     *Order   `json:"order"`
	Payment   *Payment `json:"payment,omitempty"`
	OldStatus string   `json:"old_status,omitempty"`
	Actor     string   `json:"actor,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// OrdersPurgedData is carried by the orders_purged event
type OrdersPurgedData struct {
	OrderNumbers []string  `json:"order_numbers"`
	Cutoff       time.Time `json:"cutoff"`
}

func newOutboxMessage(eventType, aggregateType, aggregateID string, data interface{}, now time.Time) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateID("evt"),
		AggregateID: aggregateID,
		OccurredAt:  now,
		Data:        raw,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		EventType:     eventType,
		Payload:       payload,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		CreatedAt:     now,
		Status:        OutboxStatusPending,
	}, nil
}

// NewOrderEvent creates an event about one order, keyed by its order number
func NewOrderEvent(eventType string, data OrderEventData, now time.Time) (*OutboxMessage, error) {
	return newOutboxMessage(eventType, AggregateOrder, data.Order.OrderNumber, data, now)
}

// NewOrdersPurgedEvent creates the event emitted after a cleanup sweep
func NewOrdersPurgedEvent(orderNumbers []string, cutoff, now time.Time) (*OutboxMessage, error) {
	return newOutboxMessage(EventOrdersPurged, AggregateBatch, GenerateID("sweep"),
		OrdersPurgedData{OrderNumbers: orderNumbers, Cutoff: cutoff}, now)
}

// DecodeEvent parses an outbox payload
func DecodeEvent(payload []byte) (*OutboxMessageEvent, error) {
	var event OutboxMessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
