package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rookgm/flyem/internal/models"
	"github.com/twmb/franz-go/pkg/kgo"
)

// event types
const (
	OrderCreated       = "order_created"
	OrderStatusChanged = "order_status_changed"
)

const schemaVersion = "1.0"

// OrderEvent is the message value of order lifecycle events
type OrderEvent struct {
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	IsPaid        bool      `json:"is_paid"`
	TotalPrice    string    `json:"total_price"`
	FulfillmentID string    `json:"fulfillment_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher publishes order events to a topic
type KafkaPublisher struct {
	client  producer
	topic   string
	timeout time.Duration
}

// NewKafkaPublisher creates new KafkaPublisher instance, delivery of one event is limited by timeout
func NewKafkaPublisher(brokers []string, topic string, timeout time.Duration) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordDeliveryTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaPublisher{client: client, topic: topic, timeout: timeout}, nil
}

// Publish writes event keyed by order id
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, order models.Order) error {
	record, err := newRecord(p.topic, eventType, order, time.Now())
	if err != nil {
		return err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce %s: %w", eventType, err)
	}

	return nil
}

// Close flushes and closes the client
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

func newRecord(topic, eventType string, order models.Order, now time.Time) (*kgo.Record, error) {
	ev := OrderEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		State:      string(order.State),
		Status:     order.Status,
		IsPaid:     order.IsPaid,
		TotalPrice: order.TotalPrice.StringFixed(2),
		OccurredAt: now,
	}
	if order.FulfillmentID != nil {
		ev.FulfillmentID = *order.FulfillmentID
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order event: %w", err)
	}

	return &kgo.Record{
		Topic: topic,
		Key:   []byte(order.ID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "version", Value: []byte(schemaVersion)},
		},
		Timestamp: now,
	}, nil
}

// Nop drops events
type Nop struct{}

func (Nop) Publish(context.Context, string, models.Order) error {
	return nil
}
