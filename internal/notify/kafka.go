package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// MessageWriter is the part of *kafka.Writer the event channel uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderEvent is the record published for every order notification.
type OrderEvent struct {
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	OrderID     int64          `json:"order_id"`
	RecipientID int64          `json:"recipient_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Data        map[string]any `json:"data,omitempty"`
}

// EventChannel publishes order events for downstream consumers such as the
// regulator audit trail.
type EventChannel struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func NewEventChannel(writer MessageWriter) *EventChannel {
	return &EventChannel{writer: writer, now: time.Now}
}

func (c *EventChannel) Name() string { return "kafka" }

func (c *EventChannel) Send(ctx context.Context, msg Message) error {
	if msg.OrderID == 0 {
		return backoff.Permanent(errors.New("order event without order id"))
	}

	event := OrderEvent{
		EventID:     uuid.NewString(),
		Type:        EventType(msg.TemplateKey),
		OrderID:     msg.OrderID,
		RecipientID: msg.RecipientID,
		OccurredAt:  c.now().UTC(),
		Data:        msg.Data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal order event: %w", err))
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)})
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err = c.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(strconv.FormatInt(msg.OrderID, 10)),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func (c *EventChannel) Close() error {
	return c.writer.Close()
}

// EventType maps a template key such as "order_approved" to "order.approved".
func EventType(templateKey string) string {
	if templateKey == "" {
		return "order.notification"
	}
	return strings.Replace(templateKey, "_", ".", 1)
}
