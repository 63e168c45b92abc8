package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Topic carries every clinic domain event; consumers filter on Type.
const Topic = "clinic.events"

// Event types published by the domain services.
const (
	TypeAppointmentBooked    = "appointment.booked"
	TypeAppointmentConfirmed = "appointment.confirmed"
	TypeAppointmentCancelled = "appointment.cancelled"
	TypeBillIssued           = "bill.issued"
	TypePaymentRecorded      = "payment.recorded"
)

// Event is the wire format for domain events.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Subject    uuid.UUID         `json:"subject"`
	Data       map[string]string `json:"data,omitempty"`
}

// New builds an event for the given subject entity.
func New(eventType string, subject uuid.UUID, data map[string]string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Subject:    subject,
		Data:       data,
	}
}

// Publisher delivers domain events. Publishing is fire-and-forget from the
// caller's point of view: failures are returned but must never roll back the
// business transaction that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher connects to the given brokers and returns a publisher
// writing to the clinic events topic.
func NewKafkaPublisher(brokers []string) (Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	defer conn.Close()

	return &kafkaPublisher{writer: writer}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Subject.String()),
		Value: value,
	})
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewReader returns a consumer-group reader for the clinic events topic.
func NewReader(brokers []string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

type noopPublisher struct{}

// NewNoop returns a publisher that drops every event. Used when brokers are
// not configured and in tests.
func NewNoop() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, Event) error { return nil }
func (noopPublisher) Close() error                         { return nil }
