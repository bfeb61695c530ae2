package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QueueProducer defines the output port for publishing domain events.
type QueueProducer interface {
	PublishNotification(ctx context.Context, body interface{}) error
}

// MessageSender defines the interface for sending raw messages to a messaging system.
type MessageSender interface {
	SendMessage(ctx context.Context, destination string, body []byte) error
}

// Producer publishes domain events through a MessageSender.
type Producer struct {
	sender               MessageSender
	notificationQueueURL string
}

func NewProducer(sender MessageSender, notificationQueueURL string) *Producer {
	return &Producer{
		sender:               sender,
		notificationQueueURL: notificationQueueURL,
	}
}

func (p *Producer) PublishNotification(ctx context.Context, body interface{}) error {
	return p.publish(ctx, p.notificationQueueURL, body)
}

func (p *Producer) publish(ctx context.Context, destination string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	// Enrich the current span with the payment id if available
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		var payload struct {
			PaymentID string `json:"paymentId"`
		}
		if err := json.Unmarshal(b, &payload); err == nil && payload.PaymentID != "" {
			span.SetAttributes(attribute.String("app.paymentId", payload.PaymentID))
		}
	}

	if err := p.sender.SendMessage(ctx, destination, b); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
