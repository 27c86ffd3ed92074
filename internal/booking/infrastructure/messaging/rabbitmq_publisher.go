package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"
	"carpool/pkg/rabbitmq"
)

// Broker is the part of rabbitmq.Connection the publisher needs.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// RabbitMQEventPublisher implements service.EventPublisher on the booking exchange.
type RabbitMQEventPublisher struct {
	broker Broker
	logger logger.Logger
}

// NewRabbitMQEventPublisher creates a new RabbitMQ event publisher
func NewRabbitMQEventPublisher(broker Broker, log logger.Logger) *RabbitMQEventPublisher {
	return &RabbitMQEventPublisher{
		broker: broker,
		logger: log,
	}
}

// Publish sends a booking event to booking_topic under booking.<kind>.
func (p *RabbitMQEventPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	e, ok := event.(domain.BookingEvent)
	if !ok {
		return fmt.Errorf("unsupported event type: %s", event.EventType())
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	routingKey := e.Kind.RoutingKey()
	if err := p.broker.Publish(ctx, rabbitmq.BookingExchange, routingKey, body); err != nil {
		return fmt.Errorf("publish to rabbitmq: %w", err)
	}

	p.logger.WithFields(logger.LogFields{
		"event_type":  e.EventType(),
		"routing_key": routingKey,
		"booking_id":  e.BookingID,
	}).Debug("event_published", "Booking event published to RabbitMQ")
	return nil
}
