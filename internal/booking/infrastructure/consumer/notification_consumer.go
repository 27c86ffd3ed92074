package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"carpool/internal/booking/domain"
	"carpool/internal/booking/infrastructure/messaging"
	"carpool/pkg/logger"
	"carpool/pkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Source is the part of rabbitmq.Connection the consumer needs.
type Source interface {
	Consume(ctx context.Context, queueName string, handler func(amqp.Delivery))
}

// NotificationConsumer feeds booking events from the notification queue to
// the dispatcher. Delivery is best effort: every well-formed message is acked
// after the handler returns, malformed ones are rejected without requeue.
type NotificationConsumer struct {
	source  Source
	handler messaging.Handler
	log     logger.Logger
}

func New(source Source, handler messaging.Handler, log logger.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		source:  source,
		handler: handler,
		log:     log.WithFields(logger.LogFields{"component": "notification_consumer"}),
	}
}

// StartConsuming subscribes to the notification queue until ctx ends.
func (c *NotificationConsumer) StartConsuming(ctx context.Context) {
	c.log.WithFields(logger.LogFields{
		"queue": rabbitmq.NotificationQueue,
	}).Info("consumer_starting", "Starting booking notification consumer")

	c.source.Consume(ctx, rabbitmq.NotificationQueue, func(msg amqp.Delivery) {
		c.handle(ctx, msg)
	})
}

func (c *NotificationConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	var event domain.BookingEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("unmarshal_booking_event_failed", err)
		msg.Nack(false, false)
		return
	}
	if !event.Kind.IsValid() {
		c.log.WithFields(logger.LogFields{
			"routing_key": msg.RoutingKey,
		}).Error("unknown_booking_event", fmt.Errorf("unknown event kind %q", event.Kind))
		msg.Nack(false, false)
		return
	}

	c.log.WithFields(logger.LogFields{
		"booking_id": event.BookingID,
		"trip_id":    event.TripID,
		"event_type": event.EventType(),
	}).Debug("booking_event_received", "Booking event received")

	c.handler(ctx, event)
	msg.Ack(false)
}
