package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"
	"carpool/pkg/metrics"
)

const defaultDeliveryTimeout = 5 * time.Second

// LiveNotifier mirrors payloads to open websocket sessions and reports how
// many received it.
type LiveNotifier interface {
	SendToUser(userID string, message interface{}) int
}

// LiveMessage is the websocket frame carrying a notification.
type LiveMessage struct {
	Type    string               `json:"type"`
	Payload Payload              `json:"payload"`
	Event   *domain.BookingEvent `json:"event,omitempty"`
}

// DeliveryReport summarises one NotifyUser call.
type DeliveryReport struct {
	Sent   int `json:"sent"`
	Pruned int `json:"pruned"`
	Failed int `json:"failed"`
	Live   int `json:"live"`
}

// Dispatcher fans a notification out to every push endpoint of the recipient.
// Delivery failures are logged and counted, never returned to the booking flow.
type Dispatcher struct {
	registry *Registry
	sender   Sender
	live     LiveNotifier
	log      logger.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
}

type DispatcherOption func(*Dispatcher)

func WithLiveNotifier(live LiveNotifier) DispatcherOption {
	return func(d *Dispatcher) { d.live = live }
}

func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(registry *Registry, sender Sender, log logger.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		sender:   sender,
		log:      log.WithFields(logger.LogFields{"component": "notification_dispatcher"}),
		timeout:  defaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch notifies the recipient of a committed booking event.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.BookingEvent) {
	recipient := event.Recipient()
	if recipient == "" {
		return
	}
	report, err := d.deliver(ctx, recipient, PayloadFor(event), &event)

	log := d.log.WithFields(logger.LogFields{
		"event_id":   event.ID,
		"kind":       string(event.Kind),
		"booking_id": event.BookingID,
		"user_id":    recipient,
		"sent":       report.Sent,
		"pruned":     report.Pruned,
		"failed":     report.Failed,
		"live":       report.Live,
	})
	if err != nil && !errors.Is(err, ErrNoSubscriptions) {
		log.Error("notification_dispatch_failed", err)
		return
	}
	log.Debug("notification_dispatched", "Booking notification dispatched")
}

// NotifyUser sends payload to every endpoint userID registered. It returns
// ErrNoSubscriptions when nothing could be reached.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID string, payload Payload) (DeliveryReport, error) {
	return d.deliver(ctx, userID, payload, nil)
}

// SendTest pushes the fixed test payload to the caller's own endpoints.
func (d *Dispatcher) SendTest(ctx context.Context, userID string) (DeliveryReport, error) {
	return d.NotifyUser(ctx, userID, TestPayload)
}

func (d *Dispatcher) deliver(ctx context.Context, userID string, payload Payload, event *domain.BookingEvent) (DeliveryReport, error) {
	var report DeliveryReport

	if d.live != nil {
		report.Live = d.live.SendToUser(userID, LiveMessage{Type: "notification", Payload: payload, Event: event})
	}

	subs, err := d.registry.ListForUser(ctx, userID)
	if err != nil {
		return report, err
	}
	if len(subs) == 0 {
		d.metrics.Delivery("no_subscription")
		if report.Live > 0 {
			return report, nil
		}
		return report, ErrNoSubscriptions
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return report, fmt.Errorf("marshal payload: %w", err)
	}

	for _, sub := range subs {
		err := d.sendOne(ctx, sub, body)
		switch {
		case err == nil:
			report.Sent++
			d.metrics.Delivery("sent")
		case errors.Is(err, ErrEndpointGone):
			d.metrics.Delivery("gone")
			if pruneErr := d.registry.Prune(ctx, sub.UserID, sub.Endpoint); pruneErr != nil && !errors.Is(pruneErr, ErrSubscriptionMissing) {
				d.log.Error("push_prune_failed", pruneErr)
				report.Failed++
				continue
			}
			report.Pruned++
		default:
			report.Failed++
			d.metrics.Delivery("failed")
			d.log.WithFields(logger.LogFields{
				"user_id":         userID,
				"subscription_id": sub.ID,
			}).Error("push_send_failed", err)
		}
	}
	return report, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, sub Subscription, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sender.Send(ctx, sub, body)
}
