package service

import (
	"context"
	"errors"
	"time"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"
	"carpool/pkg/metrics"
)

const (
	maxTxAttempts         = 3
	defaultPublishTimeout = 5 * time.Second
)

// EventPublisher is the interface for publishing domain events
type EventPublisher interface {
	Publish(ctx context.Context, event domain.DomainEvent) error
}

// TripCache caches trip snapshots for reads. Implementations must treat
// failures as misses. Get reports, on a miss, the version Set must be given:
// Set drops the snapshot if Invalidate ran for the trip since that version.
type TripCache interface {
	Get(ctx context.Context, tripID string) (trip *domain.Trip, version int64, ok bool)
	Set(ctx context.Context, trip *domain.Trip, version int64)
	Invalidate(ctx context.Context, tripID string)
}

// BookingService is the reservation engine. Capacity mutations go through
// Store.InTrip; events are published only after the transaction commits.
type BookingService struct {
	store          domain.Store
	eventPublisher EventPublisher
	cache          TripCache
	logger         logger.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
	publishTimeout time.Duration
}

type Option func(*BookingService)

func WithTripCache(c TripCache) Option {
	return func(s *BookingService) { s.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *BookingService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *BookingService) { s.now = now }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(s *BookingService) { s.publishTimeout = d }
}

// NewBookingService creates a new engine instance
func NewBookingService(store domain.Store, eventPublisher EventPublisher, log logger.Logger, opts ...Option) *BookingService {
	s := &BookingService{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         log,
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTrip runs fn under the trip's write lock, retrying when the store
// reports a lost compare-and-set.
func (s *BookingService) inTrip(ctx context.Context, tripID string, fn func(tx domain.TripTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.store.InTrip(ctx, tripID, fn)
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			return err
		}
		s.logger.WithFields(logger.LogFields{
			"trip_id": tripID,
			"attempt": attempt,
		}).Debug("trip_tx_retry", "Concurrent trip update, retrying")
	}
	return err
}

// publish hands committed events to the publisher. The caller's cancellation
// does not reach the publisher; delivery failures are only logged.
func (s *BookingService) publish(ctx context.Context, events []domain.BookingEvent) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	for _, e := range events {
		s.metrics.Transition(string(e.Kind))
		if s.eventPublisher == nil {
			continue
		}
		if err := s.eventPublisher.Publish(ctx, e); err != nil {
			// The booking is already committed
			s.logger.WithFields(logger.LogFields{
				"booking_id": e.BookingID,
				"trip_id":    e.TripID,
				"event_type": e.EventType(),
			}).Error("publish_event_failed", err)
		}
	}
}

func (s *BookingService) invalidateTrip(ctx context.Context, tripID string) {
	if s.cache != nil {
		s.cache.Invalidate(context.WithoutCancel(ctx), tripID)
	}
}

// reject counts a failed operation by its classification code and passes err through.
func (s *BookingService) reject(err error) error {
	if err != nil {
		s.metrics.Rejection(domain.Classify(err).Code)
	}
	return err
}
