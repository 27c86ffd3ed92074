package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"
	"carpool/pkg/metrics"
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrQueueClosed = errors.New("notification queue is closed")
)

// Handler consumes one committed booking event.
type Handler func(ctx context.Context, event domain.BookingEvent)

// QueuePublisher is the in-process event path: a bounded channel drained by a
// fixed pool of workers. Publish never blocks; when the buffer is full the
// event is dropped and counted.
type QueuePublisher struct {
	queue   chan domain.BookingEvent
	handler Handler
	workers int
	logger  logger.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex // guards closed against concurrent Publish
	closed bool
	wg     sync.WaitGroup
}

func NewQueuePublisher(handler Handler, workers, size int, log logger.Logger, m *metrics.Metrics) *QueuePublisher {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &QueuePublisher{
		queue:   make(chan domain.BookingEvent, size),
		handler: handler,
		workers: workers,
		logger:  log.WithFields(logger.LogFields{"component": "notification_queue"}),
		metrics: m,
	}
}

// Start launches the worker pool. Workers exit when ctx ends or Close drains the queue.
func (p *QueuePublisher) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	p.logger.Info("queue_started", fmt.Sprintf("Started %d notification workers", p.workers))
}

func (p *QueuePublisher) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-p.queue:
			if !ok {
				return
			}
			p.metrics.QueueDepth(len(p.queue))
			p.handler(ctx, e)
		}
	}
}

func (p *QueuePublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	e, ok := event.(domain.BookingEvent)
	if !ok {
		return fmt.Errorf("unsupported event type: %s", event.EventType())
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}

	select {
	case p.queue <- e:
		p.metrics.QueueDepth(len(p.queue))
		return nil
	default:
		p.metrics.IntentDropped()
		p.logger.WithFields(logger.LogFields{
			"booking_id": e.BookingID,
			"trip_id":    e.TripID,
			"event_type": e.EventType(),
		}).Error("intent_dropped", ErrQueueFull)
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the workers to drain the queue.
func (p *QueuePublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
