package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"carpool/pkg/config"
	"carpool/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	maxRetries    = 10
	retryInterval = 3 * time.Second
	maxBackoff    = 30 * time.Second
)

// Exchange and queue names used by the booking event stream.
const (
	BookingExchange          = "booking_topic"
	NotificationQueue        = "booking_notifications"
	NotificationRoutingMatch = "booking.#"
)

var ErrNotConnected = errors.New("rabbitmq is not connected")

// Connection wraps an amqp.Connection with a dedicated publishing channel and
// transparent reconnection.
type Connection struct {
	logger      logger.Logger
	dsn         string
	conn        *amqp.Connection
	pubChannel  *amqp.Channel
	mu          sync.RWMutex // guards conn, pubChannel and isConnected
	isConnected bool
	notifyClose chan *amqp.Error
	done        chan struct{}
	closeOnce   sync.Once
}

func NewConnection(cfg *config.Config, log logger.Logger) (*Connection, error) {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQ.User,
		cfg.RabbitMQ.Password,
		cfg.RabbitMQ.Host,
		cfg.RabbitMQ.Port,
	)
	c := &Connection{
		logger: log.WithFields(logger.LogFields{"component": "rabbitmq"}),
		dsn:    dsn,
		done:   make(chan struct{}),
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = c.connect(); err != nil {
			c.logger.Error("rabbitmq_connect_retry", fmt.Errorf("failed to connect to RabbitMQ (attempt %d/%d): %w", i+1, maxRetries, err))
			time.Sleep(retryInterval)
			continue
		}
		c.logger.Info("rabbitmq_connect", "Initial RabbitMQ connection established")
		if setupErr := c.SetupTopology(); setupErr != nil {
			c.Close()
			return nil, fmt.Errorf("failed to setup RabbitMQ topology: %w", setupErr)
		}
		go c.reconnectLoop()
		return c, nil
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d retries: %w", maxRetries, err)
}

func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := amqp.Dial(c.dsn)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open publisher channel: %w", err)
	}

	c.conn = conn
	c.pubChannel = ch
	c.isConnected = true
	c.notifyClose = make(chan *amqp.Error, 1)
	c.conn.NotifyClose(c.notifyClose)
	return nil
}

func (c *Connection) reconnectLoop() {
	for {
		c.mu.RLock()
		notify := c.notifyClose
		c.mu.RUnlock()

		select {
		case <-c.done:
			return
		case amqpErr := <-notify:
			if amqpErr == nil {
				c.logger.Info("rabbitmq_reconnect_loop", "Connection closed gracefully")
				return
			}
			c.logger.Error("rabbitmq_disconnect", fmt.Errorf("RabbitMQ connection lost: %w", amqpErr))
			c.mu.Lock()
			c.isConnected = false
			c.mu.Unlock()

			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect retries with capped exponential backoff until it succeeds or the
// connection is closed.
func (c *Connection) reconnect() bool {
	backoff := time.Second
	for {
		c.logger.Info("rabbitmq_reconnect_attempt", fmt.Sprintf("Attempting to reconnect in %s...", backoff))
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		if err := c.connect(); err != nil {
			c.logger.Error("rabbitmq_reconnect_failed", err)
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		if err := c.SetupTopology(); err != nil {
			c.logger.Error("rabbitmq_reconnect_setup_failed", err)
			continue
		}
		c.logger.Info("rabbitmq_reconnect_success", "RabbitMQ connection re-established")
		return true
	}
}

// SetupTopology declares the booking exchange and the notification queue.
func (c *Connection) SetupTopology() error {
	c.mu.RLock()
	if !c.isConnected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	ch, err := c.conn.Channel()
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to open setup channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(BookingExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", BookingExchange, err)
	}
	if _, err := ch.QueueDeclare(NotificationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", NotificationQueue, err)
	}
	if err := ch.QueueBind(NotificationQueue, NotificationRoutingMatch, BookingExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", NotificationQueue, BookingExchange, err)
	}

	c.logger.Info("rabbitmq_setup_success", "Booking topology declared")
	return nil
}

// Publish sends a persistent JSON message. It is goroutine-safe and honours ctx.
func (c *Connection) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected {
		return ErrNotConnected
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	return c.pubChannel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Consume runs handler for every delivery on queueName until ctx ends or the
// connection is closed, re-opening the consumer channel after failures.
// The handler owns the Ack/Nack decision.
func (c *Connection) Consume(ctx context.Context, queueName string, handler func(amqp.Delivery)) {
	log := c.logger.WithFields(logger.LogFields{"queue": queueName})

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			c.mu.RLock()
			if !c.isConnected {
				c.mu.RUnlock()
				log.Debug("consumer_wait", "Not connected, waiting to restart consumer")
				time.Sleep(retryInterval)
				continue
			}
			ch, err := c.conn.Channel()
			c.mu.RUnlock()
			if err != nil {
				log.Error("consumer_channel_fail", fmt.Errorf("failed to open consumer channel: %w", err))
				time.Sleep(retryInterval)
				continue
			}

			msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
			if err != nil {
				log.Error("consumer_consume_fail", fmt.Errorf("failed to start consuming: %w", err))
				ch.Close()
				time.Sleep(retryInterval)
				continue
			}

			log.Info("consumer_running", "Consumer started and waiting for messages")
			notifyChanClose := ch.NotifyClose(make(chan *amqp.Error, 1))

			if stop := c.consumeLoop(ctx, log, msgs, notifyChanClose, handler); stop {
				ch.Close()
				return
			}
		}
	}()
}

func (c *Connection) consumeLoop(ctx context.Context, log logger.Logger, msgs <-chan amqp.Delivery, closed <-chan *amqp.Error, handler func(amqp.Delivery)) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-c.done:
			return true
		case err := <-closed:
			log.Error("consumer_channel_closed", fmt.Errorf("consumer channel closed: %v", err))
			return false
		case msg, ok := <-msgs:
			if !ok {
				log.Error("consumer_delivery_closed", errors.New("delivery channel closed"))
				return false
			}
			handler(msg)
		}
	}
}

// Close shuts down the connection and the reconnect loop.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.logger.Info("rabbitmq_close", "Closing RabbitMQ connection")
		c.isConnected = false
		if c.pubChannel != nil {
			c.pubChannel.Close()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
