package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carpool/internal/booking/domain"
	"carpool/internal/booking/infrastructure/cache"
	"carpool/internal/booking/infrastructure/consumer"
	"carpool/internal/booking/infrastructure/messaging"
	"carpool/internal/booking/infrastructure/repository"
	bookinghttp "carpool/internal/booking/interface/http"
	"carpool/internal/booking/service"
	"carpool/internal/notification"
	"carpool/pkg/auth"
	"carpool/pkg/config"
	"carpool/pkg/db"
	"carpool/pkg/logger"
	"carpool/pkg/metrics"
	"carpool/pkg/rabbitmq"
	"carpool/pkg/ratelimit"
	"carpool/pkg/websocket"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New("booking-service", logger.Options{
		Level: logger.ParseLevel(cfg.Log.Level),
		File:  cfg.Log.File,
	})
	log.Info("service_starting", fmt.Sprintf("Booking Service starting on port %d", cfg.HTTP.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("carpool")

	// Storage: Postgres when configured, process memory otherwise
	var store domain.Store
	var subscriptions notification.SubscriptionRepository
	if cfg.DB.Enabled {
		pool, err := db.NewConnection(ctx, cfg, log)
		if err != nil {
			log.Error("db_connect_failed", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool, log); err != nil {
			log.Error("db_migrate_failed", err)
			os.Exit(1)
		}
		store = repository.NewPostgresStore(pool)
		subscriptions = notification.NewPostgresSubscriptionRepository(pool)
	} else {
		log.Info("store_memory", "DB disabled, using in-memory store")
		store = repository.NewMemoryStore()
		subscriptions = notification.NewMemorySubscriptionRepository()
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	wsManager := websocket.NewManager(log)

	// Notification dispatcher
	registry := notification.NewRegistry(subscriptions, log)
	sender := notification.NewWebPushSender(notification.VAPIDConfig{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber: cfg.Push.Subscriber,
		TTL:        cfg.Push.TTL,
	}, &http.Client{Timeout: cfg.Push.Timeout})
	dispatcher := notification.NewDispatcher(registry, sender, log,
		notification.WithLiveNotifier(wsManager),
		notification.WithDeliveryTimeout(cfg.Push.Timeout),
		notification.WithDispatcherMetrics(m),
	)

	// Event stream: RabbitMQ when enabled, in-process queue otherwise
	var publisher service.EventPublisher
	if cfg.RabbitMQ.Enabled {
		rabbit, err := rabbitmq.NewConnection(cfg, log)
		if err != nil {
			log.Error("rabbitmq_connect_failed", err)
			os.Exit(1)
		}
		defer rabbit.Close()

		publisher = messaging.NewRabbitMQEventPublisher(rabbit, log)
		consumer.New(rabbit, dispatcher.Dispatch, log).StartConsuming(ctx)
	} else {
		queue := messaging.NewQueuePublisher(dispatcher.Dispatch, cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, log, m)
		queue.Start(ctx)
		defer queue.Close()
		publisher = queue
	}

	opts := []service.Option{service.WithMetrics(m)}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			DB:   cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			// Reads fall through to the store while Redis is away.
			log.Error("redis_ping_failed", err)
		}
		opts = append(opts, service.WithTripCache(cache.NewRedisTripCache(client, cfg.Redis.TripTTL, log)))
	}

	bookings := service.NewBookingService(store, publisher, log, opts...)
	go bookings.RunSweeper(ctx, cfg.Sweeper.Interval)

	wsHandler := websocket.NewHandler(log, jwtManager, func(conn *websocket.Connection) {
		wsManager.AddConnection(conn)
		conn.ReadPump(nil, func() {
			wsManager.RemoveConnection(conn)
		})
	})

	handlerOpts := []bookinghttp.Option{
		bookinghttp.WithMetrics(m),
		bookinghttp.WithLiveChannel(wsHandler),
	}
	if cfg.RateLimit.Burst > 0 {
		limiter := ratelimit.New(cfg.RateLimit.Interval, cfg.RateLimit.Burst)
		go limiter.RunCleanup(ctx, 5*time.Minute)
		handlerOpts = append(handlerOpts, bookinghttp.WithRateLimiter(limiter))
	}
	if cfg.Auth.DevTokens {
		log.Info("dev_tokens_enabled", "POST /auth/token is enabled")
		handlerOpts = append(handlerOpts, bookinghttp.WithDevTokens())
	}
	h := bookinghttp.NewHandler(bookings, registry, dispatcher, jwtManager, log, handlerOpts...)

	// Start server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server_failed", err)
			stop()
		}
	}()

	log.Info("server_running", fmt.Sprintf("Booking Service running on %s", srv.Addr))

	<-ctx.Done()

	log.Info("server_shutdown", "Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server_shutdown_failed", err)
	}
	log.Info("server_stopped", "Server stopped gracefully")
}
