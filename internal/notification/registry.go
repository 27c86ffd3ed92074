package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carpool/pkg/logger"

	"github.com/google/uuid"
)

// Registry deduplicates per-user push endpoints.
type Registry struct {
	repo SubscriptionRepository
	log  logger.Logger
	now  func() time.Time
}

func NewRegistry(repo SubscriptionRepository, log logger.Logger) *Registry {
	return &Registry{
		repo: repo,
		log:  log.WithFields(logger.LogFields{"component": "subscription_registry"}),
		now:  time.Now,
	}
}

// Register upserts the endpoint for userID. Calling it again with the same
// endpoint keeps one row and refreshes the keys.
func (r *Registry) Register(ctx context.Context, userID string, ep PushEndpoint) (Subscription, error) {
	if userID == "" {
		return Subscription{}, fmt.Errorf("%w: user is required", ErrInvalidSubscription)
	}
	if err := ep.Validate(); err != nil {
		return Subscription{}, err
	}

	now := r.now().UTC()
	sub, err := r.repo.Upsert(ctx, Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Endpoint:  strings.TrimSpace(ep.Endpoint),
		Keys:      ep.Keys,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Subscription{}, fmt.Errorf("upsert subscription: %w", err)
	}

	r.log.WithFields(logger.LogFields{
		"user_id":         userID,
		"subscription_id": sub.ID,
	}).Info("push_subscription_registered", "Push subscription registered")
	return sub, nil
}

func (r *Registry) ListForUser(ctx context.Context, userID string) ([]Subscription, error) {
	subs, err := r.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// Prune removes an endpoint the push service has given up on.
func (r *Registry) Prune(ctx context.Context, userID, endpoint string) error {
	if err := r.repo.Delete(ctx, userID, endpoint); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	r.log.WithFields(logger.LogFields{"user_id": userID}).Info("push_subscription_pruned", "Stale push subscription removed")
	return nil
}
