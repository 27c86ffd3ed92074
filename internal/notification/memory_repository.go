package notification

import (
	"context"
	"sort"
	"sync"
)

type subscriptionKey struct {
	userID, endpoint string
}

// MemorySubscriptionRepository keeps subscriptions in process memory.
type MemorySubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[subscriptionKey]Subscription
}

func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{subs: make(map[subscriptionKey]Subscription)}
}

func (r *MemorySubscriptionRepository) Upsert(ctx context.Context, sub Subscription) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subscriptionKey{sub.UserID, sub.Endpoint}
	if existing, ok := r.subs[key]; ok {
		existing.Keys = sub.Keys
		existing.UpdatedAt = sub.UpdatedAt
		r.subs[key] = existing
		return existing, nil
	}
	r.subs[key] = sub
	return sub, nil
}

func (r *MemorySubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for key, sub := range r.subs {
		if key.userID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySubscriptionRepository) Delete(ctx context.Context, userID, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subscriptionKey{userID, endpoint}
	if _, ok := r.subs[key]; !ok {
		return ErrSubscriptionMissing
	}
	delete(r.subs, key)
	return nil
}
