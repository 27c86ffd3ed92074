package notification

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidSubscription = errors.New("invalid push subscription")
	ErrSubscriptionMissing = errors.New("push subscription not found")
	ErrNoSubscriptions     = errors.New("no push subscriptions registered")
	// ErrEndpointGone means the push service reported the endpoint as
	// permanently invalid (HTTP 404 or 410).
	ErrEndpointGone = errors.New("push endpoint gone")
)

// Keys are the browser-generated encryption keys of a push subscription.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushEndpoint is the subscription object a browser hands out:
// {"endpoint": "...", "keys": {"p256dh": "...", "auth": "..."}}.
type PushEndpoint struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

func (e PushEndpoint) Validate() error {
	u, err := url.Parse(strings.TrimSpace(e.Endpoint))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: endpoint must be an absolute http(s) url", ErrInvalidSubscription)
	}
	if e.Keys.P256dh == "" || e.Keys.Auth == "" {
		return fmt.Errorf("%w: p256dh and auth keys are required", ErrInvalidSubscription)
	}
	return nil
}

// Subscription is one device registered by a user. (UserID, Endpoint) is unique.
type Subscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	Keys      Keys      `json:"keys"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscriptionRepository persists subscriptions.
type SubscriptionRepository interface {
	// Upsert inserts sub or, when (UserID, Endpoint) exists, replaces its keys
	// and UpdatedAt. It returns the stored row.
	Upsert(ctx context.Context, sub Subscription) (Subscription, error)

	ListByUser(ctx context.Context, userID string) ([]Subscription, error)

	// Delete returns ErrSubscriptionMissing when nothing matched.
	Delete(ctx context.Context, userID, endpoint string) error
}
