package notification

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSubscriptionRepository stores subscriptions in push_subscriptions.
type PostgresSubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewPostgresSubscriptionRepository(db *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db}
}

func (r *PostgresSubscriptionRepository) Upsert(ctx context.Context, sub Subscription) (Subscription, error) {
	var out Subscription
	err := r.db.QueryRow(ctx, `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, endpoint) DO UPDATE
		SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, endpoint, p256dh, auth, created_at, updated_at
	`,
		sub.ID, sub.UserID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&out.ID, &out.UserID, &out.Endpoint, &out.Keys.P256dh, &out.Keys.Auth, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return Subscription{}, fmt.Errorf("upsert push subscription: %w", err)
	}
	return out, nil
}

func (r *PostgresSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query push subscriptions: %w", err)
	}

	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscription, error) {
		var s Subscription
		err := row.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.Keys.P256dh, &s.Keys.Auth, &s.CreatedAt, &s.UpdatedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan push subscriptions: %w", err)
	}
	return subs, nil
}

func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, userID, endpoint string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionMissing
	}
	return nil
}
