package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
)

const (
	upsertPushSubscriptionQuery = `
		INSERT INTO push_subscriptions (endpoint, p256dh, auth, chat_id, user_agent, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (endpoint) DO UPDATE SET
			p256dh=excluded.p256dh,
			auth=excluded.auth,
			chat_id=excluded.chat_id,
			user_agent=excluded.user_agent,
			last_used_at=excluded.last_used_at
	`
	deletePushSubscriptionQuery = `DELETE FROM push_subscriptions WHERE endpoint=$1`
	// Глобальные подписки (chat_id IS NULL) получают уведомления всех чатов.
	pushSubscriptionsForChatQuery = `
		SELECT endpoint, p256dh, auth, chat_id, user_agent, created_at, last_used_at
		FROM push_subscriptions
		WHERE chat_id IS NULL OR chat_id=$1
	`
	allPushSubscriptionsQuery = `
		SELECT endpoint, p256dh, auth, chat_id, user_agent, created_at, last_used_at
		FROM push_subscriptions
	`
)

// UpsertPushSubscription регистрирует или обновляет подписку по endpoint.
func (d *Database) UpsertPushSubscription(ctx context.Context, sub *PushSubscription) error {
	now := utc(time.Now())
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return withRetry(ctx, "upsert push subscription", func(ctx context.Context) error {
		_, err := d.Exec(ctx, upsertPushSubscriptionQuery,
			sub.Endpoint, sub.P256dh, sub.Auth, sub.ChatID, sub.UserAgent, utc(createdAt), now)
		return err
	})
}

// DeletePushSubscription удаляет подписку (отписка или мёртвый endpoint).
func (d *Database) DeletePushSubscription(ctx context.Context, endpoint string) error {
	return withRetry(ctx, "delete push subscription", func(ctx context.Context) error {
		_, err := d.Exec(ctx, deletePushSubscriptionQuery, endpoint)
		return err
	})
}

// GetPushSubscriptions возвращает подписки, которым адресовано событие чата:
// глобальные плюс привязанные к данному chat_id.
func (d *Database) GetPushSubscriptions(ctx context.Context, chatID int64) ([]*PushSubscription, error) {
	return d.queryPushSubscriptions(ctx, pushSubscriptionsForChatQuery, chatID)
}

// GetAllPushSubscriptions возвращает все подписки.
func (d *Database) GetAllPushSubscriptions(ctx context.Context) ([]*PushSubscription, error) {
	return d.queryPushSubscriptions(ctx, allPushSubscriptionsQuery)
}

func (d *Database) queryPushSubscriptions(ctx context.Context, query string, args ...any) ([]*PushSubscription, error) {
	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query push subscriptions")
	}
	defer rows.Close()

	var result []*PushSubscription
	for rows.Next() {
		var s PushSubscription
		var createdAt, lastUsed sql.NullTime
		if err = rows.Scan(&s.Endpoint, &s.P256dh, &s.Auth, &s.ChatID, &s.UserAgent,
			&createdAt, &lastUsed); err != nil {
			return nil, errors.Wrap(err, "scan push subscription")
		}
		if createdAt.Valid {
			s.CreatedAt = createdAt.Time.UTC()
		}
		if lastUsed.Valid {
			t := lastUsed.Time.UTC()
			s.LastUsedAt = &t
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}
