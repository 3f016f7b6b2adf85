package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
)

const (
	upsertSyncStatusQuery = `
		INSERT INTO sync_status (chat_id, last_message_id, last_sync_date, message_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE SET
			last_message_id=excluded.last_message_id,
			last_sync_date=excluded.last_sync_date,
			message_count=sync_status.message_count + excluded.message_count
	`
	getSyncStatusQuery = `
		SELECT chat_id, last_message_id, last_sync_date, message_count
		FROM sync_status WHERE chat_id=$1
	`
)

// UpdateSyncStatus продвигает курсор чата: last_message_id и last_sync_date
// перезаписываются, added прибавляется к накопленному счётчику сообщений.
func (d *Database) UpdateSyncStatus(ctx context.Context, chatID, lastMessageID int64, added int64) error {
	now := utc(time.Now())
	return withRetry(ctx, "update sync status", func(ctx context.Context) error {
		_, err := d.Exec(ctx, upsertSyncStatusQuery, chatID, lastMessageID, now, added)
		return err
	})
}

// GetSyncStatus возвращает статус синхронизации чата или (nil, nil).
func (d *Database) GetSyncStatus(ctx context.Context, chatID int64) (*SyncStatus, error) {
	var s SyncStatus
	var lastSync sql.NullTime
	err := d.QueryRow(ctx, getSyncStatusQuery, chatID).Scan(
		&s.ChatID, &s.LastMessageID, &lastSync, &s.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get sync status")
	}
	if lastSync.Valid {
		s.LastSyncDate = lastSync.Time.UTC()
	}
	return &s, nil
}
