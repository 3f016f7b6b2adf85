package store

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
)

const (
	setMetadataQuery = `
		INSERT INTO metadata (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value
	`
	getMetadataQuery = `SELECT value FROM metadata WHERE key=$1`
)

// Ключи таблицы metadata, используемые компонентами приложения.
const (
	MetaOwnerID             = "owner_id"
	MetaLastBackupTime      = "last_backup_time"
	MetaListenerActiveSince = "listener_active_since"
	MetaStatsCache          = "stats_cache"
	MetaStatsCalculatedAt   = "stats_calculated_at"
	MetaVAPIDPublicKey      = "vapid_public_key"
	MetaVAPIDPrivateKey     = "vapid_private_key"
)

// SetMetadata записывает значение по ключу (upsert).
func (d *Database) SetMetadata(ctx context.Context, key, value string) error {
	return withRetry(ctx, "set metadata", func(ctx context.Context) error {
		_, err := d.Exec(ctx, setMetadataQuery, key, value)
		return err
	})
}

// GetMetadata возвращает значение по ключу; пустая строка — ключа нет.
func (d *Database) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := d.QueryRow(ctx, getMetadataQuery, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "get metadata")
	}
	return value, nil
}
