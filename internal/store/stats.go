package store

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"

	"github.com/go-faster/errors"
	jsoniter "github.com/json-iterator/go"
)

// statsCacheTTL — срок жизни кэшированной сводки: подсчёт по большим архивам
// дорог, а точность до минут для дашборда не нужна.
const statsCacheTTL = 5 * time.Minute

// GetStatistics возвращает сводку по архиву. Результат кэшируется в metadata;
// force пересчитывает её немедленно.
func (d *Database) GetStatistics(ctx context.Context, force bool) (*Statistics, error) {
	if !force {
		if cached := d.cachedStatistics(ctx); cached != nil {
			return cached, nil
		}
	}

	stats := &Statistics{}
	var totalSize sql.NullInt64

	if err := d.QueryRow(ctx, "SELECT COUNT(*) FROM chats").Scan(&stats.Chats); err != nil {
		return nil, errors.Wrap(err, "count chats")
	}
	if err := d.QueryRow(ctx, "SELECT COUNT(*) FROM messages").Scan(&stats.Messages); err != nil {
		return nil, errors.Wrap(err, "count messages")
	}
	err := d.QueryRow(ctx,
		"SELECT COUNT(*), SUM(file_size) FROM media WHERE downloaded=true").
		Scan(&stats.MediaFiles, &totalSize)
	if err != nil {
		return nil, errors.Wrap(err, "count media")
	}
	if totalSize.Valid {
		// До сотых мегабайта: сводка идёт в дашборд как есть.
		stats.TotalSizeMB = math.Round(float64(totalSize.Int64)/(1024*1024)*100) / 100
	}

	if err = d.fillLastBackupTime(ctx, stats); err != nil {
		return nil, err
	}

	d.storeStatisticsCache(ctx, stats)
	return stats, nil
}

// fillLastBackupTime берёт отметку завершения последнего бэкапа из metadata,
// а при её отсутствии — максимальный last_sync_date (архив, начатый до того,
// как отметка стала записываться).
func (d *Database) fillLastBackupTime(ctx context.Context, stats *Statistics) error {
	raw, err := d.GetMetadata(ctx, MetaLastBackupTime)
	if err != nil {
		return err
	}
	if raw != "" {
		if t, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			utcT := t.UTC()
			stats.LastBackupTime = &utcT
			stats.LastBackupTimeSource = "metadata"
			return nil
		}
		logger.Warnf("store: invalid %s value %q", MetaLastBackupTime, raw)
	}

	var lastSync sql.NullTime
	if err = d.QueryRow(ctx, "SELECT MAX(last_sync_date) FROM sync_status").Scan(&lastSync); err != nil {
		return errors.Wrap(err, "max sync date")
	}
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		stats.LastBackupTime = &t
		stats.LastBackupTimeSource = "sync_status"
	}
	return nil
}

func (d *Database) cachedStatistics(ctx context.Context) *Statistics {
	calculatedAt, err := d.GetMetadata(ctx, MetaStatsCalculatedAt)
	if err != nil || calculatedAt == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, calculatedAt)
	if err != nil || time.Since(ts) > statsCacheTTL {
		return nil
	}
	raw, err := d.GetMetadata(ctx, MetaStatsCache)
	if err != nil || raw == "" {
		return nil
	}
	var stats Statistics
	if err = jsoniter.UnmarshalFromString(raw, &stats); err != nil {
		return nil
	}
	return &stats
}

// storeStatisticsCache сохраняет сводку в metadata; ошибки кэша не влияют на
// результат и только логируются.
func (d *Database) storeStatisticsCache(ctx context.Context, stats *Statistics) {
	raw, err := jsoniter.MarshalToString(stats)
	if err != nil {
		logger.Warnf("store: marshal stats cache: %v", err)
		return
	}
	if err = d.SetMetadata(ctx, MetaStatsCache, raw); err != nil {
		logger.Warnf("store: save stats cache: %v", err)
		return
	}
	if err = d.SetMetadata(ctx, MetaStatsCalculatedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logger.Warnf("store: save stats cache timestamp: %v", err)
	}
}
