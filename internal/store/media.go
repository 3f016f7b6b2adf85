package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
)

const (
	upsertMediaQuery = `
		INSERT INTO media (id, message_id, chat_id, type, file_path, file_name, file_size,
		                   mime_type, width, height, duration, downloaded, download_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			message_id=excluded.message_id,
			chat_id=excluded.chat_id,
			type=excluded.type,
			file_path=excluded.file_path,
			file_name=excluded.file_name,
			file_size=excluded.file_size,
			mime_type=excluded.mime_type,
			width=excluded.width,
			height=excluded.height,
			duration=excluded.duration,
			downloaded=excluded.downloaded,
			download_date=excluded.download_date
	`
	getMediaByIDQuery = `
		SELECT id, message_id, chat_id, type, file_path, file_name, file_size,
		       mime_type, width, height, duration, downloaded, download_date, created_at
		FROM media WHERE id=$1
	`
	// Проверке подлежит всё, что заявлено скачанным или имеет путь на диске.
	mediaForVerificationQuery = `
		SELECT id, message_id, chat_id, type, file_path, file_name, file_size,
		       mime_type, width, height, duration, downloaded, download_date, created_at
		FROM media
		WHERE downloaded=true OR file_path IS NOT NULL
		ORDER BY chat_id, message_id
	`
	markRedownloadQuery = `
		UPDATE media SET downloaded=false, file_path=NULL, download_date=NULL WHERE id=$1
	`
)

// UpsertMedia записывает метаданные медиафайла. Ключ — телеграмный id файла,
// поэтому повторная встреча того же файла в другом сообщении перепривязывает
// строку к последнему сообщению.
func (d *Database) UpsertMedia(ctx context.Context, m *Media) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return withRetry(ctx, "upsert media", func(ctx context.Context) error {
		_, err := d.Exec(ctx, upsertMediaQuery,
			m.ID, m.MessageID, m.ChatID, m.Type, m.FilePath, m.FileName, m.FileSize,
			m.MimeType, m.Width, m.Height, m.Duration, m.Downloaded,
			utcPtr(m.DownloadDate), utc(createdAt))
		return err
	})
}

// GetMediaByID возвращает медиазапись или (nil, nil), если её нет —
// точка принятия решения о дедупликации перед скачиванием.
func (d *Database) GetMediaByID(ctx context.Context, id string) (*Media, error) {
	row := d.QueryRow(ctx, getMediaByIDQuery, id)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get media")
	}
	return m, nil
}

// GetMediaForVerification возвращает все записи, требующие сверки с диском.
func (d *Database) GetMediaForVerification(ctx context.Context) ([]*Media, error) {
	rows, err := d.Query(ctx, mediaForVerificationQuery)
	if err != nil {
		return nil, errors.Wrap(err, "media for verification")
	}
	defer rows.Close()

	var result []*Media
	for rows.Next() {
		m, scanErr := scanMedia(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// MarkMediaForRedownload сбрасывает флаг скачивания и путь: файл пропал с
// диска или не прошёл проверку размера, следующий бэкап скачает его заново.
func (d *Database) MarkMediaForRedownload(ctx context.Context, id string) error {
	return withRetry(ctx, "mark media for redownload", func(ctx context.Context) error {
		_, err := d.Exec(ctx, markRedownloadQuery, id)
		return err
	})
}

func scanMedia(row interface{ Scan(...any) error }) (*Media, error) {
	var m Media
	var downloadDate sql.NullTime
	var createdAt sql.NullTime
	err := row.Scan(&m.ID, &m.MessageID, &m.ChatID, &m.Type, &m.FilePath, &m.FileName,
		&m.FileSize, &m.MimeType, &m.Width, &m.Height, &m.Duration, &m.Downloaded,
		&downloadDate, &createdAt)
	if err != nil {
		return nil, err
	}
	if downloadDate.Valid {
		t := downloadDate.Time.UTC()
		m.DownloadDate = &t
	}
	if createdAt.Valid {
		m.CreatedAt = createdAt.Time.UTC()
	}
	return &m, nil
}
