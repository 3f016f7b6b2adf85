package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"

	"github.com/go-faster/errors"
)

const (
	upsertChatQuery = `
		INSERT INTO chats (id, type, title, username, first_name, last_name, phone,
		                   description, participants_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			type=excluded.type,
			title=excluded.title,
			username=excluded.username,
			first_name=excluded.first_name,
			last_name=excluded.last_name,
			phone=excluded.phone,
			description=excluded.description,
			participants_count=excluded.participants_count,
			updated_at=excluded.updated_at
	`
	getChatByIDQuery = `
		SELECT id, type, title, username, first_name, last_name, phone,
		       description, participants_count, last_synced_message_id, created_at, updated_at
		FROM chats WHERE id=$1
	`
	listChatsQuery = `
		SELECT c.id, c.type, c.title, c.username, c.first_name, c.last_name,
		       c.participants_count, c.updated_at,
		       s.last_message_id, s.last_sync_date, COALESCE(s.message_count, 0)
		FROM chats c
		LEFT JOIN sync_status s ON s.chat_id = c.id
	`
	chatSearchClause = `
		WHERE LOWER(COALESCE(c.title, '')) LIKE $1
		   OR LOWER(COALESCE(c.username, '')) LIKE $1
		   OR LOWER(COALESCE(c.first_name, '')) LIKE $1
		   OR LOWER(COALESCE(c.last_name, '')) LIKE $1
	`
	countChatsQuery = `SELECT COUNT(*) FROM chats c`
	chatListOrder   = ` ORDER BY COALESCE(s.last_sync_date, c.updated_at) DESC, c.id LIMIT $2 OFFSET $3`
)

// UpsertChat записывает или обновляет чат. created_at выставляется только при
// первой вставке, updated_at — всегда.
func (d *Database) UpsertChat(ctx context.Context, chat *Chat) error {
	now := utc(time.Now())
	return withRetry(ctx, "upsert chat", func(ctx context.Context) error {
		_, err := d.Exec(ctx, upsertChatQuery,
			chat.ID, chat.Type, chat.Title, chat.Username, chat.FirstName, chat.LastName,
			chat.Phone, chat.Description, chat.ParticipantsCount, now, now)
		return err
	})
}

// GetChatByID возвращает чат или (nil, nil), если записи нет.
func (d *Database) GetChatByID(ctx context.Context, chatID int64) (*Chat, error) {
	var c Chat
	var createdAt, updatedAt sql.NullTime
	err := d.QueryRow(ctx, getChatByIDQuery, chatID).Scan(
		&c.ID, &c.Type, &c.Title, &c.Username, &c.FirstName, &c.LastName, &c.Phone,
		&c.Description, &c.ParticipantsCount, &c.LastSyncedMessageID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get chat")
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time.UTC()
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time.UTC()
	}
	return &c, nil
}

// GetChatIDs возвращает идентификаторы всех известных чатов.
func (d *Database) GetChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.Query(ctx, "SELECT id FROM chats")
	if err != nil {
		return nil, errors.Wrap(err, "list chat ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan chat id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetAllChats возвращает страницу чатов с присоединённым статусом синхронизации
// и общее количество строк, подходящих под фильтр. Поиск — подстрочный,
// регистронезависимый, по названию/имени/username.
func (d *Database) GetAllChats(ctx context.Context, limit, offset int, search string) ([]*ChatView, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var (
		listQuery  string
		countQuery string
		listArgs   []any
		countArgs  []any
	)
	if search != "" {
		pattern := "%" + lowered(search) + "%"
		listQuery = listChatsQuery + chatSearchClause + chatListOrder
		countQuery = countChatsQuery + chatSearchClause
		listArgs = []any{pattern, limit, offset}
		countArgs = []any{pattern}
	} else {
		listQuery = listChatsQuery + " ORDER BY COALESCE(s.last_sync_date, c.updated_at) DESC, c.id LIMIT $1 OFFSET $2"
		countQuery = countChatsQuery
		listArgs = []any{limit, offset}
	}

	var total int
	if err := d.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count chats")
	}

	rows, err := d.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list chats")
	}
	defer rows.Close()

	result := make([]*ChatView, 0, limit)
	for rows.Next() {
		var v ChatView
		var updatedAt, lastSync sql.NullTime
		if err = rows.Scan(&v.ID, &v.Type, &v.Title, &v.Username, &v.FirstName, &v.LastName,
			&v.ParticipantsCount, &updatedAt, &v.LastMessageID, &lastSync, &v.MessageCount); err != nil {
			return nil, 0, errors.Wrap(err, "scan chat")
		}
		if updatedAt.Valid {
			t := updatedAt.Time.UTC()
			v.UpdatedAt = &t
		}
		if lastSync.Valid {
			t := lastSync.Time.UTC()
			v.LastSyncDate = &t
		}
		result = append(result, &v)
	}
	return result, total, rows.Err()
}

// DeleteChatAndRelatedData удаляет чат со всеми связанными данными: строки
// media/reactions/messages/sync_status/chats в одной транзакции, затем каталог
// media/<chat_id>/ и файлы аватаров. Ошибки файловой системы не откатывают
// удаление строк — логируются и возвращаются последней ошибкой.
func (d *Database) DeleteChatAndRelatedData(ctx context.Context, chatID int64, mediaRoot string) error {
	err := withRetry(ctx, "delete chat", func(ctx context.Context) error {
		return d.DoTxn(ctx, nil, func(ctx context.Context) error {
			for _, q := range []string{
				"DELETE FROM media WHERE chat_id=$1",
				"DELETE FROM reactions WHERE chat_id=$1",
				"DELETE FROM messages WHERE chat_id=$1",
				"DELETE FROM sync_status WHERE chat_id=$1",
				"DELETE FROM chats WHERE id=$1",
			} {
				if _, execErr := d.Exec(ctx, q, chatID); execErr != nil {
					return execErr
				}
			}
			return nil
		})
	})
	if err != nil {
		return errors.Wrap(err, "delete chat rows")
	}

	if mediaRoot == "" {
		return nil
	}
	return removeChatFiles(chatID, mediaRoot)
}

// removeChatFiles удаляет дерево media/<chat_id>/ и аватары обоих каталогов
// (тип чата после удаления строк уже неизвестен, поэтому чистим и users, и chats).
func removeChatFiles(chatID int64, mediaRoot string) error {
	var lastErr error

	chatDir := filepath.Join(mediaRoot, formatChatID(chatID))
	if err := os.RemoveAll(chatDir); err != nil {
		logger.Warnf("store: remove chat media dir %s: %v", chatDir, err)
		lastErr = err
	}

	for _, folder := range []string{"chats", "users"} {
		dir := filepath.Join(mediaRoot, "avatars", folder)
		matches, _ := filepath.Glob(filepath.Join(dir, formatChatID(chatID)+"_*.jpg"))
		// Также поддерживаем устаревшее имя без photo_id.
		if legacy := filepath.Join(dir, formatChatID(chatID)+".jpg"); fileExists(legacy) {
			matches = append(matches, legacy)
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil {
				logger.Warnf("store: remove avatar %s: %v", path, err)
				lastErr = err
			}
		}
	}
	return lastErr
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
