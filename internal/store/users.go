package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
)

const upsertUserQuery = `
	INSERT INTO users (id, username, first_name, last_name, phone, is_bot, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		username=excluded.username,
		first_name=excluded.first_name,
		last_name=excluded.last_name,
		phone=excluded.phone,
		is_bot=excluded.is_bot,
		updated_at=excluded.updated_at
`

// UpsertUser записывает или обновляет отправителя сообщений.
func (d *Database) UpsertUser(ctx context.Context, user *User) error {
	now := utc(time.Now())
	return withRetry(ctx, "upsert user", func(ctx context.Context) error {
		_, err := d.Exec(ctx, upsertUserQuery,
			user.ID, user.Username, user.FirstName, user.LastName, user.Phone, user.IsBot, now, now)
		return err
	})
}

// GetUserByID возвращает пользователя или (nil, nil), если записи нет.
func (d *Database) GetUserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := d.QueryRow(ctx,
		"SELECT id, username, first_name, last_name, phone, is_bot FROM users WHERE id=$1", id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Phone, &u.IsBot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	return &u, nil
}
