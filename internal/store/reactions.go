package store

import (
	"context"
)

const insertReactionRowQuery = `
	INSERT INTO reactions (message_id, chat_id, emoji, user_id, count)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (message_id, chat_id, emoji, user_id) DO UPDATE SET count=excluded.count
`

// ReplaceReactions атомарно заменяет набор реакций сообщения: старые строки
// удаляются и вставляется актуальный снимок в той же транзакции. Реакция с
// известными голосовавшими разворачивается в строку на пользователя
// (count=1); анонимный агрегат хранится одной строкой с user_id=0 и
// суммарным счётчиком.
func (d *Database) ReplaceReactions(ctx context.Context, chatID, msgID int64, reactions []Reaction) error {
	return withRetry(ctx, "replace reactions", func(ctx context.Context) error {
		return d.DoTxn(ctx, nil, func(ctx context.Context) error {
			if _, err := d.Exec(ctx,
				"DELETE FROM reactions WHERE chat_id=$1 AND message_id=$2", chatID, msgID); err != nil {
				return err
			}
			for _, r := range reactions {
				if len(r.UserIDs) > 0 {
					for _, userID := range r.UserIDs {
						if _, err := d.Exec(ctx, insertReactionRowQuery,
							msgID, chatID, r.Emoji, userID, 1); err != nil {
							return err
						}
					}
					continue
				}
				if r.Count <= 0 {
					continue
				}
				if _, err := d.Exec(ctx, insertReactionRowQuery,
					msgID, chatID, r.Emoji, int64(0), r.Count); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// GetReactions возвращает реакции сообщения в агрегированной форме.
func (d *Database) GetReactions(ctx context.Context, chatID, msgID int64) ([]Reaction, error) {
	view := &MessageView{ID: msgID, ChatID: chatID, Reactions: []Reaction{}}
	if err := d.attachReactions(ctx, chatID, []*MessageView{view}); err != nil {
		return nil, err
	}
	return view.Reactions, nil
}
