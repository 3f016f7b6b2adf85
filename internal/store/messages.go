package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const (
	upsertMessageQuery = `
		INSERT INTO messages (id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text,
		                      forward_from_id, edit_date, media_type, media_id, media_path,
		                      raw_data, is_outgoing, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id, chat_id) DO UPDATE SET
			sender_id=excluded.sender_id,
			date=excluded.date,
			text=excluded.text,
			reply_to_msg_id=excluded.reply_to_msg_id,
			reply_to_text=excluded.reply_to_text,
			forward_from_id=excluded.forward_from_id,
			edit_date=excluded.edit_date,
			media_type=excluded.media_type,
			media_id=excluded.media_id,
			media_path=excluded.media_path,
			raw_data=excluded.raw_data,
			is_outgoing=excluded.is_outgoing
	`
	updateMessageTextQuery = `UPDATE messages SET text=$1, edit_date=$2 WHERE chat_id=$3 AND id=$4`
	lastMessageIDQuery     = `SELECT COALESCE(MAX(id), 0) FROM messages WHERE chat_id=$1`
	backfillOutgoingQuery  = `
		UPDATE messages SET is_outgoing=true
		WHERE sender_id=$1 AND (is_outgoing=false OR is_outgoing IS NULL)
	`
	messagesSyncDataQuery = `SELECT id, edit_date FROM messages WHERE chat_id=$1`

	// messageJoinedSelect — общая часть выборок с присоединёнными отправителем и медиа.
	messageJoinedSelect = `
		SELECT m.id, m.chat_id, m.sender_id, m.date, m.text, m.reply_to_msg_id, m.reply_to_text,
		       m.forward_from_id, m.edit_date, m.is_outgoing, m.raw_data,
		       u.username, u.first_name, u.last_name,
		       m.media_type, m.media_path, md.file_name, md.mime_type, md.file_size, md.downloaded
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		LEFT JOIN media md ON md.message_id = m.id AND md.chat_id = m.chat_id
	`
)

// replyPreviewLimit ограничивает длину цитаты reply_to_text.
const replyPreviewLimit = 100

// InsertMessage записывает сообщение. Повторная вставка той же пары
// (id, chat_id) перезаписывает строку — операция идемпотентна.
func (d *Database) InsertMessage(ctx context.Context, msg *Message) error {
	return withRetry(ctx, "insert message", func(ctx context.Context) error {
		_, err := d.Exec(ctx, upsertMessageQuery, messageArgs(msg)...)
		return err
	})
}

// InsertMessagesBatch записывает пачку сообщений в одной транзакции.
func (d *Database) InsertMessagesBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return withRetry(ctx, "insert messages batch", func(ctx context.Context) error {
		return d.DoTxn(ctx, nil, func(ctx context.Context) error {
			for _, msg := range msgs {
				if _, err := d.Exec(ctx, upsertMessageQuery, messageArgs(msg)...); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func messageArgs(msg *Message) []any {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return []any{
		msg.ID, msg.ChatID, msg.SenderID, utc(msg.Date), msg.Text,
		msg.ReplyToMsgID, msg.ReplyToText, msg.ForwardFromID, utcPtr(msg.EditDate),
		msg.MediaType, msg.MediaID, msg.MediaPath, msg.RawData, msg.IsOutgoing, utc(createdAt),
	}
}

// UpdateMessageText применяет правку: новый текст и отметка времени редактирования.
func (d *Database) UpdateMessageText(ctx context.Context, chatID, msgID int64, text string, editDate time.Time) error {
	return withRetry(ctx, "update message text", func(ctx context.Context) error {
		_, err := d.Exec(ctx, updateMessageTextQuery, text, utc(editDate), chatID, msgID)
		return err
	})
}

// DeleteMessage удаляет сообщение вместе с медиа и реакциями в одной транзакции.
func (d *Database) DeleteMessage(ctx context.Context, chatID, msgID int64) error {
	return withRetry(ctx, "delete message", func(ctx context.Context) error {
		return d.DoTxn(ctx, nil, func(ctx context.Context) error {
			for _, q := range []string{
				"DELETE FROM media WHERE chat_id=$1 AND message_id=$2",
				"DELETE FROM reactions WHERE chat_id=$1 AND message_id=$2",
				"DELETE FROM messages WHERE chat_id=$1 AND id=$2",
			} {
				if _, err := d.Exec(ctx, q, chatID, msgID); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// DeleteMessageByIDAnyChat удаляет сообщение по id без известного чата
// (общие апдейты удаления не несут peer). Возвращает маркированные id чатов,
// в которых сообщение было найдено и удалено.
func (d *Database) DeleteMessageByIDAnyChat(ctx context.Context, msgID int64) ([]int64, error) {
	rows, err := d.Query(ctx, "SELECT chat_id FROM messages WHERE id=$1", msgID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve chats for message")
	}
	var chatIDs []int64
	for rows.Next() {
		var chatID int64
		if err = rows.Scan(&chatID); err != nil {
			rows.Close()
			return nil, err
		}
		chatIDs = append(chatIDs, chatID)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, chatID := range chatIDs {
		if err = d.DeleteMessage(ctx, chatID, msgID); err != nil {
			return chatIDs, err
		}
	}
	return chatIDs, nil
}

// GetMessageText возвращает текст сообщения чата; ok=false — записи нет.
func (d *Database) GetMessageText(ctx context.Context, chatID, msgID int64) (string, bool) {
	var text sql.NullString
	err := d.QueryRow(ctx, "SELECT text FROM messages WHERE chat_id=$1 AND id=$2", chatID, msgID).Scan(&text)
	if err != nil {
		return "", false
	}
	return text.String, true
}

// GetLastMessageID возвращает максимальный сохранённый id сообщения чата
// (0 для пустого чата) — курсор инкрементального бэкапа.
func (d *Database) GetLastMessageID(ctx context.Context, chatID int64) (int64, error) {
	var id int64
	if err := d.QueryRow(ctx, lastMessageIDQuery, chatID).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "get last message id")
	}
	return id, nil
}

// BackfillIsOutgoing помечает исходящими исторические сообщения владельца
// аккаунта, записанные до того, как флаг стал известен. Возвращает число
// обновлённых строк.
func (d *Database) BackfillIsOutgoing(ctx context.Context, ownerID int64) (int64, error) {
	var affected int64
	err := withRetry(ctx, "backfill is_outgoing", func(ctx context.Context) error {
		res, execErr := d.Exec(ctx, backfillOutgoingQuery, ownerID)
		if execErr != nil {
			return execErr
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// GetMessagesSyncData возвращает карту id → edit_date (нулевое время — правок
// не было) для сверки локального состояния чата с Telegram.
func (d *Database) GetMessagesSyncData(ctx context.Context, chatID int64) (map[int64]time.Time, error) {
	rows, err := d.Query(ctx, messagesSyncDataQuery, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "get sync data")
	}
	defer rows.Close()

	result := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var editDate sql.NullTime
		if err = rows.Scan(&id, &editDate); err != nil {
			return nil, err
		}
		if editDate.Valid {
			result[id] = editDate.Time.UTC()
		} else {
			result[id] = time.Time{}
		}
	}
	return result, rows.Err()
}

// GetMessagesPaginated возвращает страницу сообщений чата в порядке
// date DESC, id DESC с данными отправителя, медиа и реакциями.
// Курсор (beforeDate, beforeID) задаёт строгое кортежное условие
// (date < ?) OR (date = ? AND id < ?) для бесконечной прокрутки; offset
// поддержан для совместимости с постраничным доступом.
func (d *Database) GetMessagesPaginated(
	ctx context.Context,
	chatID int64,
	limit, offset int,
	search string,
	beforeDate *time.Time,
	beforeID *int64,
) ([]*MessageView, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := messageJoinedSelect + " WHERE m.chat_id=$1"
	args := []any{chatID}

	if search != "" {
		args = append(args, "%"+lowered(search)+"%")
		query += fmt.Sprintf(" AND LOWER(COALESCE(m.text, '')) LIKE $%d", len(args))
	}
	if beforeDate != nil && beforeID != nil {
		args = append(args, utc(*beforeDate))
		dateIdx := len(args)
		args = append(args, *beforeID)
		idIdx := len(args)
		query += fmt.Sprintf(" AND (m.date < $%d OR (m.date = $%d AND m.id < $%d))", dateIdx, dateIdx, idIdx)
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY m.date DESC, m.id DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	views, err := scanMessageViews(rows)
	if err != nil {
		return nil, err
	}
	if err = d.backfillReplyPreviews(ctx, chatID, views); err != nil {
		return nil, err
	}
	if err = d.attachReactions(ctx, chatID, views); err != nil {
		return nil, err
	}
	return views, nil
}

// FindMessageByDateWithJoins ищет сообщение для перехода к дате:
// первое на/после целевого момента, иначе последнее до него, иначе первое в
// чате. Возвращает (nil, nil) для пустого чата; в Offset — позиция сообщения
// в нисходящей ленте.
func (d *Database) FindMessageByDateWithJoins(ctx context.Context, chatID int64, target time.Time) (*MessageView, error) {
	strategies := []struct {
		clause string
		args   []any
	}{
		{" WHERE m.chat_id=$1 AND m.date >= $2 ORDER BY m.date ASC, m.id ASC LIMIT 1", []any{chatID, utc(target)}},
		{" WHERE m.chat_id=$1 AND m.date < $2 ORDER BY m.date DESC, m.id DESC LIMIT 1", []any{chatID, utc(target)}},
		{" WHERE m.chat_id=$1 ORDER BY m.date ASC, m.id ASC LIMIT 1", []any{chatID}},
	}

	var view *MessageView
	for _, s := range strategies {
		rows, err := d.Query(ctx, messageJoinedSelect+s.clause, s.args...)
		if err != nil {
			return nil, errors.Wrap(err, "find message by date")
		}
		views, scanErr := scanMessageViews(rows)
		rows.Close()
		if scanErr != nil {
			return nil, scanErr
		}
		if len(views) > 0 {
			view = views[0]
			break
		}
	}
	if view == nil {
		return nil, nil
	}

	if err := d.backfillReplyPreviews(ctx, chatID, []*MessageView{view}); err != nil {
		return nil, err
	}
	if err := d.attachReactions(ctx, chatID, []*MessageView{view}); err != nil {
		return nil, err
	}

	// Позиция в порядке date DESC, id DESC: число сообщений строго "новее".
	var position int
	err := d.QueryRow(ctx,
		"SELECT COUNT(*) FROM messages WHERE chat_id=$1 AND (date > $2 OR (date = $2 AND id > $3))",
		chatID, utc(view.Date), view.ID).Scan(&position)
	if err != nil {
		return nil, errors.Wrap(err, "message position")
	}
	view.Offset = &position
	return view, nil
}

// MessageIterator — потоковый итератор для экспорта чата: одна строка за раз,
// постоянная память. Реакции в экспорт не включаются.
type MessageIterator struct {
	rows interface {
		Next() bool
		Scan(...any) error
		Err() error
		Close() error
	}
}

// Next возвращает следующее сообщение или (nil, nil) в конце набора.
func (it *MessageIterator) Next() (*MessageView, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return scanMessageView(it.rows)
}

// Close освобождает курсор.
func (it *MessageIterator) Close() error { return it.rows.Close() }

// GetMessagesForExport открывает потоковую выборку всех сообщений чата в
// хронологическом порядке.
func (d *Database) GetMessagesForExport(ctx context.Context, chatID int64) (*MessageIterator, error) {
	rows, err := d.Query(ctx, messageJoinedSelect+" WHERE m.chat_id=$1 ORDER BY m.date ASC, m.id ASC", chatID)
	if err != nil {
		return nil, errors.Wrap(err, "export query")
	}
	return &MessageIterator{rows: rows}, nil
}

// GetChatStats возвращает счётчики и граничные даты сообщений одного чата.
func (d *Database) GetChatStats(ctx context.Context, chatID int64) (*ChatStats, error) {
	stats := &ChatStats{ChatID: chatID}
	var first, last sql.NullTime

	err := d.QueryRow(ctx,
		"SELECT COUNT(*), MIN(date), MAX(date) FROM messages WHERE chat_id=$1", chatID).
		Scan(&stats.Messages, &first, &last)
	if err != nil {
		return nil, errors.Wrap(err, "chat stats")
	}
	if first.Valid {
		t := first.Time.UTC()
		stats.FirstMessageDate = &t
	}
	if last.Valid {
		t := last.Time.UTC()
		stats.LastMessageDate = &t
	}

	err = d.QueryRow(ctx,
		"SELECT COUNT(*) FROM media WHERE chat_id=$1 AND downloaded=true", chatID).
		Scan(&stats.MediaFiles)
	if err != nil {
		return nil, errors.Wrap(err, "chat media stats")
	}
	return stats, nil
}

// scanMessageView читает одну строку messageJoinedSelect.
func scanMessageView(row interface{ Scan(...any) error }) (*MessageView, error) {
	var v MessageView
	var date time.Time
	var editDate sql.NullTime
	var rawData sql.NullString
	var mediaDownloaded sql.NullBool

	err := row.Scan(
		&v.ID, &v.ChatID, &v.SenderID, &date, &v.Text, &v.ReplyToMsgID, &v.ReplyToText,
		&v.ForwardFromID, &editDate, &v.IsOutgoing, &rawData,
		&v.SenderUsername, &v.SenderFirstName, &v.SenderLastName,
		&v.MediaType, &v.MediaPath, &v.MediaFileName, &v.MediaMimeType, &v.MediaFileSize, &mediaDownloaded)
	if err != nil {
		return nil, errors.Wrap(err, "scan message")
	}

	v.Date = date.UTC()
	if editDate.Valid {
		t := editDate.Time.UTC()
		v.EditDate = &t
	}
	if rawData.Valid && rawData.String != "" {
		v.RawData = []byte(rawData.String)
	}
	if mediaDownloaded.Valid {
		v.MediaDownloaded = &mediaDownloaded.Bool
	}
	v.Reactions = []Reaction{}
	return &v, nil
}

func scanMessageViews(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]*MessageView, error) {
	var views []*MessageView
	for rows.Next() {
		v, err := scanMessageView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// backfillReplyPreviews дозаполняет reply_to_text коротким превью цитируемого
// сообщения, когда оно есть в архиве, а превью не было сохранено.
func (d *Database) backfillReplyPreviews(ctx context.Context, chatID int64, views []*MessageView) error {
	var missing []int64
	for _, v := range views {
		if v.ReplyToMsgID != nil && (v.ReplyToText == nil || *v.ReplyToText == "") {
			missing = append(missing, *v.ReplyToMsgID)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	query, args := inQuery("SELECT id, text FROM messages WHERE chat_id=$1 AND id IN ", []any{chatID}, missing)
	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "reply previews")
	}
	defer rows.Close()

	previews := make(map[int64]string, len(missing))
	for rows.Next() {
		var id int64
		var text sql.NullString
		if err = rows.Scan(&id, &text); err != nil {
			return err
		}
		previews[id] = truncateRunes(text.String, replyPreviewLimit)
	}
	if err = rows.Err(); err != nil {
		return err
	}

	for _, v := range views {
		if v.ReplyToMsgID == nil || (v.ReplyToText != nil && *v.ReplyToText != "") {
			continue
		}
		if preview, ok := previews[*v.ReplyToMsgID]; ok && preview != "" {
			p := preview
			v.ReplyToText = &p
		}
	}
	return nil
}

// attachReactions подтягивает реакции для набора сообщений одним запросом и
// группирует их в форму {emoji, count, user_ids}.
func (d *Database) attachReactions(ctx context.Context, chatID int64, views []*MessageView) error {
	if len(views) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(views))
	byID := make(map[int64]*MessageView, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
		byID[v.ID] = v
	}

	query, args := inQuery(
		"SELECT message_id, emoji, user_id, count FROM reactions WHERE chat_id=$1 AND message_id IN ",
		[]any{chatID}, ids)
	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "load reactions")
	}
	defer rows.Close()

	type key struct {
		msgID int64
		emoji string
	}
	grouped := make(map[key]*Reaction)
	order := make(map[int64][]string)

	for rows.Next() {
		var msgID, userID int64
		var emoji string
		var count int
		if err = rows.Scan(&msgID, &emoji, &userID, &count); err != nil {
			return err
		}
		k := key{msgID: msgID, emoji: emoji}
		r, ok := grouped[k]
		if !ok {
			r = &Reaction{Emoji: emoji}
			grouped[k] = r
			order[msgID] = append(order[msgID], emoji)
		}
		r.Count += count
		if userID != 0 {
			r.UserIDs = append(r.UserIDs, userID)
		}
	}
	if err = rows.Err(); err != nil {
		return err
	}

	for msgID, emojis := range order {
		v := byID[msgID]
		if v == nil {
			continue
		}
		for _, emoji := range emojis {
			v.Reactions = append(v.Reactions, *grouped[key{msgID: msgID, emoji: emoji}])
		}
	}
	return nil
}

// inQuery достраивает запрос списком placeholder'ов для IN и возвращает
// итоговые аргументы. Нумерация продолжается после уже занятых позиций.
func inQuery(prefix string, args []any, ids []int64) (string, []any) {
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	return prefix + "(" + strings.Join(placeholders, ", ") + ")", args
}

// truncateRunes обрезает строку до limit рун без разрыва многобайтовых символов.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
