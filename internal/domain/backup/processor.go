package backup

import (
	"context"
	"strconv"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/store"
	"github.com/calvinturbo/Telegram-Archive/internal/telegram/peerid"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	jsoniter "github.com/json-iterator/go"
)

// Processor превращает tg.Message в запись архива. Общий для движка бэкапа и
// слушателя реального времени: оба пути дают одинаковые строки в базе.
type Processor struct {
	db       *store.Database
	media    *media.Store
	api      *tg.Client
	download bool
}

// NewProcessor собирает процессор. download — глобальный флаг DOWNLOAD_MEDIA;
// отдельные вызовы Process могут дополнительно запретить скачивание.
func NewProcessor(db *store.Database, mediaStore *media.Store, api *tg.Client, download bool) *Processor {
	return &Processor{db: db, media: mediaStore, api: api, download: download}
}

// UpsertUsers сохраняет отправителей из сопутствующих сущностей ответа.
func (p *Processor) UpsertUsers(ctx context.Context, users []tg.UserClass) {
	for _, entity := range users {
		user, ok := entity.(*tg.User)
		if !ok {
			continue
		}
		record := &store.User{
			ID:    peerid.FromUser(user.ID),
			IsBot: user.Bot,
		}
		if user.Username != "" {
			record.Username = &user.Username
		}
		if user.FirstName != "" {
			record.FirstName = &user.FirstName
		}
		if user.LastName != "" {
			record.LastName = &user.LastName
		}
		if user.Phone != "" {
			record.Phone = &user.Phone
		}
		if err := p.db.UpsertUser(ctx, record); err != nil {
			logger.Warnf("backup: upsert user %d: %v", record.ID, err)
		}
	}
}

// Process строит запись архива для одного сообщения. allowMedia=false
// запрещает скачивание медиа независимо от глобального флага (метаданные
// медиа сохраняются в любом случае).
func (p *Processor) Process(ctx context.Context, chatID int64, msg *tg.Message, allowMedia bool) (*store.Message, []store.Reaction, error) {
	record := &store.Message{
		ID:         int64(msg.ID),
		ChatID:     chatID,
		Date:       time.Unix(int64(msg.Date), 0).UTC(),
		Text:       msg.Message,
		IsOutgoing: msg.Out,
	}

	if senderID := p.senderID(chatID, msg); senderID != 0 {
		record.SenderID = &senderID
	}
	if msg.EditDate > 0 {
		edit := time.Unix(int64(msg.EditDate), 0).UTC()
		record.EditDate = &edit
	}

	raw := make(map[string]any)
	p.fillReply(ctx, record, msg)
	p.fillForward(record, raw, msg)
	if msg.GroupedID != 0 {
		// Строка, а не число: JSON-клиенты теряют точность int64.
		raw["grouped_id"] = strconv.FormatInt(msg.GroupedID, 10)
	}
	if msg.PostAuthor != "" {
		raw["post_author"] = msg.PostAuthor
	}

	mediaRow, err := p.handleMedia(ctx, record, raw, msg, allowMedia && p.download)
	if err != nil {
		return nil, nil, errors.Wrap(err, "media pipeline")
	}
	if mediaRow != nil {
		if upsertErr := p.db.UpsertMedia(ctx, mediaRow); upsertErr != nil {
			return nil, nil, errors.Wrap(upsertErr, "upsert media")
		}
	}

	if len(raw) > 0 {
		encoded, marshalErr := jsoniter.MarshalToString(raw)
		if marshalErr != nil {
			return nil, nil, errors.Wrap(marshalErr, "marshal raw data")
		}
		record.RawData = &encoded
	}

	return record, extractReactions(msg), nil
}

// senderID возвращает маркированный id отправителя. В личных диалогах
// входящие сообщения часто идут без from_id: отправитель — сам собеседник.
func (p *Processor) senderID(chatID int64, msg *tg.Message) int64 {
	switch from := msg.FromID.(type) {
	case *tg.PeerUser:
		return peerid.FromUser(from.UserID)
	case *tg.PeerChannel:
		return peerid.FromChannel(from.ChannelID)
	case *tg.PeerChat:
		return peerid.FromChat(from.ChatID)
	}
	if !msg.Out && peerid.IsUser(chatID) {
		return chatID
	}
	return 0
}

// fillReply сохраняет ссылку на цитируемое сообщение и его короткое превью,
// когда оригинал уже есть в архиве.
func (p *Processor) fillReply(ctx context.Context, record *store.Message, msg *tg.Message) {
	reply, ok := msg.ReplyTo.(*tg.MessageReplyHeader)
	if !ok || reply.ReplyToMsgID == 0 {
		return
	}
	replyID := int64(reply.ReplyToMsgID)
	record.ReplyToMsgID = &replyID

	if text, found := p.db.GetMessageText(ctx, record.ChatID, replyID); found && text != "" {
		preview := truncateRunes(text, 100)
		record.ReplyToText = &preview
	}
}

// fillForward фиксирует источник пересылки: маркированный id, когда он
// известен, и отображаемое имя в raw_data.
func (p *Processor) fillForward(record *store.Message, raw map[string]any, msg *tg.Message) {
	fwd, ok := msg.GetFwdFrom()
	if !ok {
		return
	}
	if fwd.FromID != nil {
		forwardID := peerid.FromPeer(fwd.FromID)
		record.ForwardFromID = &forwardID
	}
	if fwd.FromName != "" {
		raw["forward_from_name"] = fwd.FromName
	}
	if fwd.PostAuthor != "" {
		raw["forward_post_author"] = fwd.PostAuthor
	}
}

// extractReactions собирает реакции сообщения: счётчики из Results,
// атрибуция пользователей из RecentReactions, когда Telegram её отдаёт.
func extractReactions(msg *tg.Message) []store.Reaction {
	reactions, ok := msg.GetReactions()
	if !ok || len(reactions.Results) == 0 {
		return nil
	}

	voters := make(map[string][]int64)
	for _, recent := range reactions.RecentReactions {
		emoji := reactionKey(recent.Reaction)
		if emoji == "" {
			continue
		}
		if user, okUser := recent.PeerID.(*tg.PeerUser); okUser {
			voters[emoji] = append(voters[emoji], peerid.FromUser(user.UserID))
		}
	}

	result := make([]store.Reaction, 0, len(reactions.Results))
	for _, item := range reactions.Results {
		emoji := reactionKey(item.Reaction)
		if emoji == "" {
			continue
		}
		r := store.Reaction{Emoji: emoji, Count: item.Count}
		// Список голосовавших используем только когда он полон, иначе
		// развёртка по пользователям потеряла бы часть счётчика.
		if ids := voters[emoji]; len(ids) == item.Count {
			r.UserIDs = ids
		}
		result = append(result, r)
	}
	return result
}

func reactionKey(reaction tg.ReactionClass) string {
	switch r := reaction.(type) {
	case *tg.ReactionEmoji:
		return r.Emoticon
	case *tg.ReactionCustomEmoji:
		return "custom:" + strconv.FormatInt(r.DocumentID, 10)
	default:
		return ""
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
