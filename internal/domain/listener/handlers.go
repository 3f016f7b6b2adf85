package listener

import (
	"context"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/domain/backup"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/peersmgr"
	"github.com/calvinturbo/Telegram-Archive/internal/notify"
	"github.com/calvinturbo/Telegram-Archive/internal/store"
	"github.com/calvinturbo/Telegram-Archive/internal/telegram/peerid"

	"github.com/gotd/td/tg"
)

// onNewMessage обрабатывает входящее сообщение: служебные действия уходят в
// ветку chat_update, обычные сообщения — в архив.
func (s *Service) onNewMessage(ctx context.Context, e tg.Entities, msgClass tg.MessageClass) {
	if err := s.peers.ApplyEntities(ctx, e); err != nil {
		logger.Debugf("listener: apply entities: %v", err)
	}

	switch msg := msgClass.(type) {
	case *tg.MessageService:
		s.onChatAction(ctx, msg)
	case *tg.Message:
		s.handleNewMessage(ctx, e, msg)
	}
}

func (s *Service) handleNewMessage(ctx context.Context, e tg.Entities, msg *tg.Message) {
	chatID := peerid.FromPeer(msg.PeerID)
	if chatID == 0 {
		return
	}
	s.stats.add(func(c *statsSnapshot) { c.newMessagesReceived++ })

	ref, known := dialogRefFromEntities(e, msg.PeerID)
	if !s.IsTracked(chatID) {
		// новый чат попадает в архив только если проходит правила отбора
		if !known || !backup.Admissible(s.env, ref) {
			return
		}
		s.track(chatID)
		logger.Infof("listener: now tracking chat %d (%s)", chatID, ref.ChatType())
	}
	if !s.env.ListenNewMessages {
		return
	}

	if known {
		if err := s.db.UpsertChat(ctx, backup.ChatRecord(ref)); err != nil {
			s.fail("upsert chat %d: %v", chatID, err)
			return
		}
	}
	s.upsertSenders(ctx, e)

	record, reactions, err := s.proc.Process(ctx, chatID, msg, s.env.ListenNewMessagesMedia)
	if err != nil {
		s.fail("process message %d in chat %d: %v", msg.ID, chatID, err)
		return
	}

	if msg.GroupedID != 0 && s.env.ListenAlbums {
		s.stats.add(func(c *statsSnapshot) { c.albumsReceived++ })
		s.albums.add(msg.GroupedID, chatID, record, reactions)
		return
	}

	s.saveMessages(ctx, chatID, []*store.Message{record}, map[int64][]store.Reaction{record.ID: reactions})
}

// flushAlbum записывает собранный альбом одной пачкой и рассылает события
// по каждому элементу.
func (s *Service) flushAlbum(chatID int64, records []*store.Message, reactions map[int64][]store.Reaction) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.saveMessages(ctx, chatID, records, reactions)
}

func (s *Service) saveMessages(ctx context.Context, chatID int64, records []*store.Message, reactions map[int64][]store.Reaction) {
	if err := s.db.InsertMessagesBatch(ctx, records); err != nil {
		s.fail("insert messages in chat %d: %v", chatID, err)
		return
	}
	for _, record := range records {
		if r := reactions[record.ID]; len(r) > 0 {
			if err := s.db.ReplaceReactions(ctx, chatID, record.ID, r); err != nil {
				s.fail("replace reactions for %d in chat %d: %v", record.ID, chatID, err)
			}
		}
	}

	s.stats.add(func(c *statsSnapshot) {
		c.newMessagesSaved += int64(len(records))
		c.operationsApplied += int64(len(records))
	})
	for _, record := range records {
		s.publish(ctx, notify.Event{
			Type:   notify.EventNewMessage,
			ChatID: chatID,
			Data:   map[string]any{"message": messagePayload(record)},
		})
	}
}

// onEditMessage применяет правку текста. Частые правки по одному чату
// ограничиваются защитой от всплесков.
func (s *Service) onEditMessage(ctx context.Context, msgClass tg.MessageClass) {
	if !s.env.ListenEdits {
		return
	}
	msg, ok := msgClass.(*tg.Message)
	if !ok {
		return
	}
	chatID := peerid.FromPeer(msg.PeerID)
	if chatID == 0 || !s.IsTracked(chatID) {
		return
	}
	s.stats.add(func(c *statsSnapshot) { c.editsReceived++ })

	if allowed, reason := s.protector.Check(chatID, "edit", time.Now()); !allowed {
		s.stats.add(func(c *statsSnapshot) { c.operationsBlocked++ })
		logger.Debugf("listener: edit of %d in chat %d blocked: %s", msg.ID, chatID, reason)
		return
	}

	editDate := time.Now().UTC()
	if msg.EditDate > 0 {
		editDate = time.Unix(int64(msg.EditDate), 0).UTC()
	}
	if err := s.db.UpdateMessageText(ctx, chatID, int64(msg.ID), msg.Message, editDate); err != nil {
		s.fail("apply edit of %d in chat %d: %v", msg.ID, chatID, err)
		return
	}

	s.stats.add(func(c *statsSnapshot) {
		c.editsApplied++
		c.operationsApplied++
	})
	s.publish(ctx, notify.Event{
		Type:   notify.EventEdit,
		ChatID: chatID,
		Data: map[string]any{
			"message_id": int64(msg.ID),
			"text":       msg.Message,
			"edit_date":  editDate.Format(time.RFC3339),
		},
	})
}

// onDeleteChannelMessages удаляет сообщения канала: чат известен из апдейта.
func (s *Service) onDeleteChannelMessages(ctx context.Context, channelID int64, ids []int) {
	if !s.env.ListenDeletions {
		s.stats.add(func(c *statsSnapshot) { c.deletionsSkipped += int64(len(ids)) })
		return
	}
	chatID := peerid.FromChannel(channelID)
	if !s.IsTracked(chatID) {
		return
	}

	for _, id := range ids {
		s.stats.add(func(c *statsSnapshot) { c.deletionsReceived++ })
		if allowed, reason := s.protector.Check(chatID, "delete", time.Now()); !allowed {
			s.stats.add(func(c *statsSnapshot) { c.operationsBlocked++ })
			logger.Debugf("listener: delete of %d in chat %d blocked: %s", id, chatID, reason)
			continue
		}
		if err := s.db.DeleteMessage(ctx, chatID, int64(id)); err != nil {
			s.fail("delete message %d in chat %d: %v", id, chatID, err)
			continue
		}
		s.stats.add(func(c *statsSnapshot) {
			c.deletionsApplied++
			c.operationsApplied++
		})
		s.publish(ctx, notify.Event{
			Type:   notify.EventDelete,
			ChatID: chatID,
			Data:   map[string]any{"message_id": int64(id)},
		})
	}
}

// onDeleteMessages обрабатывает удаления без указания чата (личные и обычные
// группы): сообщение ищется по id во всех чатах. Защита от всплесков для
// таких апдейтов ведётся в общей корзине — чат заранее неизвестен.
func (s *Service) onDeleteMessages(ctx context.Context, ids []int) {
	if !s.env.ListenDeletions {
		s.stats.add(func(c *statsSnapshot) { c.deletionsSkipped += int64(len(ids)) })
		return
	}

	for _, id := range ids {
		s.stats.add(func(c *statsSnapshot) { c.deletionsReceived++ })
		if allowed, reason := s.protector.Check(0, "delete", time.Now()); !allowed {
			s.stats.add(func(c *statsSnapshot) { c.operationsBlocked++ })
			logger.Debugf("listener: delete of %d blocked: %s", id, reason)
			continue
		}
		chats, err := s.db.DeleteMessageByIDAnyChat(ctx, int64(id))
		if err != nil {
			s.fail("delete message %d: %v", id, err)
			continue
		}
		if len(chats) == 0 {
			continue
		}
		s.stats.add(func(c *statsSnapshot) {
			c.deletionsApplied++
			c.operationsApplied++
		})
		for _, chatID := range chats {
			s.publish(ctx, notify.Event{
				Type:   notify.EventDelete,
				ChatID: chatID,
				Data:   map[string]any{"message_id": int64(id)},
			})
		}
	}
}

// onChatAction реагирует на служебные сообщения: смена названия или фото чата
// приводит к перечитыванию сущности и событию chat_update.
func (s *Service) onChatAction(ctx context.Context, msg *tg.MessageService) {
	if !s.env.ListenChatActions {
		return
	}
	switch msg.Action.(type) {
	case *tg.MessageActionChatEditTitle, *tg.MessageActionChatEditPhoto, *tg.MessageActionChatDeletePhoto:
	default:
		return
	}

	chatID := peerid.FromPeer(msg.PeerID)
	if chatID == 0 || !s.IsTracked(chatID) {
		return
	}
	s.stats.add(func(c *statsSnapshot) { c.chatActions++ })

	ref, err := s.peers.ResolveDialogRef(ctx, chatID)
	if err != nil {
		s.fail("refetch chat %d after action: %v", chatID, err)
		return
	}
	if err = s.db.UpsertChat(ctx, backup.ChatRecord(ref)); err != nil {
		s.fail("upsert chat %d after action: %v", chatID, err)
		return
	}
	s.publish(ctx, notify.Event{
		Type:   notify.EventChatUpdate,
		ChatID: chatID,
	})
}

func (s *Service) upsertSenders(ctx context.Context, e tg.Entities) {
	users := make([]tg.UserClass, 0, len(e.Users))
	for _, user := range e.Users {
		users = append(users, user)
	}
	s.proc.UpsertUsers(ctx, users)
}

func (s *Service) fail(format string, args ...any) {
	s.stats.add(func(c *statsSnapshot) { c.errors++ })
	logger.Errorf("listener: "+format, args...)
}

// dialogRefFromEntities строит описание чата из сопутствующих сущностей
// апдейта. false — сущность в апдейт не вложена.
func dialogRefFromEntities(e tg.Entities, peer tg.PeerClass) (peersmgr.DialogRef, bool) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		user, ok := e.Users[p.UserID]
		if !ok {
			return peersmgr.DialogRef{}, false
		}
		return peersmgr.DialogRef{
			MarkedID:  peerid.FromUser(user.ID),
			Kind:      peersmgr.DialogKindUser,
			Username:  user.Username,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Phone:     user.Phone,
			IsBot:     user.Bot,
		}, true
	case *tg.PeerChat:
		chat, ok := e.Chats[p.ChatID]
		if !ok {
			return peersmgr.DialogRef{}, false
		}
		return peersmgr.DialogRef{
			MarkedID:          peerid.FromChat(chat.ID),
			Kind:              peersmgr.DialogKindChat,
			Title:             chat.Title,
			ParticipantsCount: int64(chat.ParticipantsCount),
		}, true
	case *tg.PeerChannel:
		channel, ok := e.Channels[p.ChannelID]
		if !ok {
			return peersmgr.DialogRef{}, false
		}
		return peersmgr.DialogRef{
			MarkedID:          peerid.FromChannel(channel.ID),
			Kind:              peersmgr.DialogKindChannel,
			Title:             channel.Title,
			Username:          channel.Username,
			Megagroup:         channel.Megagroup,
			ParticipantsCount: int64(channel.ParticipantsCount),
		}, true
	default:
		return peersmgr.DialogRef{}, false
	}
}

// messagePayload — полезная нагрузка события new_message. Длинный текст
// обрезается на этапе сериализации события.
func messagePayload(record *store.Message) map[string]any {
	payload := map[string]any{
		"id":      record.ID,
		"chat_id": record.ChatID,
		"text":    record.Text,
		"date":    record.Date.Format(time.RFC3339),
	}
	if record.SenderID != nil {
		payload["sender_id"] = *record.SenderID
	}
	if record.MediaType != nil {
		payload["media_type"] = *record.MediaType
	}
	return payload
}
