package backup

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
)

// historyPage — нормализованная страница истории с сопутствующими сущностями.
type historyPage struct {
	messages []*tg.Message
	users    []tg.UserClass
	chats    []tg.ChatClass
}

// fetchHistoryAscending выгружает страницу истории строго новее курсора.
// Комбинация OffsetID=cursor, AddOffset=-limit, MinID=cursor даёт восходящий
// инкрементальный проход: Telegram возвращает страницу сразу после курсора,
// в ответе она отсортирована по убыванию и здесь переворачивается.
func fetchHistoryAscending(ctx context.Context, api *tg.Client, peer tg.InputPeerClass, cursor int64, limit int) (*historyPage, error) {
	resp, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      peer,
		OffsetID:  int(cursor),
		AddOffset: -limit,
		Limit:     limit,
		MinID:     int(cursor),
	})
	if err != nil {
		return nil, fmt.Errorf("MessagesGetHistory: %w", err)
	}

	page, err := normalizeMessages(resp)
	if err != nil {
		return nil, err
	}
	reverseMessages(page.messages)
	return page, nil
}

// normalizeMessages сводит варианты ответа к одной форме. Сервисные сообщения
// и пустые заглушки отбрасываются.
func normalizeMessages(resp tg.MessagesMessagesClass) (*historyPage, error) {
	var raw []tg.MessageClass
	page := &historyPage{}

	switch data := resp.(type) {
	case *tg.MessagesMessages:
		raw, page.users, page.chats = data.Messages, data.Users, data.Chats
	case *tg.MessagesMessagesSlice:
		raw, page.users, page.chats = data.Messages, data.Users, data.Chats
	case *tg.MessagesChannelMessages:
		raw, page.users, page.chats = data.Messages, data.Users, data.Chats
	case *tg.MessagesMessagesNotModified:
		return page, nil
	default:
		return nil, fmt.Errorf("unexpected messages response: %T", resp)
	}

	page.messages = make([]*tg.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			page.messages = append(page.messages, msg)
		}
	}
	return page, nil
}

func reverseMessages(msgs []*tg.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// fetchMessagesByIDs возвращает текущие версии сообщений по id (до 100 за
// вызов): для каналов — ChannelsGetMessages, для остальных — MessagesGetMessages.
func fetchMessagesByIDs(ctx context.Context, api *tg.Client, peer tg.InputPeerClass, ids []int64) ([]*tg.Message, error) {
	inputIDs := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		inputIDs = append(inputIDs, &tg.InputMessageID{ID: int(id)})
	}

	var resp tg.MessagesMessagesClass
	var err error
	if channel, ok := peer.(*tg.InputPeerChannel); ok {
		resp, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
			ID:      inputIDs,
		})
	} else {
		resp, err = api.MessagesGetMessages(ctx, inputIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch messages by ids: %w", err)
	}

	page, err := normalizeMessages(resp)
	if err != nil {
		return nil, err
	}
	return page.messages, nil
}
