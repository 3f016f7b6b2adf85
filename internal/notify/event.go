// Package notify — доставка событий архива от пишущего процесса к viewer'у.
//
// Транспорт выбирается один раз при старте по типу хранилища: PostgreSQL
// использует pg_notify/LISTEN, SQLite — внутренний HTTP-вебхук viewer'а.
// Публикация всегда best-effort: событие отправляется только после успешной
// записи в базу, а ошибка доставки логируется и не влияет на запись.
package notify

import (
	jsoniter "github.com/json-iterator/go"
)

// Channel — имя канала pg_notify и логическое имя потока событий.
const Channel = "telegram_updates"

// InternalPushPath — путь внутреннего вебхука viewer'а (SQLite-транспорт).
const InternalPushPath = "/internal/push"

// Типы событий.
const (
	EventNewMessage = "new_message"
	EventEdit       = "edit"
	EventDelete     = "delete"
	EventChatUpdate = "chat_update"
)

// textPreviewLimit — максимум символов текста сообщения в полезной нагрузке.
const textPreviewLimit = 500

// Event — событие архива. Data — произвольная полезная нагрузка,
// сериализуемая в JSON как есть.
type Event struct {
	Type   string         `json:"type"`
	ChatID int64          `json:"chat_id"`
	Data   map[string]any `json:"data,omitempty"`
}

// Encode сериализует событие, предварительно обрезав длинный текст сообщения:
// уведомлению нужен только анонс, а полный текст может быть на мегабайты.
func (e Event) Encode() ([]byte, error) {
	truncateMessageText(e.Data)
	return jsoniter.Marshal(e)
}

func truncateMessageText(data map[string]any) {
	if data == nil {
		return
	}
	msg, ok := data["message"].(map[string]any)
	if !ok {
		return
	}
	text, ok := msg["text"].(string)
	if !ok {
		return
	}
	runes := []rune(text)
	if len(runes) > textPreviewLimit {
		msg["text"] = string(runes[:textPreviewLimit]) + "…"
	}
}
