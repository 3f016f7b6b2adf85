package store

import (
	"encoding/json"
	"time"
)

// Chat — строка таблицы chats. Тип чата: private | group | channel
// (мегагруппы считаются group, широковещательные каналы — channel).
type Chat struct {
	ID                  int64
	Type                string
	Title               *string
	Username            *string
	FirstName           *string
	LastName            *string
	Phone               *string
	Description         *string
	ParticipantsCount   *int64
	LastSyncedMessageID *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DisplayName возвращает человекочитаемое имя чата для экспорта и уведомлений.
func (c *Chat) DisplayName() string {
	if c.Title != nil && *c.Title != "" {
		return *c.Title
	}
	name := ""
	if c.FirstName != nil {
		name = *c.FirstName
	}
	if c.LastName != nil && *c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += *c.LastName
	}
	if name != "" {
		return name
	}
	if c.Username != nil && *c.Username != "" {
		return *c.Username
	}
	return ""
}

// User — строка таблицы users (отправители сообщений).
type User struct {
	ID        int64
	Username  *string
	FirstName *string
	LastName  *string
	Phone     *string
	IsBot     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message — строка таблицы messages. Первичный ключ составной (id, chat_id):
// идентификаторы сообщений уникальны только в пределах чата.
type Message struct {
	ID            int64
	ChatID        int64
	SenderID      *int64
	Date          time.Time
	Text          string
	ReplyToMsgID  *int64
	ReplyToText   *string
	ForwardFromID *int64
	EditDate      *time.Time
	MediaType     *string
	MediaID       *string
	MediaPath     *string
	RawData       *string // JSON-блоб с дополнительными атрибутами (grouped_id, poll, ...)
	IsOutgoing    bool
	CreatedAt     time.Time
}

// Media — строка таблицы media. ID — стабильный телеграмный идентификатор
// файла (десятичная строка id фото/документа), он же ключ дедупликации.
type Media struct {
	ID           string
	MessageID    int64
	ChatID       int64
	Type         string
	FilePath     *string
	FileName     *string
	FileSize     int64
	MimeType     *string
	Width        int64
	Height       int64
	Duration     float64
	Downloaded   bool
	DownloadDate *time.Time
	CreatedAt    time.Time
}

// Reaction — агрегированная реакция на сообщение: эмодзи (или custom:<id>),
// суммарный счётчик и список проголосовавших, когда он известен.
type Reaction struct {
	Emoji   string  `json:"emoji"`
	Count   int     `json:"count"`
	UserIDs []int64 `json:"user_ids"`
}

// SyncStatus — строка таблицы sync_status: курсор и счётчик сообщений чата.
type SyncStatus struct {
	ChatID        int64
	LastMessageID int64
	LastSyncDate  time.Time
	MessageCount  int64
}

// PushSubscription — подписка Web Push. Ключ — endpoint браузерного push-сервиса.
type PushSubscription struct {
	Endpoint   string
	P256dh     string
	Auth       string
	ChatID     *int64 // nil = глобальная подписка на все чаты
	UserAgent  *string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// ChatView — чат с присоединённым статусом синхронизации для API viewer'а.
// AvatarURL заполняется веб-слоем после поиска файла аватара на диске.
type ChatView struct {
	ID                int64      `json:"id"`
	Type              string     `json:"type"`
	Title             *string    `json:"title"`
	Username          *string    `json:"username"`
	FirstName         *string    `json:"first_name"`
	LastName          *string    `json:"last_name"`
	ParticipantsCount *int64     `json:"participants_count"`
	UpdatedAt         *time.Time `json:"updated_at"`
	LastMessageID     *int64     `json:"last_message_id"`
	LastSyncDate      *time.Time `json:"last_sync_date"`
	MessageCount      int64      `json:"message_count"`
	AvatarURL         *string    `json:"avatar_url"`
}

// MessageView — сообщение с присоединёнными данными отправителя, медиа и
// реакциями; форма ответа API и экспорта.
type MessageView struct {
	ID              int64           `json:"id"`
	ChatID          int64           `json:"chat_id"`
	SenderID        *int64          `json:"sender_id"`
	Date            time.Time       `json:"date"`
	Text            string          `json:"text"`
	ReplyToMsgID    *int64          `json:"reply_to_msg_id"`
	ReplyToText     *string         `json:"reply_to_text"`
	ForwardFromID   *int64          `json:"forward_from_id"`
	EditDate        *time.Time      `json:"edit_date"`
	IsOutgoing      bool            `json:"is_outgoing"`
	RawData         json.RawMessage `json:"raw_data,omitempty"`
	SenderUsername  *string         `json:"sender_username"`
	SenderFirstName *string         `json:"sender_first_name"`
	SenderLastName  *string         `json:"sender_last_name"`
	MediaType       *string         `json:"media_type"`
	MediaPath       *string         `json:"media_path"`
	MediaFileName   *string         `json:"media_file_name"`
	MediaMimeType   *string         `json:"media_mime_type"`
	MediaFileSize   *int64          `json:"media_file_size"`
	MediaDownloaded *bool           `json:"media_downloaded"`
	Reactions       []Reaction      `json:"reactions"`
	// Offset — позиция сообщения в ленте чата (date DESC, id DESC);
	// заполняется только навигацией по дате.
	Offset *int `json:"offset,omitempty"`
}

// SenderName возвращает отображаемое имя отправителя ("Unknown" при отсутствии данных).
func (m *MessageView) SenderName() string {
	name := ""
	if m.SenderFirstName != nil {
		name = *m.SenderFirstName
	}
	if m.SenderLastName != nil && *m.SenderLastName != "" {
		if name != "" {
			name += " "
		}
		name += *m.SenderLastName
	}
	if name != "" {
		return name
	}
	if m.SenderUsername != nil && *m.SenderUsername != "" {
		return *m.SenderUsername
	}
	return "Unknown"
}

// Statistics — сводка по архиву для /api/stats и CLI.
type Statistics struct {
	Chats                int64      `json:"chats"`
	Messages             int64      `json:"messages"`
	MediaFiles           int64      `json:"media_files"`
	TotalSizeMB          float64    `json:"total_size_mb"`
	LastBackupTime       *time.Time `json:"last_backup_time"`
	LastBackupTimeSource string     `json:"last_backup_time_source,omitempty"`
}

// ChatStats — статистика одного чата для /api/chats/{id}/stats.
type ChatStats struct {
	ChatID           int64      `json:"chat_id"`
	Messages         int64      `json:"messages"`
	MediaFiles       int64      `json:"media_files"`
	FirstMessageDate *time.Time `json:"first_message_date"`
	LastMessageDate  *time.Time `json:"last_message_date"`
}
