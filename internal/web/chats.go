package web

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/store"
)

const avatarCacheTTL = 5 * time.Minute

// avatarCache кэширует результат поиска файла аватара: на каждый чат списка
// иначе приходился бы glob по каталогу.
type avatarCache struct {
	media *media.Store

	mu      sync.Mutex
	entries map[string]avatarEntry
}

type avatarEntry struct {
	url     *string
	expires time.Time
}

func newAvatarCache(mediaStore *media.Store) *avatarCache {
	return &avatarCache{
		media:   mediaStore,
		entries: make(map[string]avatarEntry),
	}
}

// URL возвращает /media/-ссылку на аватар или nil, если файла нет.
func (c *avatarCache) URL(chatType string, id int64) *string {
	kind := media.AvatarChats
	if chatType == "private" {
		kind = media.AvatarUsers
	}
	key := string(kind) + "/" + strconv.FormatInt(id, 10)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.url
	}

	var url *string
	if rel, found := c.media.ResolveAvatar(kind, id); found {
		u := "/media/" + rel
		url = &u
	}
	c.mu.Lock()
	c.entries[key] = avatarEntry{url: url, expires: time.Now().Add(avatarCacheTTL)}
	c.mu.Unlock()
	return url
}

// whitelistScanPage — размер страницы обхода при включённом DISPLAY_CHAT_IDS.
const whitelistScanPage = 500

// handleChats — страница списка чатов с поиском и ссылками на аватары.
// При включённом whitelist'е total и has_more считаются по видимым чатам:
// скрытые не занимают места в страницах.
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit <= 0 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	search := r.URL.Query().Get("search")

	var (
		page  []*store.ChatView
		total int
	)
	if len(s.env.DisplayChatIDs) == 0 {
		chats, dbTotal, err := s.db.GetAllChats(r.Context(), limit, offset, search)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list chats")
			return
		}
		page, total = chats, dbTotal
	} else {
		visible, err := s.visibleChats(r.Context(), search)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list chats")
			return
		}
		total = len(visible)
		page = paginateChats(visible, limit, offset)
	}

	for _, chat := range page {
		chat.AvatarURL = s.avatars.URL(chat.Type, chat.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chats":    page,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": offset+len(page) < total,
	})
}

// visibleChats собирает все чаты whitelist'а в порядке выдачи базы. Обход
// постраничный: whitelist мал, но общий список может быть большим.
func (s *Server) visibleChats(ctx context.Context, search string) ([]*store.ChatView, error) {
	visible := make([]*store.ChatView, 0, len(s.env.DisplayChatIDs))
	for fetchOffset := 0; ; fetchOffset += whitelistScanPage {
		chats, _, err := s.db.GetAllChats(ctx, whitelistScanPage, fetchOffset, search)
		if err != nil {
			return nil, err
		}
		for _, chat := range chats {
			if s.chatVisible(chat.ID) {
				visible = append(visible, chat)
			}
		}
		if len(chats) < whitelistScanPage {
			return visible, nil
		}
	}
}

func paginateChats(chats []*store.ChatView, limit, offset int) []*store.ChatView {
	if offset >= len(chats) {
		return []*store.ChatView{}
	}
	end := min(offset+limit, len(chats))
	return chats[offset:end]
}

// handleChatStats — счётчики и границы дат одного чата.
func (s *Server) handleChatStats(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.requireChat(w, r)
	if !ok {
		return
	}
	stats, err := s.db.GetChatStats(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute chat stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// requireChat разбирает {id} и применяет whitelist: чужой чат — 403.
func (s *Server) requireChat(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := chatIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return 0, false
	}
	if !s.chatVisible(chatID) {
		writeError(w, http.StatusForbidden, "chat is not available")
		return 0, false
	}
	return chatID, true
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
