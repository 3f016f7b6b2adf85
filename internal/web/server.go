// Package web — HTTP-интерфейс viewer'а: REST API архива (только чтение),
// раздача медиафайлов, WebSocket-поток событий и Web Push уведомления.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/notify"
	"github.com/calvinturbo/Telegram-Archive/internal/store"
	"github.com/calvinturbo/Telegram-Archive/internal/telegram/peerid"

	"github.com/go-faster/errors"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second

	shutdownTimeout = 10 * time.Second
)

// Server — HTTP-сервер viewer'а. Не пишет в архив: вся запись идёт через
// процесс бэкапа, сюда события приходят готовыми.
type Server struct {
	srv   *http.Server
	env   config.EnvConfig
	db    *store.Database
	media *media.Store
	auth  *authManager
	hub   *Hub
	push  *PushManager

	avatars *avatarCache
}

// NewServer собирает сервер: маршруты, аутентификация, WebSocket-хаб и
// менеджер push-уведомлений.
func NewServer(env config.EnvConfig, db *store.Database, mediaStore *media.Store) *Server {
	s := &Server{
		env:     env,
		db:      db,
		media:   mediaStore,
		auth:    newAuthManager(env.ViewerUsername, env.ViewerPassword),
		hub:     NewHub(),
		push:    NewPushManager(env, db),
		avatars: newAvatarCache(mediaStore),
	}

	mux := http.NewServeMux()

	// аутентификация — вне защищённой зоны
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	// внутренний вебхук событий: own-процессная защита, не пользовательская
	mux.HandleFunc("POST "+internalPushPath, s.handleInternalPush)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/chats", s.handleChats)
	protected.HandleFunc("GET /api/chats/{id}/messages", s.handleMessages)
	protected.HandleFunc("GET /api/chats/{id}/messages/by-date", s.handleMessagesByDate)
	protected.HandleFunc("GET /api/chats/{id}/stats", s.handleChatStats)
	protected.HandleFunc("GET /api/chats/{id}/export", s.handleExport)
	protected.HandleFunc("GET /api/stats", s.handleStats)
	protected.HandleFunc("POST /api/stats/refresh", s.handleStatsRefresh)
	protected.HandleFunc("GET /api/push/config", s.handlePushConfig)
	protected.HandleFunc("POST /api/push/subscribe", s.handlePushSubscribe)
	protected.HandleFunc("POST /api/push/unsubscribe", s.handlePushUnsubscribe)
	protected.Handle("GET /media/", s.mediaHandler())
	protected.HandleFunc("GET /ws/updates", s.handleWebSocket)

	mux.Handle("/", s.auth.middleware(protected))

	s.srv = &http.Server{
		Addr:         env.ViewerAddress,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Start нормализует whitelist, инициализирует push-ключи и запускает сервер.
// Блокируется до остановки.
func (s *Server) Start(ctx context.Context) error {
	if err := s.normalizeDisplayChatIDs(ctx); err != nil {
		return err
	}
	if err := s.push.Init(ctx); err != nil {
		return errors.Wrap(err, "init push manager")
	}

	logger.Infof("web: listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов.
func (s *Server) Shutdown() error {
	logger.Info("web: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.CloseAll()
	return s.srv.Shutdown(ctx)
}

// Dispatch раздаёт событие подписчикам WebSocket и push-уведомлениям.
// Единая точка входа для обоих транспортов (pg_notify и внутренний вебхук).
func (s *Server) Dispatch(ctx context.Context, payload []byte) {
	event, err := decodeEvent(payload)
	if err != nil {
		logger.Warnf("web: drop malformed event: %v", err)
		return
	}
	s.DispatchEvent(ctx, event)
}

// DispatchEvent — то же, что Dispatch, но для уже декодированного события.
func (s *Server) DispatchEvent(ctx context.Context, event notify.Event) {
	s.hub.Broadcast(event)
	s.push.Handle(ctx, event)
}

// normalizeDisplayChatIDs приводит DISPLAY_CHAT_IDS к маркированным id:
// положительный id, которого нет в chats, но есть его канальный двойник,
// переписывается на месте. Повторный запуск ничего не меняет.
func (s *Server) normalizeDisplayChatIDs(ctx context.Context) error {
	ids := s.env.DisplayChatIDs
	if len(ids) == 0 {
		return nil
	}

	normalized := make([]int64, 0, len(ids))
	changed := false
	for _, id := range ids {
		fixed, err := s.normalizeChatID(ctx, id)
		if err != nil {
			return err
		}
		if fixed != id {
			logger.Infof("web: DISPLAY_CHAT_IDS: %d normalized to %d", id, fixed)
			changed = true
		}
		normalized = append(normalized, fixed)
	}

	if changed {
		config.SetDisplayChatIDs(normalized)
	}
	s.env.DisplayChatIDs = normalized
	return nil
}

func (s *Server) normalizeChatID(ctx context.Context, id int64) (int64, error) {
	if id <= 0 {
		return id, nil
	}
	chat, err := s.db.GetChatByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if chat != nil {
		return id, nil
	}
	candidate := peerid.NormalizeChannelCandidate(id)
	if candidate == id {
		return id, nil
	}
	chat, err = s.db.GetChatByID(ctx, candidate)
	if err != nil {
		return 0, err
	}
	if chat != nil {
		return candidate, nil
	}
	return id, nil
}

// chatVisible проверяет чат против whitelist. Пустой список — видимы все.
func (s *Server) chatVisible(chatID int64) bool {
	if len(s.env.DisplayChatIDs) == 0 {
		return true
	}
	for _, id := range s.env.DisplayChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// chatIDFromPath извлекает {id} маршрута.
func chatIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debugf("web: %s %s from %s (%s)", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start).Round(time.Millisecond))
	})
}
