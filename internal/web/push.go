package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/notify"
	"github.com/calvinturbo/Telegram-Archive/internal/store"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-faster/errors"
	jsoniter "github.com/json-iterator/go"
)

const pushBodyPreviewLimit = 100

// PushManager — Web Push уведомления о новых сообщениях. Режимы:
// off — выключено; basic — фронтенд показывает локальные уведомления,
// ключи не нужны; full — сервер шлёт подписчикам через VAPID.
type PushManager struct {
	env  config.EnvConfig
	db   *store.Database
	mode string

	vapidPublic  string
	vapidPrivate string
}

func NewPushManager(env config.EnvConfig, db *store.Database) *PushManager {
	return &PushManager{env: env, db: db, mode: env.PushNotifications}
}

// Init подготавливает VAPID-ключи в режиме full: из окружения, иначе из
// metadata, иначе генерирует и сохраняет новую пару.
func (p *PushManager) Init(ctx context.Context) error {
	if p.mode != config.PushFull {
		return nil
	}

	if p.env.VAPIDPublicKey != "" && p.env.VAPIDPrivateKey != "" {
		p.vapidPublic, p.vapidPrivate = p.env.VAPIDPublicKey, p.env.VAPIDPrivateKey
		return nil
	}

	public, err := p.db.GetMetadata(ctx, store.MetaVAPIDPublicKey)
	if err != nil {
		return err
	}
	private, err := p.db.GetMetadata(ctx, store.MetaVAPIDPrivateKey)
	if err != nil {
		return err
	}
	if public != "" && private != "" {
		p.vapidPublic, p.vapidPrivate = public, private
		return nil
	}

	private, public, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return errors.Wrap(err, "generate VAPID keys")
	}
	if err = p.db.SetMetadata(ctx, store.MetaVAPIDPublicKey, public); err != nil {
		return err
	}
	if err = p.db.SetMetadata(ctx, store.MetaVAPIDPrivateKey, private); err != nil {
		return err
	}
	p.vapidPublic, p.vapidPrivate = public, private
	logger.Info("web: generated new VAPID key pair")
	return nil
}

// Handle рассылает push по событию new_message. Остальные типы событий
// уведомлений не порождают.
func (p *PushManager) Handle(ctx context.Context, event notify.Event) {
	if p.mode != config.PushFull || event.Type != notify.EventNewMessage {
		return
	}

	subs, err := p.db.GetPushSubscriptions(ctx, event.ChatID)
	if err != nil {
		logger.Errorf("web: load push subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := p.buildPayload(ctx, event)
	if err != nil {
		logger.Errorf("web: build push payload: %v", err)
		return
	}

	for _, sub := range subs {
		p.send(ctx, sub, payload)
	}
}

func (p *PushManager) buildPayload(ctx context.Context, event notify.Event) ([]byte, error) {
	title := "Telegram Archive"
	if chat, err := p.db.GetChatByID(ctx, event.ChatID); err == nil && chat != nil {
		title = chat.DisplayName()
	}

	var messageID int64
	body := ""
	if msg, ok := event.Data["message"].(map[string]any); ok {
		if id, okID := msg["id"].(int64); okID {
			messageID = id
		} else if idFloat, okFloat := msg["id"].(float64); okFloat {
			messageID = int64(idFloat)
		}
		if text, okText := msg["text"].(string); okText {
			body = truncatePreview(text, pushBodyPreviewLimit)
		}
		if sender := p.senderName(ctx, msg); sender != "" {
			body = sender + ": " + body
		}
	}

	payload := map[string]any{
		"title":     title,
		"body":      body,
		"icon":      "/icon.png",
		"tag":       "chat-" + strconv.FormatInt(event.ChatID, 10),
		"timestamp": time.Now().UnixMilli(),
		"data": map[string]any{
			"type":       event.Type,
			"chat_id":    event.ChatID,
			"message_id": messageID,
			"url":        "/?chat=" + strconv.FormatInt(event.ChatID, 10),
		},
	}
	return jsoniter.Marshal(payload)
}

func (p *PushManager) senderName(ctx context.Context, msg map[string]any) string {
	var senderID int64
	switch v := msg["sender_id"].(type) {
	case int64:
		senderID = v
	case float64:
		senderID = int64(v)
	}
	if senderID == 0 {
		return ""
	}
	user, err := p.db.GetUserByID(ctx, senderID)
	if err != nil || user == nil {
		return ""
	}
	name := ""
	if user.FirstName != nil {
		name = *user.FirstName
	}
	if user.LastName != nil && *user.LastName != "" {
		if name != "" {
			name += " "
		}
		name += *user.LastName
	}
	if name == "" && user.Username != nil {
		name = *user.Username
	}
	return name
}

// send доставляет уведомление одной подписке. Ответы 404/410/403 означают
// мёртвую подписку: строка удаляется.
func (p *PushManager) send(ctx context.Context, sub *store.PushSubscription, payload []byte) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		Subscriber:      p.env.VAPIDContact,
		VAPIDPublicKey:  p.vapidPublic,
		VAPIDPrivateKey: p.vapidPrivate,
		TTL:             3600,
	})
	if err != nil {
		logger.Warnf("web: push to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
		logger.Infof("web: push subscription %s is dead (%d), removing", sub.Endpoint, resp.StatusCode)
		if delErr := p.db.DeletePushSubscription(ctx, sub.Endpoint); delErr != nil {
			logger.Warnf("web: delete push subscription: %v", delErr)
		}
	}
}

func truncatePreview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

// handlePushConfig сообщает фронтенду режим и публичный ключ.
func (s *Server) handlePushConfig(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"mode": s.push.mode}
	if s.push.mode == config.PushFull {
		payload["public_key"] = s.push.vapidPublic
	}
	writeJSON(w, http.StatusOK, payload)
}

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	ChatID *int64 `json:"chat_id"`
}

// handlePushSubscribe сохраняет подписку браузера. chat_id == null означает
// подписку на все чаты.
func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	var req pushSubscribeRequest
	if err := decodeJSONBody(r, &req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}

	userAgent := r.UserAgent()
	sub := &store.PushSubscription{
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
		ChatID:   req.ChatID,
	}
	if userAgent != "" {
		sub.UserAgent = &userAgent
	}
	if err := s.db.UpsertPushSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handlePushUnsubscribe удаляет подписку по endpoint.
func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decodeJSONBody(r, &req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := s.db.DeletePushSubscription(r.Context(), req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
