package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/notify"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// viewer отдаёт только архив на чтение, CSRF-поверхности нет
	CheckOrigin: func(*http.Request) bool { return true },
}

// SafeConn — WebSocket-соединение с сериализованными записями: gorilla не
// допускает конкурентных Write.
type SafeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn

	subMu sync.Mutex
	// пустое множество — подписка на все чаты
	subscribed map[int64]struct{}
}

func newSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn, subscribed: make(map[int64]struct{})}
}

func (c *SafeConn) writeJSON(payload any) error {
	data, err := jsoniter.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *SafeConn) wants(chatID int64) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(c.subscribed) == 0 {
		return true
	}
	_, ok := c.subscribed[chatID]
	return ok
}

func (c *SafeConn) subscribe(chatID int64) {
	c.subMu.Lock()
	c.subscribed[chatID] = struct{}{}
	c.subMu.Unlock()
}

func (c *SafeConn) unsubscribe(chatID int64) {
	c.subMu.Lock()
	delete(c.subscribed, chatID)
	c.subMu.Unlock()
}

// Hub ведёт таблицу активных WebSocket-соединений и рассылает события.
type Hub struct {
	mu    sync.RWMutex
	conns map[*SafeConn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*SafeConn]struct{})}
}

func (h *Hub) add(conn *SafeConn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(conn *SafeConn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Broadcast рассылает событие подписанным соединениям. Итерация идёт по
// снимку таблицы, мёртвые соединения вычищаются после рассылки.
func (h *Hub) Broadcast(event notify.Event) {
	h.mu.RLock()
	snapshot := make([]*SafeConn, 0, len(h.conns))
	for conn := range h.conns {
		snapshot = append(snapshot, conn)
	}
	h.mu.RUnlock()

	var dead []*SafeConn
	for _, conn := range snapshot {
		if !conn.wants(event.ChatID) {
			continue
		}
		payload := map[string]any{"type": event.Type, "chat_id": event.ChatID}
		for k, v := range event.Data {
			payload[k] = v
		}
		if err := conn.writeJSON(payload); err != nil {
			dead = append(dead, conn)
		}
	}

	for _, conn := range dead {
		h.remove(conn)
		_ = conn.conn.Close()
	}
}

// CloseAll закрывает все соединения. Вызывается при остановке сервера.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.conn.Close()
	}
	h.conns = make(map[*SafeConn]struct{})
	h.mu.Unlock()
}

type wsClientMessage struct {
	Action string `json:"action"`
	ChatID int64  `json:"chat_id"`
}

// handleWebSocket обслуживает /ws/updates: подписки клиента и поток событий.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf("web: websocket upgrade: %v", err)
		return
	}

	safe := newSafeConn(conn)
	s.hub.add(safe)
	defer func() {
		s.hub.remove(safe)
		_ = conn.Close()
	}()

	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return
		}
		var msg wsClientMessage
		if err = jsoniter.Unmarshal(data, &msg); err != nil {
			_ = safe.writeJSON(map[string]any{"type": "error", "error": "malformed message"})
			continue
		}

		switch msg.Action {
		case "subscribe":
			if !s.chatVisible(msg.ChatID) {
				_ = safe.writeJSON(map[string]any{"type": "error", "error": "chat is not available"})
				continue
			}
			safe.subscribe(msg.ChatID)
			_ = safe.writeJSON(map[string]any{"type": "subscribed", "chat_id": msg.ChatID})
		case "unsubscribe":
			safe.unsubscribe(msg.ChatID)
			_ = safe.writeJSON(map[string]any{"type": "unsubscribed", "chat_id": msg.ChatID})
		case "ping":
			_ = safe.writeJSON(map[string]any{"type": "pong"})
		default:
			_ = safe.writeJSON(map[string]any{"type": "error", "error": "unknown action"})
		}
	}
}
