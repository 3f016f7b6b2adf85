package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/store"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, env config.EnvConfig) (*Server, *store.Database) {
	t.Helper()
	db, err := store.Open(context.Background(), store.Options{
		Type:       config.DBTypeSQLite,
		SQLitePath: ":memory:",
	}, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mediaStore := media.NewStore(t.TempDir(), false, 0)
	return NewServer(env, db, mediaStore), db
}

func seedChat(t *testing.T, db *store.Database, id int64, title string) {
	t.Helper()
	require.NoError(t, db.UpsertChat(context.Background(), &store.Chat{
		ID:    id,
		Type:  "private",
		Title: &title,
	}))
}

func TestAuthDisabledAdmitsEverything(t *testing.T) {
	srv, _ := newTestServer(t, config.EnvConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	env := config.EnvConfig{ViewerUsername: "viewer", ViewerPassword: "secret"}
	srv, _ := newTestServer(t, env)
	handler := srv.srv.Handler

	// без cookie — 401
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// неверный пароль
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"viewer","password":"wrong"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// верные креды — cookie с детерминированным токеном
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"viewer","password":"secret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, sessionCookieName, cookie.Name)
	assert.Equal(t, sessionToken("viewer", "secret"), cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	// с cookie защищённый маршрут открывается
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// auth/check видит сессию
	req = httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), `"authenticated":true`)
}

func TestChatWhitelist(t *testing.T) {
	srv, db := newTestServer(t, config.EnvConfig{DisplayChatIDs: []int64{100}})
	seedChat(t, db, 100, "Visible")
	seedChat(t, db, 200, "Hidden")
	handler := srv.srv.Handler

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Visible")
	assert.NotContains(t, body, "Hidden")

	// прямой доступ к скрытому чату — 403
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats/200/messages", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChatWhitelistPagination(t *testing.T) {
	// total и has_more считаются по видимым чатам, скрытые не занимают
	// места в страницах
	srv, db := newTestServer(t, config.EnvConfig{DisplayChatIDs: []int64{100, 300}})
	seedChat(t, db, 100, "First")
	seedChat(t, db, 200, "Hidden")
	seedChat(t, db, 300, "Second")
	handler := srv.srv.Handler

	type chatsPage struct {
		Chats []struct {
			ID int64 `json:"id"`
		} `json:"chats"`
		Total   int  `json:"total"`
		HasMore bool `json:"has_more"`
	}
	fetch := func(target string) chatsPage {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var page chatsPage
		require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &page))
		return page
	}

	first := fetch("/api/chats?limit=1")
	assert.Equal(t, 2, first.Total)
	require.Len(t, first.Chats, 1)
	assert.True(t, first.HasMore)

	second := fetch("/api/chats?limit=1&offset=1")
	assert.Equal(t, 2, second.Total)
	require.Len(t, second.Chats, 1)
	assert.False(t, second.HasMore)

	seen := []int64{first.Chats[0].ID, second.Chats[0].ID}
	assert.ElementsMatch(t, []int64{100, 300}, seen)

	// за пределами списка — пустая страница, total прежний
	tail := fetch("/api/chats?limit=10&offset=5")
	assert.Equal(t, 2, tail.Total)
	assert.Empty(t, tail.Chats)
	assert.False(t, tail.HasMore)
}

func TestNormalizeDisplayChatIDs(t *testing.T) {
	// положительный id канала переписывается на маркированный аналог
	raw := int64(1000123)
	marked := int64(-1000000000000 - 1000123)
	srv, db := newTestServer(t, config.EnvConfig{DisplayChatIDs: []int64{raw}})
	require.NoError(t, db.UpsertChat(context.Background(), &store.Chat{ID: marked, Type: "channel"}))

	require.NoError(t, srv.normalizeDisplayChatIDs(context.Background()))
	assert.Equal(t, []int64{marked}, srv.env.DisplayChatIDs)

	// повторный запуск ничего не меняет
	require.NoError(t, srv.normalizeDisplayChatIDs(context.Background()))
	assert.Equal(t, []int64{marked}, srv.env.DisplayChatIDs)
}

func TestMessagesByDateValidation(t *testing.T) {
	srv, db := newTestServer(t, config.EnvConfig{ViewerTimezone: "UTC"})
	seedChat(t, db, 10, "Chat")
	handler := srv.srv.Handler

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats/10/messages/by-date?date=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// пустой чат — 404
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats/10/messages/by-date?date=2025-09-01", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// таймзона в виде UTC-смещения принимается наравне с IANA-именем
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/chats/10/messages/by-date?date=2025-09-01&timezone=%2B03:00", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/chats/10/messages/by-date?date=2025-09-01&timezone=Atlantis/Nowhere", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportStreamsMessages(t *testing.T) {
	srv, db := newTestServer(t, config.EnvConfig{})
	seedChat(t, db, 10, "My Chat")
	ctx := context.Background()
	require.NoError(t, db.InsertMessage(ctx, &store.Message{
		ID: 1, ChatID: 10, Date: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC), Text: "first",
	}))
	require.NoError(t, db.InsertMessage(ctx, &store.Message{
		ID: 2, ChatID: 10, Date: time.Date(2025, 9, 1, 11, 0, 0, 0, time.UTC), Text: "second",
	}))

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats/10/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "My_Chat_export.json")

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "["))
	assert.True(t, strings.HasSuffix(body, "]"))
	assert.Contains(t, body, `"first"`)
	assert.Contains(t, body, `"second"`)
	assert.Less(t, strings.Index(body, "first"), strings.Index(body, "second"))
}

func TestInternalPushAccess(t *testing.T) {
	srv, _ := newTestServer(t, config.EnvConfig{InternalPushToken: "tok"})
	handler := srv.srv.Handler

	payload := `{"type":"new_message","chat_id":5}`

	// loopback без токена при заданном токене — отказ
	req := httptest.NewRequest(http.MethodPost, internalPushPath, strings.NewReader(payload))
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// верный токен
	req = httptest.NewRequest(http.MethodPost, internalPushPath, strings.NewReader(payload))
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Internal-Token", "tok")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInternalPushLoopbackWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t, config.EnvConfig{})
	handler := srv.srv.Handler

	req := httptest.NewRequest(http.MethodPost, internalPushPath, strings.NewReader(`{"type":"edit","chat_id":1}`))
	req.RemoteAddr = "127.0.0.1:4444"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// не-loopback без токена — отказ
	req = httptest.NewRequest(http.MethodPost, internalPushPath, strings.NewReader(`{"type":"edit","chat_id":1}`))
	req.RemoteAddr = "192.168.1.20:4444"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExportFileName(t *testing.T) {
	assert.Equal(t, "My_Chat_export.json", exportFileName("My Chat"))
	assert.Equal(t, "chat_export.json", exportFileName("///"))
	assert.Equal(t, "Новости_export.json", exportFileName("Новости"))
}
