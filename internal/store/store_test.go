package store

import (
	"context"
	"testing"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), Options{
		Type:       config.DBTypeSQLite,
		SQLitePath: ":memory:",
	}, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func testMessage(chatID, id int64, date time.Time, text string) *Message {
	return &Message{
		ID:       id,
		ChatID:   chatID,
		SenderID: ptr(int64(100)),
		Date:     date,
		Text:     text,
	}
}

func TestChatUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	chat := &Chat{ID: -100123, Type: "channel", Title: ptr("News")}
	require.NoError(t, db.UpsertChat(ctx, chat))

	got, err := db.GetChatByID(ctx, -100123)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "channel", got.Type)
	require.NotNil(t, got.Title)
	assert.Equal(t, "News", *got.Title)

	chat.Title = ptr("News Renamed")
	require.NoError(t, db.UpsertChat(ctx, chat))
	got, err = db.GetChatByID(ctx, -100123)
	require.NoError(t, err)
	assert.Equal(t, "News Renamed", *got.Title)

	missing, err := db.GetChatByID(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertMessagesBatchIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	msgs := []*Message{
		testMessage(-100, 1, base, "first"),
		testMessage(-100, 2, base.Add(time.Minute), "second"),
		testMessage(-100, 3, base.Add(2*time.Minute), "third"),
	}
	require.NoError(t, db.InsertMessagesBatch(ctx, msgs))
	require.NoError(t, db.InsertMessagesBatch(ctx, msgs))

	var count int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM messages WHERE chat_id=$1", int64(-100)).Scan(&count))
	assert.Equal(t, 3, count)

	lastID, err := db.GetLastMessageID(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), lastID)

	lastID, err = db.GetLastMessageID(ctx, -999)
	require.NoError(t, err)
	assert.Equal(t, int64(0), lastID)
}

func TestUpdateMessageTextAndSyncData(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertMessage(ctx, testMessage(-100, 1, base, "original")))
	edit := base.Add(time.Hour)
	require.NoError(t, db.UpdateMessageText(ctx, -100, 1, "edited", edit))

	syncData, err := db.GetMessagesSyncData(ctx, -100)
	require.NoError(t, err)
	require.Len(t, syncData, 1)
	assert.True(t, syncData[1].Equal(edit))
}

func TestReplaceReactionsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.InsertMessage(ctx, testMessage(-100, 1, base, "hello")))

	reactions := []Reaction{
		{Emoji: "👍", UserIDs: []int64{10, 11}},
		{Emoji: "🔥", Count: 5}, // анонимный агрегат без списка голосовавших
	}
	require.NoError(t, db.ReplaceReactions(ctx, -100, 1, reactions))

	got, err := db.GetReactions(ctx, -100, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byEmoji := make(map[string]Reaction, len(got))
	for _, r := range got {
		byEmoji[r.Emoji] = r
	}
	assert.Equal(t, 2, byEmoji["👍"].Count)
	assert.ElementsMatch(t, []int64{10, 11}, byEmoji["👍"].UserIDs)
	assert.Equal(t, 5, byEmoji["🔥"].Count)
	assert.Empty(t, byEmoji["🔥"].UserIDs)

	// Повторная замена сносит старый снимок целиком.
	require.NoError(t, db.ReplaceReactions(ctx, -100, 1, []Reaction{{Emoji: "❤️", Count: 1}}))
	got, err = db.GetReactions(ctx, -100, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "❤️", got[0].Emoji)
}

func TestSyncStatusAccumulatesCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpdateSyncStatus(ctx, -100, 50, 50))
	require.NoError(t, db.UpdateSyncStatus(ctx, -100, 80, 30))

	status, err := db.GetSyncStatus(ctx, -100)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, int64(80), status.LastMessageID)
	assert.Equal(t, int64(80), status.MessageCount)
	assert.False(t, status.LastSyncDate.IsZero())
}

func TestGetMessagesPaginatedCursor(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	var msgs []*Message
	for i := int64(1); i <= 10; i++ {
		msgs = append(msgs, testMessage(-100, i, base.Add(time.Duration(i)*time.Minute), "msg"))
	}
	require.NoError(t, db.InsertMessagesBatch(ctx, msgs))

	page, err := db.GetMessagesPaginated(ctx, -100, 4, 0, "", nil, nil)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, int64(10), page[0].ID)
	assert.Equal(t, int64(7), page[3].ID)

	cursor := page[3]
	page, err = db.GetMessagesPaginated(ctx, -100, 4, 0, "", &cursor.Date, &cursor.ID)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, int64(6), page[0].ID)
	assert.Equal(t, int64(3), page[3].ID)
}

func TestGetMessagesPaginatedSearch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertMessagesBatch(ctx, []*Message{
		testMessage(-100, 1, base, "Deploy finished"),
		testMessage(-100, 2, base.Add(time.Minute), "lunch plans"),
		testMessage(-100, 3, base.Add(2*time.Minute), "redeploy tomorrow"),
	}))

	page, err := db.GetMessagesPaginated(ctx, -100, 50, 0, "DEPLOY", nil, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)
	assert.Equal(t, int64(1), page[1].ID)
}

func TestReplyPreviewBackfill(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	longText := ""
	for range 30 {
		longText += "abcdefghij"
	}
	original := testMessage(-100, 1, base, longText)
	reply := testMessage(-100, 2, base.Add(time.Minute), "reply")
	reply.ReplyToMsgID = ptr(int64(1))
	require.NoError(t, db.InsertMessagesBatch(ctx, []*Message{original, reply}))

	page, err := db.GetMessagesPaginated(ctx, -100, 50, 0, "", nil, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, page[0].ReplyToText)
	assert.Len(t, []rune(*page[0].ReplyToText), 100)
}

func TestFindMessageByDate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertMessagesBatch(ctx, []*Message{
		testMessage(-100, 1, base, "a"),
		testMessage(-100, 2, base.AddDate(0, 0, 1), "b"),
		testMessage(-100, 3, base.AddDate(0, 0, 2), "c"),
	}))

	// Первое сообщение на целевую дату или позже.
	view, err := db.FindMessageByDateWithJoins(ctx, -100, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, int64(2), view.ID)
	require.NotNil(t, view.Offset)
	assert.Equal(t, 1, *view.Offset)

	// Всё старше цели — последнее до неё.
	view, err = db.FindMessageByDateWithJoins(ctx, -100, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, int64(3), view.ID)
	assert.Equal(t, 0, *view.Offset)

	// Пустой чат.
	view, err = db.FindMessageByDateWithJoins(ctx, -999, base)
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestDeleteMessageByIDAnyChat(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertMessage(ctx, testMessage(-100, 7, base, "a")))
	require.NoError(t, db.InsertMessage(ctx, testMessage(-200, 7, base, "b")))

	chats, err := db.DeleteMessageByIDAnyChat(ctx, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{-100, -200}, chats)

	var count int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM messages WHERE id=$1", int64(7)).Scan(&count))
	assert.Zero(t, count)
}

func TestBackfillIsOutgoing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	own := testMessage(-100, 1, base, "mine")
	own.SenderID = ptr(int64(555))
	other := testMessage(-100, 2, base, "theirs")
	other.SenderID = ptr(int64(777))
	require.NoError(t, db.InsertMessagesBatch(ctx, []*Message{own, other}))

	affected, err := db.BackfillIsOutgoing(ctx, 555)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	affected, err = db.BackfillIsOutgoing(ctx, 555)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestMediaLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	media := &Media{
		ID:         "123456789",
		MessageID:  1,
		ChatID:     -100,
		Type:       "photo",
		FilePath:   ptr("-100/123456789.jpg"),
		FileSize:   2048,
		Downloaded: true,
	}
	require.NoError(t, db.UpsertMedia(ctx, media))

	got, err := db.GetMediaByID(ctx, "123456789")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Downloaded)

	list, err := db.GetMediaForVerification(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, db.MarkMediaForRedownload(ctx, "123456789"))
	got, err = db.GetMediaByID(ctx, "123456789")
	require.NoError(t, err)
	assert.False(t, got.Downloaded)
	assert.Nil(t, got.FilePath)

	missing, err := db.GetMediaByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMetadataRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	value, err := db.GetMetadata(ctx, MetaOwnerID)
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, db.SetMetadata(ctx, MetaOwnerID, "42"))
	require.NoError(t, db.SetMetadata(ctx, MetaOwnerID, "43"))
	value, err = db.GetMetadata(ctx, MetaOwnerID)
	require.NoError(t, err)
	assert.Equal(t, "43", value)
}

func TestPushSubscriptions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	global := &PushSubscription{Endpoint: "https://push.example/one", P256dh: "k1", Auth: "a1"}
	scoped := &PushSubscription{Endpoint: "https://push.example/two", P256dh: "k2", Auth: "a2", ChatID: ptr(int64(-100))}
	other := &PushSubscription{Endpoint: "https://push.example/three", P256dh: "k3", Auth: "a3", ChatID: ptr(int64(-200))}
	for _, s := range []*PushSubscription{global, scoped, other} {
		require.NoError(t, db.UpsertPushSubscription(ctx, s))
	}

	subs, err := db.GetPushSubscriptions(ctx, -100)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	// Повторная регистрация того же endpoint обновляет ключи, строка одна.
	global.P256dh = "k1-rotated"
	require.NoError(t, db.UpsertPushSubscription(ctx, global))
	all, err := db.GetAllPushSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.NoError(t, db.DeletePushSubscription(ctx, scoped.Endpoint))
	subs, err = db.GetPushSubscriptions(ctx, -100)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, global.Endpoint, subs[0].Endpoint)
}

func TestDeleteChatAndRelatedData(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.UpsertChat(ctx, &Chat{ID: -100, Type: "group", Title: ptr("Team")}))
	require.NoError(t, db.InsertMessage(ctx, testMessage(-100, 1, base, "a")))
	require.NoError(t, db.ReplaceReactions(ctx, -100, 1, []Reaction{{Emoji: "👍", Count: 1}}))
	require.NoError(t, db.UpdateSyncStatus(ctx, -100, 1, 1))

	require.NoError(t, db.DeleteChatAndRelatedData(ctx, -100, t.TempDir()))

	for _, table := range []string{"chats", "messages", "reactions", "sync_status"} {
		var count int
		require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count))
		assert.Zero(t, count, table)
	}
}

func TestGetStatistics(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.UpsertChat(ctx, &Chat{ID: -100, Type: "group"}))
	require.NoError(t, db.InsertMessagesBatch(ctx, []*Message{
		testMessage(-100, 1, base, "a"),
		testMessage(-100, 2, base.Add(time.Minute), "b"),
	}))
	require.NoError(t, db.UpdateSyncStatus(ctx, -100, 2, 2))
	require.NoError(t, db.UpsertMedia(ctx, &Media{
		ID: "m1", MessageID: 1, ChatID: -100, Type: "photo",
		FileSize: 1234567, Downloaded: true,
	}))

	stats, err := db.GetStatistics(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Chats)
	assert.Equal(t, int64(2), stats.Messages)
	assert.Equal(t, int64(1), stats.MediaFiles)
	// размер округляется до сотых: 1234567 / 1048576 = 1.1774... → 1.18
	assert.Equal(t, 1.18, stats.TotalSizeMB)
	require.NotNil(t, stats.LastBackupTime)
	assert.Equal(t, "sync_status", stats.LastBackupTimeSource)

	// Отметка завершения бэкапа имеет приоритет над sync_status.
	marker := base.Add(48 * time.Hour)
	require.NoError(t, db.SetMetadata(ctx, MetaLastBackupTime, marker.Format(time.RFC3339)))
	stats, err = db.GetStatistics(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "metadata", stats.LastBackupTimeSource)
	assert.True(t, stats.LastBackupTime.Equal(marker))

	// Кэш: повторный запрос без force отдаёт сохранённую сводку.
	cached, err := db.GetStatistics(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, stats.Messages, cached.Messages)
}

func TestGetChatStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertMessagesBatch(ctx, []*Message{
		testMessage(-100, 1, base, "a"),
		testMessage(-100, 2, base.AddDate(0, 0, 3), "b"),
	}))

	stats, err := db.GetChatStats(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Messages)
	require.NotNil(t, stats.FirstMessageDate)
	require.NotNil(t, stats.LastMessageDate)
	assert.True(t, stats.LastMessageDate.After(*stats.FirstMessageDate))
}
