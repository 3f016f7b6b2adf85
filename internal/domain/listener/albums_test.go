package listener

import (
	"sync"
	"testing"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/store"
)

func TestAlbumBufferFlushesAfterDelay(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var flushedChat int64
	var flushed []*store.Message
	done := make(chan struct{})

	buf := newAlbumBuffer(50*time.Millisecond, func(chatID int64, records []*store.Message, _ map[int64][]store.Reaction) {
		mu.Lock()
		flushedChat = chatID
		flushed = records
		mu.Unlock()
		close(done)
	})

	buf.add(777, 100, &store.Message{ID: 1, ChatID: 100}, nil)
	buf.add(777, 100, &store.Message{ID: 2, ChatID: 100}, nil)
	buf.add(777, 100, &store.Message{ID: 3, ChatID: 100}, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("album was not flushed")
	}

	mu.Lock()
	defer mu.Unlock()
	if flushedChat != 100 {
		t.Errorf("chat = %d, want 100", flushedChat)
	}
	if len(flushed) != 3 {
		t.Fatalf("flushed %d records, want 3", len(flushed))
	}
	for i, record := range flushed {
		if record.ID != int64(i+1) {
			t.Errorf("record %d has id %d, order must be preserved", i, record.ID)
		}
	}
}

func TestAlbumBufferFlushAll(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	groups := make(map[int64]int)

	buf := newAlbumBuffer(time.Hour, func(chatID int64, records []*store.Message, _ map[int64][]store.Reaction) {
		mu.Lock()
		groups[chatID] = len(records)
		mu.Unlock()
	})

	buf.add(1, 10, &store.Message{ID: 1, ChatID: 10}, nil)
	buf.add(2, 20, &store.Message{ID: 5, ChatID: 20}, nil)
	buf.add(2, 20, &store.Message{ID: 6, ChatID: 20}, nil)

	buf.flushAll()

	mu.Lock()
	defer mu.Unlock()
	if groups[10] != 1 || groups[20] != 2 {
		t.Errorf("flushed groups = %v, want 10:1 and 20:2", groups)
	}
}
