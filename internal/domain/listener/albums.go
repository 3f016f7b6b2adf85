package listener

import (
	"sync"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/store"
)

// albumGroup — накопленные элементы одного альбома.
type albumGroup struct {
	chatID    int64
	records   []*store.Message
	reactions map[int64][]store.Reaction
	timer     *time.Timer
}

// albumBuffer собирает элементы альбома (grouped_id) и отдаёт их одной
// пачкой после паузы: Telegram доставляет элементы отдельными апдейтами.
type albumBuffer struct {
	mu     sync.Mutex
	groups map[int64]*albumGroup
	delay  time.Duration
	flush  func(chatID int64, records []*store.Message, reactions map[int64][]store.Reaction)
}

func newAlbumBuffer(delay time.Duration, flush func(int64, []*store.Message, map[int64][]store.Reaction)) *albumBuffer {
	return &albumBuffer{
		groups: make(map[int64]*albumGroup),
		delay:  delay,
		flush:  flush,
	}
}

// add кладёт элемент в группу и перезапускает таймер сброса: пауза отсчитывается
// от последнего элемента.
func (b *albumBuffer) add(groupedID, chatID int64, record *store.Message, reactions []store.Reaction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	group, ok := b.groups[groupedID]
	if !ok {
		group = &albumGroup{
			chatID:    chatID,
			reactions: make(map[int64][]store.Reaction),
		}
		b.groups[groupedID] = group
	}
	group.records = append(group.records, record)
	if len(reactions) > 0 {
		group.reactions[record.ID] = reactions
	}

	if group.timer != nil {
		group.timer.Stop()
	}
	group.timer = time.AfterFunc(b.delay, func() {
		b.flushGroup(groupedID)
	})
}

func (b *albumBuffer) flushGroup(groupedID int64) {
	b.mu.Lock()
	group, ok := b.groups[groupedID]
	if ok {
		delete(b.groups, groupedID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	b.flush(group.chatID, group.records, group.reactions)
}

// flushAll немедленно сбрасывает все незавершённые группы. Вызывается при
// остановке слушателя.
func (b *albumBuffer) flushAll() {
	b.mu.Lock()
	pending := make([]int64, 0, len(b.groups))
	for id, group := range b.groups {
		if group.timer != nil {
			group.timer.Stop()
		}
		pending = append(pending, id)
	}
	b.mu.Unlock()

	for _, id := range pending {
		b.flushGroup(id)
	}
}
