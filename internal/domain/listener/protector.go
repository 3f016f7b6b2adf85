// Package listener — обработка апдейтов Telegram в реальном времени:
// новые сообщения, правки, удаления, альбомы и служебные действия в чатах.
// Массовые операции по одному чату гасятся защитой от всплесков.
package listener

import (
	"sync"
	"time"
)

// blockState — активная блокировка чата.
type blockState struct {
	until    time.Time
	reason   string
	overflow int
}

// Protector ограничивает частоту применяемых операций на чат: скользящее
// окно таймстампов, при переполнении чат блокируется на длину окна. Первые
// threshold операций окна применяются, подавляется только избыток.
type Protector struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration

	ops        map[int64][]time.Time
	blocks     map[int64]blockState
	triggered  int64
	everMarked map[int64]struct{}
}

// NewProtector создаёт защиту с порогом threshold операций в окне window.
func NewProtector(threshold int, window time.Duration) *Protector {
	return &Protector{
		threshold:  threshold,
		window:     window,
		ops:        make(map[int64][]time.Time),
		blocks:     make(map[int64]blockState),
		everMarked: make(map[int64]struct{}),
	}
}

// Check решает судьбу операции opType в чате chatID на момент now.
// Возвращает (false, причина) при отказе.
func (p *Protector) Check(chatID int64, opType string, now time.Time) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if block, blocked := p.blocks[chatID]; blocked {
		if now.Before(block.until) {
			return false, "rate limited"
		}
		delete(p.blocks, chatID)
	}

	window := p.ops[chatID]
	window = append(window, now)
	cutoff := now.Add(-p.window)
	for len(window) > 0 && !window[0].After(cutoff) {
		window = window[1:]
	}
	p.ops[chatID] = window

	if len(window) > p.threshold {
		p.blocks[chatID] = blockState{
			until:    now.Add(p.window),
			reason:   opType,
			overflow: len(window) - p.threshold,
		}
		p.triggered++
		p.everMarked[chatID] = struct{}{}
		return false, "rate limit triggered"
	}
	return true, ""
}

// Triggered возвращает число срабатываний блокировки за время жизни.
func (p *Protector) Triggered() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triggered
}

// EverLimited возвращает чаты, хотя бы раз попадавшие под блокировку.
func (p *Protector) EverLimited() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, 0, len(p.everMarked))
	for id := range p.everMarked {
		ids = append(ids, id)
	}
	return ids
}

// CurrentlyBlocked возвращает чаты с активной на момент now блокировкой.
func (p *Protector) CurrentlyBlocked(now time.Time) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []int64
	for id, block := range p.blocks {
		if now.Before(block.until) {
			ids = append(ids, id)
		}
	}
	return ids
}
