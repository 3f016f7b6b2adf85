package listener

import (
	"sync"
	"time"
)

// statsSnapshot — срез счётчиков на момент чтения.
type statsSnapshot struct {
	start               time.Time
	operationsApplied   int64
	operationsBlocked   int64
	newMessagesReceived int64
	newMessagesSaved    int64
	editsReceived       int64
	editsApplied        int64
	deletionsReceived   int64
	deletionsApplied    int64
	deletionsSkipped    int64
	albumsReceived      int64
	chatActions         int64
	errors              int64
}

// stats — счётчики слушателя. Все инкременты идут из горутин диспетчера,
// защита единым мьютексом.
type stats struct {
	mu sync.Mutex
	s  statsSnapshot
}

func newStats() *stats { return &stats{} }

func (c *stats) markStart(t time.Time) {
	c.mu.Lock()
	c.s.start = t
	c.mu.Unlock()
}

func (c *stats) startTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.start
}

func (c *stats) add(apply func(*statsSnapshot)) {
	c.mu.Lock()
	apply(&c.s)
	c.mu.Unlock()
}

func (c *stats) snapshot() statsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
