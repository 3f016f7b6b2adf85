package notify

import (
	"context"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
)

// Параметры переподключения pq.Listener.
const (
	listenMinReconnect = time.Second
	listenMaxReconnect = 5 * time.Second
	// listenPingInterval — период проверки живости соединения при тишине в канале.
	listenPingInterval = 90 * time.Second
)

// Handler обрабатывает принятое событие.
type Handler func(event Event)

// Subscriber слушает канал pg_notify и передаёт события обработчику.
// Используется только viewer'ом в режиме PostgreSQL.
type Subscriber struct {
	dsn     string
	handler Handler
}

// NewSubscriber собирает подписчика на канал событий.
func NewSubscriber(dsn string, handler Handler) *Subscriber {
	return &Subscriber{dsn: dsn, handler: handler}
}

// Run блокируется до отмены контекста, поддерживая LISTEN с автоматическим
// переподключением. Нечитаемые полезные нагрузки пропускаются с warning'ом.
func (s *Subscriber) Run(ctx context.Context) error {
	listener := pq.NewListener(s.dsn, listenMinReconnect, listenMaxReconnect,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warnf("notify: listener state %d: %v", event, err)
			}
		})
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return err
	}
	logger.Infof("notify: subscribed to %s", Channel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			// nil приходит после переподключения: уведомления за время
			// разрыва потеряны, просто продолжаем слушать.
			if n == nil {
				logger.Warn("notify: connection re-established, some events may be lost")
				continue
			}
			var event Event
			if err := jsoniter.UnmarshalFromString(n.Extra, &event); err != nil {
				logger.Warnf("notify: malformed payload: %v", err)
				continue
			}
			s.handler(event)
		case <-time.After(listenPingInterval):
			if err := listener.Ping(); err != nil {
				logger.Warnf("notify: ping: %v", err)
			}
		}
	}
}
