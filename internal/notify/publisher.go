package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/store"
)

// httpPushTimeout — таймаут доставки события на внутренний вебхук viewer'а.
const httpPushTimeout = 5 * time.Second

// Publisher отправляет события архива. Ошибки доставки не возвращаются:
// публикация не должна ломать запись, породившую событие.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NewPublisher выбирает транспорт по типу хранилища.
func NewPublisher(env config.EnvConfig, db *store.Database) Publisher {
	if env.DBType == config.DBTypePostgres {
		return &pgPublisher{db: db}
	}
	return &httpPublisher{
		url:    fmt.Sprintf("http://%s:%d%s", env.ViewerHost, env.ViewerPort, InternalPushPath),
		token:  env.InternalPushToken,
		client: &http.Client{Timeout: httpPushTimeout},
	}
}

// pgPublisher — NOTIFY в канал PostgreSQL. Вызов pg_notify выполняется в
// транзакции: доставка происходит при её фиксации.
type pgPublisher struct {
	db *store.Database
}

func (p *pgPublisher) Publish(ctx context.Context, event Event) {
	payload, err := event.Encode()
	if err != nil {
		logger.Warnf("notify: encode event %s: %v", event.Type, err)
		return
	}
	err = p.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		_, execErr := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload))
		return execErr
	})
	if err != nil {
		logger.Warnf("notify: pg_notify %s: %v", event.Type, err)
	}
}

// httpPublisher — POST на внутренний вебхук viewer'а (режим SQLite, когда
// LISTEN/NOTIFY недоступен).
type httpPublisher struct {
	url    string
	token  string
	client *http.Client
}

func (p *httpPublisher) Publish(ctx context.Context, event Event) {
	payload, err := event.Encode()
	if err != nil {
		logger.Warnf("notify: encode event %s: %v", event.Type, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		logger.Warnf("notify: build push request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("X-Internal-Token", p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Viewer может быть просто не запущен: это штатная ситуация.
		logger.Debugf("notify: push %s: %v", event.Type, err)
		return
	}
	defer resp.Body.Close()
	// Вебхук viewer'а отвечает 204; любой 2xx считается доставкой.
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		logger.Warnf("notify: push %s: viewer returned %d", event.Type, resp.StatusCode)
	}
}
