package store

import (
	"context"
	"database/sql/driver"
	"io"
	"strings"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"

	"github.com/go-faster/errors"
)

// Параметры retry-слоя: транзиентные ошибки БД (блокировка файла SQLite,
// обрыв соединения с PostgreSQL) повторяются с экспоненциальной задержкой.
const (
	retryMaxAttempts  = 5
	retryInitialDelay = 100 * time.Millisecond
	retryMaxDelay     = 2 * time.Second
)

// retryableFragments — подстроки сообщений, по которым ошибка признаётся
// транзиентной. Точных sentinel-ошибок у драйверов для этих случаев нет.
var retryableFragments = []string{
	"database is locked",
	"database table is locked",
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad connection",
	"server closed the connection",
	"the database system is starting up",
}

// isRetryable классифицирует ошибку как транзиентную ошибку хранилища.
// Контекстные отмены транзиентными не считаются.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// withRetry выполняет fn до retryMaxAttempts раз с задержкой 100мс ×2 (потолок
// 2с). Нетранзиентные ошибки возвращаются сразу; отмена контекста прерывает
// ожидание немедленно.
func withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := retryInitialDelay
	var lastErr error

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == retryMaxAttempts {
			break
		}

		logger.Warnf("store: %s transient error (attempt %d/%d), retrying in %v: %v",
			op, attempt, retryMaxAttempts, delay, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}

	return errors.Wrapf(lastErr, "%s: retries exhausted", op)
}
