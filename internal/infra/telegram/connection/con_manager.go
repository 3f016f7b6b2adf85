// Package connection — менеджер состояния MTProto-соединения.
// Координационный слой для остального кода:
//   - WaitOnline(ctx) — блокирует до восстановления связи, если клиент офлайн;
//   - MarkConnected/MarkDisconnected — явные переходы между состояниями;
//   - мониторинг с периодическими RPC-вызовами и детекцией сетевых сбоев.
//
// Менеджер потокобезопасен: ожидатели работают со снимками «поколенческого»
// wait-канала, сетевые ошибки нормализуются через HandleError.
package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram"
)

const (
	// reconnectPingInterval — период легковесных RPC-вызовов при ожидании восстановления.
	reconnectPingInterval = 10 * time.Second
	// reconnectPingTimeout — максимальное время ожидания ответа на такой вызов.
	reconnectPingTimeout = 5 * time.Second
)

var (
	globalMu      sync.RWMutex
	globalManager *manager
)

// Shutdown завершает глобальный менеджер: отменяет мониторинг и закрывает
// каналы ожидания, разблокируя все зависшие горутины.
func Shutdown() {
	globalMu.Lock()
	m := globalManager
	globalManager = nil
	globalMu.Unlock()

	if m != nil {
		m.shutdown()
	}
}

// manager хранит клиент, признак online и канал ожидания текущего поколения.
// При потере связи создаётся новый открытый канал и стартует monitorLoop;
// при восстановлении канал закрывается, что снимает всех ожидателей.
type manager struct {
	client *telegram.Client
	ctx    context.Context

	connected atomic.Bool

	mu            sync.RWMutex
	waitCh        chan struct{}
	monitorCancel context.CancelFunc
}

// Init инициализирует глобальный менеджер поверх клиента и контекста жизненного
// цикла. Стартовое состояние — online (закрытый waitCh), чтобы текущие вызовы
// WaitOnline не блокировались. Повторный вызов перетирает предыдущий инстанс.
func Init(ctx context.Context, client *telegram.Client) {
	if client == nil {
		return
	}

	m := &manager{client: client, ctx: ctx}
	m.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	m.waitCh = ready

	globalMu.Lock()
	globalManager = m
	globalMu.Unlock()
}

// MarkConnected переводит состояние в online и разблокирует всех ожидателей.
func MarkConnected() {
	if m := getManager(); m != nil {
		m.markConnected()
	}
}

// MarkDisconnected переводит состояние в offline. Идемпотентен: создаёт новое
// поколение wait-канала и запускает мониторинг восстановления.
func MarkDisconnected() {
	if m := getManager(); m != nil {
		m.markDisconnected()
	}
}

// IsOnline сообщает текущее состояние без блокировки.
func IsOnline() bool {
	m := getManager()
	return m != nil && m.connected.Load()
}

// WaitOnline блокирует вызывающую горутину до восстановления соединения или
// отмены контекста. Если уже online — возвращает сразу. Пробуждение по каналу
// устаревшего поколения продолжает цикл до закрытия актуального.
func WaitOnline(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	m := getManager()
	if m == nil || m.connected.Load() {
		return
	}

	logger.Debug("WaitOnline: blocking until reconnect")
	for {
		ch := m.currentWaitCh()
		select {
		case <-ctx.Done():
			logger.Debugf("WaitOnline: context done before reconnect: %v", ctx.Err())
			return
		case <-ch:
			if ch == m.currentWaitCh() {
				logger.Debug("WaitOnline: connection restored, resuming")
				return
			}
			// старое поколение, ждём дальше
		}
	}
}

// HandleError анализирует ошибку RPC-слоя. Сетевые разрывы переводят менеджер
// в offline, возвращается true; прочие ошибки не трогают состояние.
func HandleError(err error) bool {
	if !isNetworkError(err) {
		return false
	}
	MarkDisconnected()
	return true
}

func getManager() *manager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalManager
}

// currentWaitCh возвращает снимок актуального канала ожидания; nil заменяется
// закрытым каналом, чтобы WaitOnline не завис по ошибке.
func (m *manager) currentWaitCh() <-chan struct{} {
	m.mu.RLock()
	ch := m.waitCh
	m.mu.RUnlock()
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

func (m *manager) markConnected() {
	if m == nil || m.connected.Swap(true) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	ch := m.waitCh
	if ch == nil {
		ch = make(chan struct{})
		m.waitCh = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	m.mu.Unlock()

	logger.Info("connection: restored")
}

func (m *manager) markDisconnected() {
	if m == nil || !m.connected.CompareAndSwap(true, false) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
	}
	// Новое поколение канала: открытый канал = оффлайн.
	m.waitCh = make(chan struct{})
	monitorCtx, cancel := context.WithCancel(m.ctx)
	m.monitorCancel = cancel
	m.mu.Unlock()

	logger.Debug("connection: lost, waiting for restore")
	go m.monitorLoop(monitorCtx)
}

func (m *manager) shutdown() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	wait := m.waitCh
	m.waitCh = nil
	m.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		default:
			close(wait)
		}
	}
}

// monitorLoop с периодом reconnectPingInterval выполняет лёгкий RPC-вызов.
// Успех переводит менеджер в online и завершает цикл; отмена контекста
// завершает цикл без шума.
func (m *manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(reconnectPingInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		attempt++
		start := time.Now()

		pingCtx, cancel := context.WithTimeout(ctx, reconnectPingTimeout)
		err := m.probe(pingCtx)
		cancel()

		switch {
		case err == nil:
			logger.Debugf("connection: probe ok (attempt=%d, duration=%v)", attempt, time.Since(start))
			m.markConnected()
			return
		case errors.Is(err, net.ErrClosed), errors.Is(err, pool.ErrConnDead), errors.Is(err, rpc.ErrEngineClosed):
			logger.Debugf("connection: probe aborted, connection closed (attempt=%d): %v", attempt, err)
		case !isNetworkError(err):
			logger.Errorf("connection: probe failed (attempt=%d): %v", attempt, err)
		default:
			logger.Debugf("connection: probe failed (attempt=%d): %v", attempt, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe выполняет Self(): в отличие от пинга он требует полностью готового
// MTProto-соединения и авторизованного API. Паники движка переводятся в
// net.ErrClosed.
func (m *manager) probe(ctx context.Context) (err error) {
	client := m.client
	if client == nil {
		return net.ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("connection: probe panic recovered: %v", r)
			err = net.ErrClosed
		}
	}()

	_, err = client.Self(ctx)
	return err
}

// isNetworkError определяет, сигнализирует ли ошибка о разрыве: закрытие
// соединения/движка, исчерпание ретраев rpc, таймауты, EOF и net.Error.
// Контекстная отмена сетевой не считается.
func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) || errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
