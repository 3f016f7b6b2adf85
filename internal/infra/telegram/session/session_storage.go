// Package session — файловое хранилище MTProto-сессии поверх tdsession.Storage.
// Запись атомарна (без частичных состояний), успешное сохранение уведомляет
// connection.Manager: обновление сессии обычно означает успешный логин или
// реавторизацию, ожидателей можно разблокировать.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/storage"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/connection"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// FileStorage реализует tdsession.Storage поверх обычного файла.
// Потокобезопасен: Load/Store защищены мьютексом.
type FileStorage struct {
	Path string
	mux  sync.Mutex
}

var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает файл сессии с диска.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет сессию и помечает соединение живым.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		return fmt.Errorf("atomic write session: %w", err)
	}

	logger.Debug("StoreSession: connection.MarkConnected")
	connection.MarkConnected()
	return nil
}
