// Package app — сборка демона архивации: MTProto-клиент, хранилище, движок
// бэкапа, слушатель апдейтов и планировщик связываются здесь, отсюда же
// стартует жизненный цикл и корректный shutdown.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/domain/backup"
	"github.com/calvinturbo/Telegram-Archive/internal/domain/listener"
	"github.com/calvinturbo/Telegram-Archive/internal/domain/schedule"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/storage"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/connection"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/peersmgr"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/session"
	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/notify"
	"github.com/calvinturbo/Telegram-Archive/internal/store"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
)

// appVersion попадает в паспорт устройства MTProto-сессии.
const appVersion = "1.2.0"

// lazyUpdateHandler откладывает установку настоящего обработчика апдейтов,
// разрывая цикл инициализации клиент → менеджер апдейтов → клиент.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// App агрегирует зависимости демона архивации.
type App struct {
	env config.EnvConfig

	client *telegram.Client
	waiter *floodwait.Waiter
	updMgr *tgupdates.Manager
	peers  *peersmgr.Service

	db        *store.Database
	media     *media.Store
	publisher notify.Publisher
	engine    *backup.Engine
	listener  *listener.Service
	scheduler *schedule.Service
}

// New собирает приложение: клиент gotd с менеджером апдейтов, хранилище,
// движок бэкапа, слушатель (если включён) и планировщик.
func New(ctx context.Context, env config.EnvConfig) (*App, error) {
	a := &App{env: env}

	expr, err := schedule.Parse(env.Schedule)
	if err != nil {
		return nil, errors.Wrap(err, "parse SCHEDULE")
	}
	location, err := time.LoadLocation(env.AppTimezone)
	if err != nil {
		return nil, errors.Wrap(err, "load APP_TIMEZONE")
	}

	a.db, err = store.Open(ctx, store.OptionsFromEnv(env), false)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	a.media = media.NewStore(env.MediaPath, env.DeduplicateMedia, env.MaxMediaSizeMB)
	a.publisher = notify.NewPublisher(env, a.db)

	dispatcher := tg.NewUpdateDispatcher()
	lazyHandler := &lazyUpdateHandler{}
	a.waiter = floodwait.NewWaiter()

	options := telegram.Options{
		SessionStorage: &session.FileStorage{Path: env.SessionFile},
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			a.waiter,
			ratelimit.New(rate.Limit(env.ThrottleRPS), env.ThrottleRPS*2),
		},
		OnDead: func() {
			connection.MarkDisconnected()
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    appVersion,
		},
	}
	if env.TestDC {
		options.DCList = dcs.Test()
	}
	a.client = telegram.NewClient(env.APIID, env.APIHash, options)

	a.peers, err = peersmgr.New(a.client.API(), env.PeersCacheFile)
	if err != nil {
		return nil, errors.Wrap(err, "init peers manager")
	}
	if err = a.peers.LoadFromStorage(ctx); err != nil {
		return nil, errors.Wrap(err, "load peers storage")
	}

	if err = storage.EnsureDir(env.StateFile); err != nil {
		return nil, errors.Wrap(err, "ensure state file dir")
	}
	stateDB, err := bbolt.Open(env.StateFile, storage.DefaultFilePerm, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open update state storage")
	}
	a.updMgr = tgupdates.New(tgupdates.Config{
		Handler:      dispatcher,
		Storage:      boltstor.NewStateStorage(stateDB),
		AccessHasher: a.peers.Mgr,
	})
	lazyHandler.set(contribstorage.UpdateHook(a.peers.Mgr.UpdateHook(a.updMgr), a.peers.Store()))

	a.engine = backup.NewEngine(env, a.client.API(), a.db, a.media, a.peers)
	a.scheduler = schedule.NewService(expr, location, func(runCtx context.Context) {
		if runErr := a.engine.Run(runCtx); runErr != nil {
			logError("backup run", runErr)
		}
	})

	if env.EnableListener {
		a.listener = listener.NewService(env, a.db, a.peers, a.engine.Processor(), a.publisher)
		a.listener.Attach(dispatcher)
	}

	return a, nil
}

// Run запускает жизненный цикл демона. Блокируется до остановки.
func (a *App) Run(ctx context.Context) error {
	runner := newRunner(a)
	return runner.Run(ctx)
}

// Close освобождает ресурсы, не зависящие от жизненного цикла клиента.
func (a *App) Close() {
	if a.peers != nil {
		if err := a.peers.Close(); err != nil {
			logError("close peers storage", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logError("close database", err)
		}
	}
}
