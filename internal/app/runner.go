package app

import (
	"context"
	"sync"

	tgauth "github.com/calvinturbo/Telegram-Archive/internal/telegram/auth"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/connection"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// runner оркестрирует запуск и остановку демона: авторизация, линейный старт
// сервисов, ожидание сигнала и остановка в обратном порядке. MTProto-движок
// гасится последним, чтобы сервисы успели дописать состояние.
type runner struct {
	app *App

	updatesWG     sync.WaitGroup
	updatesCancel context.CancelFunc
}

func newRunner(a *App) *runner {
	return &runner{app: a}
}

// Run — главный цикл демона. Отдельный контекст клиента позволяет довести
// остановку сервисов до конца прежде, чем рвётся сетевой уровень.
func (r *runner) Run(mainCtx context.Context) error {
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	var shutdownWG sync.WaitGroup
	shutdownWG.Go(func() {
		<-mainCtx.Done()
		logger.Debug("shutdown signal received, stopping runner")
		r.stopAllServices()
		clientCancel()
	})

	return r.app.waiter.Run(clientCtx, func(ctx context.Context) error {
		return r.app.client.Run(ctx, func(ctx context.Context) error {
			logger.Info("archive daemon running")

			self, loginErr := r.loginSelf(ctx)
			if loginErr != nil {
				return loginErr
			}
			r.app.engine.SetOwner(self.ID)

			if err := r.initPeers(ctx); err != nil {
				return err
			}
			if err := r.startAllServices(ctx, self.ID); err != nil {
				r.stopAllServices()
				return err
			}

			<-ctx.Done()
			shutdownWG.Wait()
			return ctx.Err()
		})
	})
}

func (r *runner) loginSelf(ctx context.Context) (*tg.User, error) {
	flow := auth.NewFlow(
		tgauth.New(r.app.env.PhoneNumber),
		auth.SendCodeOptions{},
	)
	if err := r.app.client.Auth().IfNecessary(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	self, err := r.app.client.Self(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch self")
	}
	logger.Logger().Info("logged in",
		zap.String("first_name", self.FirstName),
		zap.String("username", self.Username),
		zap.Int64("id", self.ID),
	)
	return self, nil
}

func (r *runner) initPeers(ctx context.Context) error {
	if err := r.app.peers.Mgr.Init(ctx); err != nil {
		return errors.Wrap(err, "init peers manager")
	}
	if err := r.app.peers.LoadFromStorage(ctx); err != nil {
		logger.Errorf("load peers from storage: %v", err)
	}
	return nil
}

func (r *runner) startAllServices(ctx context.Context, selfID int64) error {
	logger.Debug("starting service connection_manager")
	connection.Init(ctx, r.app.client)

	if r.app.listener != nil {
		logger.Debug("starting service listener")
		if err := r.app.listener.Start(ctx); err != nil {
			return errors.Wrap(err, "start listener")
		}
	}

	logger.Debug("starting service updates_manager")
	updatesCtx, updatesCancel := context.WithCancel(ctx)
	r.updatesCancel = updatesCancel
	r.updatesWG.Go(func() {
		mgrErr := r.app.updMgr.Run(updatesCtx, r.app.client.API(), selfID, tgupdates.AuthOptions{
			Forget: false,
			OnStart: func(context.Context) {
				logger.Debug("updates manager started")
			},
		})
		if mgrErr != nil && !errors.Is(mgrErr, context.Canceled) {
			logger.Errorf("updates manager: %v", mgrErr)
		}
	})

	logger.Debug("starting service scheduler")
	r.app.scheduler.Start(ctx)

	return nil
}

func (r *runner) stopAllServices() {
	// остановка в обратном порядке запуска

	logger.Debug("stopping service scheduler")
	r.app.scheduler.Stop()

	logger.Debug("stopping service updates_manager")
	if r.updatesCancel != nil {
		r.updatesCancel()
	}
	r.updatesWG.Wait()

	if r.app.listener != nil {
		logger.Debug("stopping service listener")
		r.app.listener.Stop()
	}

	logger.Debug("stopping service connection_manager")
	connection.Shutdown()
}

func logError(op string, err error) {
	logger.Errorf("%s: %v", op, err)
}
