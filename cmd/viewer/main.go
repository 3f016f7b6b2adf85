package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/notify"
	"github.com/calvinturbo/Telegram-Archive/internal/store"
	"github.com/calvinturbo/Telegram-Archive/internal/web"
)

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.LoadViewer(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()

	logger.Init(env.LogLevel, logger.FileConfig{
		Path:       env.LogFile,
		Level:      env.LogFileLevel,
		MaxSizeMB:  env.LogFileMaxSize,
		MaxBackups: env.LogFileMaxBackups,
		MaxAgeDays: env.LogFileMaxAge,
		Compress:   env.LogFileCompress,
	})
	defer logger.Sync()
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeOpts := store.OptionsFromEnv(env)
	db, err := store.Open(ctx, storeOpts, false)
	if err != nil {
		stop()
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Errorf("close database: %v", closeErr)
		}
	}()

	server := web.NewServer(env, db, media.NewStore(env.MediaPath, env.DeduplicateMedia, env.MaxMediaSizeMB))

	// В режиме PostgreSQL события приходят через pg_notify; для SQLite
	// демон бэкапа шлёт их на внутренний вебхук сервера.
	if env.DBType == config.DBTypePostgres {
		subscriber := notify.NewSubscriber(storeOpts.PostgresDSN, func(event notify.Event) {
			server.DispatchEvent(ctx, event)
		})
		go func() {
			if subErr := subscriber.Run(ctx); subErr != nil && ctx.Err() == nil {
				logger.Errorf("notify subscriber: %v", subErr)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			stop()
			logger.Fatal("viewer failed", zap.Error(err))
		}
	}

	if err = server.Shutdown(); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("graceful shutdown complete")
}
