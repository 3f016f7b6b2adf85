package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/calvinturbo/Telegram-Archive/internal/app"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
)

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
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

	a, err := app.New(ctx, env)
	if err != nil {
		stop()
		logger.Fatal("app init failed", zap.Error(err))
	}
	defer a.Close()

	if err = a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		logger.Fatal("app run failed", zap.Error(err))
	}
	logger.Info("graceful shutdown complete")
}
