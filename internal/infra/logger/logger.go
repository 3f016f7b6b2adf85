// Package logger — централизованная обёртка над zap для всего приложения.
// Инициализирует уровень логирования и форматирование, умеет переназначать целевые
// потоки (stdout/stderr) на лету и подключать файловый лог с ротацией (lumberjack).
// Использует zap.AtomicLevel для динамической смены уровня и mutex для потокобезопасности.

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig описывает параметры файлового лога. Пустой Path означает
// «файловый лог выключен»; остальные поля управляют ротацией lumberjack.
type FileConfig struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	// mu защищает доступ к глобальному состоянию логгера от одновременных изменений.
	mu sync.Mutex
	// log хранит текущий экземпляр zap.Logger, используемый во всём приложении.
	log *zap.Logger
	// logLevel управляет динамическим уровнем консольного вывода без пересоздания ядра.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// fileLevel — отдельный уровень для файлового ядра; по умолчанию debug.
	fileLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	// encoderCfg содержит настройки форматирования сообщений и обновляется при инициализации.
	encoderCfg = defaultEncoderConfig()
	// stdoutWriter определяет поток для стандартного вывода логов.
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	// stderrWriter определяет поток для вывода ошибок логгера.
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	// fileWriter — приёмник файлового ядра (lumberjack); nil, если файл не настроен.
	fileWriter zapcore.WriteSyncer
)

// defaultEncoderConfig формирует консольный encoder с цветами и коротким caller.
// Формат времени фиксирован (YYYY-MM-DD HH:MM:SS).
func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// fileEncoderConfig — вариант для файла: JSON без цветов, время в том же формате.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := defaultEncoderConfig()
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}

// rebuildLoggerLocked пересоздаёт глобальный логгер с текущими настройками потоков и уровнями.
// Предполагается, что вызывающий уже удерживает mu. AddCallerSkip(1) скрывает обёртки logger.*
// в стеке вызовов. Перед заменой предыдущий логгер аккуратно Sync(), чтобы сбросить буферы.
func rebuildLoggerLocked() {
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), stdoutWriter, logLevel)
	core := consoleCore
	if fileWriter != nil {
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), fileWriter, fileLevel)
		core = zapcore.NewTee(consoleCore, fileCore)
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// parseLevel переводит строковый уровень в zapcore.Level; неизвестные значения — Info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init инициализирует глобальный zap-логгер: консольный уровень и, если задан
// file.Path, файловое ядро с ротацией lumberjack. Допустимые уровни: debug, info
// (по умолчанию), warn, error. Потокобезопасно; повторный вызов пересобирает core.
func Init(level string, file FileConfig) {
	mu.Lock()
	defer mu.Unlock()

	logLevel.SetLevel(parseLevel(level))

	if file.Path != "" {
		fileLevel.SetLevel(parseLevel(file.Level))
		fileWriter = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		})
	} else {
		fileWriter = nil
	}

	encoderCfg = defaultEncoderConfig()
	rebuildLoggerLocked()
}

// SetWriters переназначает целевые потоки консольного ядра и пересобирает core.
// Nil означает Stdout/Stderr по умолчанию. Файловое ядро не затрагивается. Потокобезопасно.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}

	rebuildLoggerLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
// Возвращается "сырое" API (не Sugared); предпочтительнее передавать структурированные zap.Field.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled проверяет, включен ли debug-уровень хотя бы у одного ядра.
func IsDebugEnabled() bool {
	return logLevel.Level() <= zap.DebugLevel ||
		(fileWriter != nil && fileLevel.Level() <= zap.DebugLevel)
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение уровня Warn.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке уровня Error.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет структурированное сообщение об ошибке уровня Fatal и завершает работу приложения.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync() // Обязательно сбросить буферы перед os.Exit
	os.Exit(1)
}

// Sync сбрасывает буферы всех ядер. Вызывается перед завершением процесса.
func Sync() {
	_ = Logger().Sync()
}

// Debugf форматирует сообщение через fmt.Sprintf. Используйте экономно:
// форматирование аллоцирует; для горячих путей предпочтительны структурированные поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует сообщение через fmt.Sprintf. Для горячих путей лучше использовать Info с полями.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует сообщение через fmt.Sprintf. Предпочтительнее передавать данные через zap.Field.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует сообщение через fmt.Sprintf. В критичных участках используйте Error с полями.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
