// Пакет store — адаптер реляционного хранилища архива поверх dbutil.
// Поддерживаются два диалекта: встраиваемый SQLite (один писатель, WAL) и
// PostgreSQL (клиент-серверный режим, LISTEN/NOTIFY для уведомлений).
// Все операции записи проходят через retry-слой (см. retry.go); все
// timestamp'ы на границе адаптера приводятся к UTC и хранятся без смещения.
package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/storage"
	"github.com/calvinturbo/Telegram-Archive/internal/store/upgrades"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	// Драйверы БД регистрируются импортом.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// versionTable — имя таблицы версий схемы для dbutil.
const versionTable = "archive_version"

// Database — адаптер хранилища. Встраивает dbutil.Database: низкоуровневые
// Exec/Query доступны напрямую, семантические операции определены методами
// в файлах этого пакета.
type Database struct {
	*dbutil.Database
}

// Options описывает параметры подключения. Заполняются из конфигурации
// через OptionsFromEnv или вручную в тестах.
type Options struct {
	Type        string // config.DBTypeSQLite | config.DBTypePostgres
	SQLitePath  string // путь файла встраиваемой БД; ":memory:" для тестов
	PostgresDSN string // полный DSN PostgreSQL
}

// OptionsFromEnv собирает Options из конфигурации окружения: для PostgreSQL
// приоритет у DATABASE_URL, иначе DSN строится из POSTGRES_*.
func OptionsFromEnv(env config.EnvConfig) Options {
	opts := Options{
		Type:       env.DBType,
		SQLitePath: env.DatabasePath,
	}
	if env.DBType == config.DBTypePostgres {
		opts.PostgresDSN = env.DatabaseURL
		if opts.PostgresDSN == "" {
			opts.PostgresDSN = buildPostgresDSN(env)
		}
	}
	return opts
}

// buildPostgresDSN формирует URL подключения из отдельных POSTGRES_* переменных.
func buildPostgresDSN(env config.EnvConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   env.PostgresHost + ":" + strconv.Itoa(env.PostgresPort),
		Path:   "/" + env.PostgresDB,
	}
	if env.PostgresUser != "" {
		if env.PostgresPass != "" {
			u.User = url.UserPassword(env.PostgresUser, env.PostgresPass)
		} else {
			u.User = url.User(env.PostgresUser)
		}
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// sqliteDSN дополняет путь файла параметрами драйвера: WAL, большой busy
// timeout и умеренный кэш. Вместе с одним открытым соединением это снимает
// практически все "database is locked" при конкуренции демона и viewer'а.
func sqliteDSN(path string) string {
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=60000&_synchronous=NORMAL&_cache_size=-64000"
}

// Open подключается к хранилищу, применяет миграции схемы и возвращает
// готовый адаптер. debugSQL включает журналирование запросов dbutil.
func Open(ctx context.Context, opts Options, debugSQL bool) (*Database, error) {
	var (
		db  *dbutil.Database
		err error
	)

	switch opts.Type {
	case config.DBTypePostgres:
		db, err = dbutil.NewWithDialect(opts.PostgresDSN, "postgres")
		if err != nil {
			return nil, errors.Wrap(err, "open postgres")
		}
	case config.DBTypeSQLite:
		if opts.SQLitePath != ":memory:" {
			if dirErr := storage.EnsureDir(opts.SQLitePath); dirErr != nil {
				return nil, errors.Wrap(dirErr, "ensure database dir")
			}
		}
		db, err = dbutil.NewWithDialect(sqliteDSN(opts.SQLitePath), "sqlite3")
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		// Единственный писатель: сериализация записи на уровне пула соединений.
		db.RawDB.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database type %q", opts.Type)
	}

	db = db.Child(versionTable, upgrades.Table, dbutil.ZeroLogger(newDBLogger(debugSQL)))
	if err = db.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "upgrade schema")
	}

	return &Database{Database: db}, nil
}

// newDBLogger собирает zerolog-логгер для dbutil. Приложение целиком логирует
// через zap; zerolog живёт только внутри слоя БД, поэтому пишем в stderr
// консольным форматом с тем же временем, что и у основного логгера.
func newDBLogger(debugSQL bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if debugSQL {
		level = zerolog.TraceLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Str("component", "db").Logger()
}

// lowered — регистронезависимый поиск делаем через LOWER() с обеих сторон,
// чтобы не зависеть от ILIKE (его нет в SQLite).
func lowered(s string) string { return strings.ToLower(s) }

// formatChatID — десятичная форма маркированного id для путей файловой системы.
func formatChatID(id int64) string { return strconv.FormatInt(id, 10) }

// utc приводит время к UTC перед записью. Нулевое время остаётся нулевым.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// utcPtr — вариант для nullable-времени.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
