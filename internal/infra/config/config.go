// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (демон архивации и viewer). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. накапливает предупреждения о подставленных значениях по умолчанию,
//  4. предоставляет доступ к результату через singleton.
//
// Бизнес-контекст: конфиг описывает учётные данные MTProto, расположение
// хранилища (SQLite или PostgreSQL), дерево медиафайлов, правила отбора чатов
// для резервного копирования, поведение слушателя реального времени и
// параметры viewer'а. Все списки идентификаторов чатов хранятся в
// «маркированной» форме (см. internal/telegram/peerid).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// DBType перечисляет поддерживаемые диалекты хранилища.
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

// Режимы push-уведомлений viewer'а.
const (
	PushOff   = "off"
	PushBasic = "basic"
	PushFull  = "full"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Значения уже
// проходят минимальную валидацию и нормализацию в loadConfig; в рантайме по
// месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	// Telegram API (обязательны только для демона архивации).
	APIID       int
	APIHash     string
	PhoneNumber string

	// Хранилище.
	BackupPath   string
	DatabasePath string // файл встраиваемой БД (после разрешения DATABASE_PATH/DATABASE_DIR/DB_PATH)
	MediaPath    string // производный: <BackupPath>/media
	DBType       string // sqlite | postgres
	DatabaseURL  string // полный DSN PostgreSQL; перекрывает POSTGRES_*
	PostgresHost string
	PostgresPort int
	PostgresUser string
	PostgresPass string
	PostgresDB   string

	// Резервное копирование.
	Schedule           string
	BatchSize          int
	MaxMediaSizeMB     int
	DownloadMedia      bool
	DeduplicateMedia   bool
	VerifyMedia        bool
	SyncDeletionsEdits bool

	// Отбор чатов (маркированные id).
	ChatTypes          []string
	GlobalIncludeIDs   []int64
	GlobalExcludeIDs   []int64
	PrivateIncludeIDs  []int64
	PrivateExcludeIDs  []int64
	GroupsIncludeIDs   []int64
	GroupsExcludeIDs   []int64
	ChannelsIncludeIDs []int64
	ChannelsExcludeIDs []int64
	PriorityChatIDs    []int64
	DisplayChatIDs     []int64

	// Слушатель реального времени.
	EnableListener         bool
	ListenEdits            bool
	ListenDeletions        bool
	ListenNewMessages      bool
	ListenNewMessagesMedia bool
	ListenChatActions      bool
	ListenAlbums           bool
	MassOperationThreshold int
	MassOperationWindowSec int

	// Viewer.
	ViewerAddress     string
	ViewerHost        string
	ViewerPort        int
	ViewerUsername    string
	ViewerPassword    string
	ViewerTimezone    string
	PushNotifications string
	VAPIDPrivateKey   string
	VAPIDPublicKey    string
	VAPIDContact      string
	InternalPushToken string

	// MTProto-клиент.
	SessionFile    string
	StateFile      string
	PeersCacheFile string
	ThrottleRPS    int
	TestDC         bool

	// Общие.
	AppTimezone string
	LogLevel    string
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultBackupPath       = "data/backups"
	defaultDatabaseFileName = "telegram_archive.db"
	defaultDBType           = DBTypeSQLite
	defaultPostgresHost     = "localhost"
	defaultPostgresPort     = 5432
	defaultPostgresUser     = "postgres"
	defaultPostgresDB       = "telegram_archive"
	defaultSchedule         = "0 */6 * * *"
	defaultBatchSize        = 100
	defaultMaxMediaSizeMB   = 100
	defaultChatTypes        = "private,groups,channels"
	defaultMassThreshold    = 10
	defaultMassWindowSec    = 30
	defaultViewerAddress    = "127.0.0.1:8080"
	defaultViewerHost       = "localhost"
	defaultViewerPort       = 8080
	defaultViewerTimezone   = "UTC"
	defaultVAPIDContact     = "mailto:admin@localhost"
	defaultSessionFile      = "data/session.bin"
	defaultStateFile        = "data/state.bbolt"
	defaultPeersCacheFile   = "data/peers_cache.bbolt"
	defaultThrottleRPS      = 1
	defaultAppTimezone      = "UTC"
	defaultLogLevel         = "info"
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// AppLocation — таймзона приложения (планировщик, журналы запусков).
// Заполняется при загрузке конфигурации.
var AppLocation *time.Location

// Load — точка входа для инициализации глобальной конфигурации демона архивации.
// Требует учётные данные Telegram API. Повторный вызов запрещён, чтобы избежать
// гонок конфигурации на старте.
func Load(envPath string) error {
	return loadGlobal(envPath, true)
}

// LoadViewer загружает конфигурацию для viewer-процесса: тот же набор
// переменных, но без обязательных API_ID/API_HASH/PHONE_NUMBER — viewer
// никогда не открывает MTProto-сессию.
func LoadViewer(envPath string) error {
	return loadGlobal(envPath, false)
}

func loadGlobal(envPath string, requireTelegram bool) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath, requireTelegram)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string, requireTelegram bool) (*Config, error) {
	var warnings []string

	// Отсутствие .env не фатально: в контейнерах окружение приходит напрямую.
	if err := godotenv.Load(envPath); err != nil {
		appendWarningf(&warnings, "env file %q not loaded: %v", envPath, err)
	}

	var (
		apiID   int
		apiHash string
		phone   string
		err     error
	)
	if requireTelegram {
		apiID, err = parseRequiredInt("API_ID")
		if err != nil {
			return nil, err
		}
		apiHash = strings.TrimSpace(os.Getenv("API_HASH"))
		if apiHash == "" {
			return nil, errors.New("env API_HASH must be set")
		}
		phone = strings.TrimSpace(os.Getenv("PHONE_NUMBER"))
		if phone == "" {
			return nil, errors.New("env PHONE_NUMBER must be set")
		}
	}

	backupPath := sanitizeFile("BACKUP_PATH", os.Getenv("BACKUP_PATH"), defaultBackupPath, &warnings)
	databasePath := resolveDatabasePath(backupPath, &warnings)
	mediaPath := filepath.Join(backupPath, "media")

	dbType, err := sanitizeDBType(os.Getenv("DB_TYPE"), &warnings)
	if err != nil {
		return nil, err
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL != "" {
		if _, urlErr := url.Parse(databaseURL); urlErr != nil {
			return nil, fmt.Errorf("env DATABASE_URL is not a valid URL: %w", urlErr)
		}
	}

	postgresHost := sanitizeFile("POSTGRES_HOST", os.Getenv("POSTGRES_HOST"), defaultPostgresHost, &warnings)
	postgresPort := parseIntDefault("POSTGRES_PORT", defaultPostgresPort, greaterThanZero, &warnings)
	postgresUser := sanitizeFile("POSTGRES_USER", os.Getenv("POSTGRES_USER"), defaultPostgresUser, &warnings)
	postgresPass := os.Getenv("POSTGRES_PASSWORD")
	postgresDB := sanitizeFile("POSTGRES_DB", os.Getenv("POSTGRES_DB"), defaultPostgresDB, &warnings)

	schedule := sanitizeFile("SCHEDULE", os.Getenv("SCHEDULE"), defaultSchedule, &warnings)
	batchSize := parseIntDefault("BATCH_SIZE", defaultBatchSize, greaterThanZero, &warnings)
	maxMediaSizeMB := parseIntDefault("MAX_MEDIA_SIZE_MB", defaultMaxMediaSizeMB, greaterThanZero, &warnings)
	downloadMedia := parseBoolDefault("DOWNLOAD_MEDIA", true, &warnings)
	deduplicateMedia := parseBoolDefault("DEDUPLICATE_MEDIA", true, &warnings)
	verifyMedia := parseBoolDefault("VERIFY_MEDIA", false, &warnings)
	syncDeletions := parseBoolDefault("SYNC_DELETIONS_EDITS", false, &warnings)

	chatTypes, err := sanitizeChatTypes(os.Getenv("CHAT_TYPES"), &warnings)
	if err != nil {
		return nil, err
	}

	globalInclude := parseIDList("GLOBAL_INCLUDE_CHAT_IDS",
		firstNonEmpty(os.Getenv("GLOBAL_INCLUDE_CHAT_IDS"), os.Getenv("INCLUDE_CHAT_IDS")), &warnings)
	globalExclude := parseIDList("GLOBAL_EXCLUDE_CHAT_IDS",
		firstNonEmpty(os.Getenv("GLOBAL_EXCLUDE_CHAT_IDS"), os.Getenv("EXCLUDE_CHAT_IDS")), &warnings)
	privateInclude := parseIDList("PRIVATE_INCLUDE_CHAT_IDS", os.Getenv("PRIVATE_INCLUDE_CHAT_IDS"), &warnings)
	privateExclude := parseIDList("PRIVATE_EXCLUDE_CHAT_IDS", os.Getenv("PRIVATE_EXCLUDE_CHAT_IDS"), &warnings)
	groupsInclude := parseIDList("GROUPS_INCLUDE_CHAT_IDS", os.Getenv("GROUPS_INCLUDE_CHAT_IDS"), &warnings)
	groupsExclude := parseIDList("GROUPS_EXCLUDE_CHAT_IDS", os.Getenv("GROUPS_EXCLUDE_CHAT_IDS"), &warnings)
	channelsInclude := parseIDList("CHANNELS_INCLUDE_CHAT_IDS", os.Getenv("CHANNELS_INCLUDE_CHAT_IDS"), &warnings)
	channelsExclude := parseIDList("CHANNELS_EXCLUDE_CHAT_IDS", os.Getenv("CHANNELS_EXCLUDE_CHAT_IDS"), &warnings)
	priorityIDs := parseIDList("PRIORITY_CHAT_IDS", os.Getenv("PRIORITY_CHAT_IDS"), &warnings)
	displayIDs := parseIDList("DISPLAY_CHAT_IDS", os.Getenv("DISPLAY_CHAT_IDS"), &warnings)

	enableListener := parseBoolDefault("ENABLE_LISTENER", true, &warnings)
	listenEdits := parseBoolDefault("LISTEN_EDITS", true, &warnings)
	listenDeletions := parseBoolDefault("LISTEN_DELETIONS", true, &warnings)
	listenNewMessages := parseBoolDefault("LISTEN_NEW_MESSAGES", true, &warnings)
	listenNewMedia := parseBoolDefault("LISTEN_NEW_MESSAGES_MEDIA", true, &warnings)
	listenChatActions := parseBoolDefault("LISTEN_CHAT_ACTIONS", true, &warnings)
	listenAlbums := parseBoolDefault("LISTEN_ALBUMS", true, &warnings)
	massThreshold := parseIntDefault("MASS_OPERATION_THRESHOLD", defaultMassThreshold, greaterThanZero, &warnings)
	massWindowSec := parseIntDefault("MASS_OPERATION_WINDOW_SECONDS", defaultMassWindowSec, greaterThanZero, &warnings)
	// Устаревшая ручка буферного варианта защиты: читаем, чтобы не пугать
	// пользователей старых конфигов, но реализация использует rate limiter.
	if v := strings.TrimSpace(os.Getenv("MASS_OPERATION_BUFFER_DELAY")); v != "" {
		appendWarningf(&warnings, "env MASS_OPERATION_BUFFER_DELAY is obsolete and ignored (rate limiter is used)")
	}

	viewerAddress := sanitizeFile("VIEWER_ADDRESS", os.Getenv("VIEWER_ADDRESS"), defaultViewerAddress, &warnings)
	viewerHost := sanitizeFile("VIEWER_HOST", os.Getenv("VIEWER_HOST"), defaultViewerHost, &warnings)
	viewerPort := parseIntDefault("VIEWER_PORT", defaultViewerPort, greaterThanZero, &warnings)
	viewerUsername := strings.TrimSpace(os.Getenv("VIEWER_USERNAME"))
	viewerPassword := strings.TrimSpace(os.Getenv("VIEWER_PASSWORD"))
	viewerTimezone := sanitizeTimezoneFlexible(os.Getenv("VIEWER_TIMEZONE"), defaultViewerTimezone, &warnings)
	pushMode := sanitizePushMode(os.Getenv("PUSH_NOTIFICATIONS"), &warnings)
	vapidPrivate := strings.TrimSpace(os.Getenv("VAPID_PRIVATE_KEY"))
	vapidPublic := strings.TrimSpace(os.Getenv("VAPID_PUBLIC_KEY"))
	vapidContact := sanitizeFile("VAPID_CONTACT", os.Getenv("VAPID_CONTACT"), defaultVAPIDContact, &warnings)
	internalPushToken := strings.TrimSpace(os.Getenv("INTERNAL_PUSH_TOKEN"))

	sessionFile := sanitizeFile("SESSION_FILE", os.Getenv("SESSION_FILE"), defaultSessionFile, &warnings)
	stateFile := sanitizeFile("STATE_FILE", os.Getenv("STATE_FILE"), defaultStateFile, &warnings)
	peersCacheFile := sanitizeFile("PEERS_CACHE_FILE", os.Getenv("PEERS_CACHE_FILE"), defaultPeersCacheFile, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")

	appTimezone := sanitizeTimezoneFlexible(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	AppLocation, err = timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}

	env := EnvConfig{
		APIID:       apiID,
		APIHash:     apiHash,
		PhoneNumber: phone,

		BackupPath:   backupPath,
		DatabasePath: databasePath,
		MediaPath:    mediaPath,
		DBType:       dbType,
		DatabaseURL:  databaseURL,
		PostgresHost: postgresHost,
		PostgresPort: postgresPort,
		PostgresUser: postgresUser,
		PostgresPass: postgresPass,
		PostgresDB:   postgresDB,

		Schedule:           schedule,
		BatchSize:          batchSize,
		MaxMediaSizeMB:     maxMediaSizeMB,
		DownloadMedia:      downloadMedia,
		DeduplicateMedia:   deduplicateMedia,
		VerifyMedia:        verifyMedia,
		SyncDeletionsEdits: syncDeletions,

		ChatTypes:          chatTypes,
		GlobalIncludeIDs:   globalInclude,
		GlobalExcludeIDs:   globalExclude,
		PrivateIncludeIDs:  privateInclude,
		PrivateExcludeIDs:  privateExclude,
		GroupsIncludeIDs:   groupsInclude,
		GroupsExcludeIDs:   groupsExclude,
		ChannelsIncludeIDs: channelsInclude,
		ChannelsExcludeIDs: channelsExclude,
		PriorityChatIDs:    priorityIDs,
		DisplayChatIDs:     displayIDs,

		EnableListener:         enableListener,
		ListenEdits:            listenEdits,
		ListenDeletions:        listenDeletions,
		ListenNewMessages:      listenNewMessages,
		ListenNewMessagesMedia: listenNewMedia,
		ListenChatActions:      listenChatActions,
		ListenAlbums:           listenAlbums,
		MassOperationThreshold: massThreshold,
		MassOperationWindowSec: massWindowSec,

		ViewerAddress:     viewerAddress,
		ViewerHost:        viewerHost,
		ViewerPort:        viewerPort,
		ViewerUsername:    viewerUsername,
		ViewerPassword:    viewerPassword,
		ViewerTimezone:    viewerTimezone,
		PushNotifications: pushMode,
		VAPIDPrivateKey:   vapidPrivate,
		VAPIDPublicKey:    vapidPublic,
		VAPIDContact:      vapidContact,
		InternalPushToken: internalPushToken,

		SessionFile:    sessionFile,
		StateFile:      stateFile,
		PeersCacheFile: peersCacheFile,
		ThrottleRPS:    throttleRPS,
		TestDC:         testDC,

		AppTimezone: appTimezone,
		LogLevel:    logLevel,
		// Файловое логирование
		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// SetDisplayChatIDs заменяет список DISPLAY_CHAT_IDS после нормализации viewer'ом
// (автокоррекция пропущенного префикса -100 по содержимому БД).
func SetDisplayChatIDs(ids []int64) {
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	cfgInstance.Env.DisplayChatIDs = append([]int64(nil), ids...)
}

// resolveDatabasePath выбирает файл встраиваемой БД: DATABASE_PATH, затем
// DATABASE_DIR (+ стандартное имя файла), затем DB_PATH; по умолчанию
// <backup>/db/telegram_archive.db.
func resolveDatabasePath(backupPath string, warnings *[]string) string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_PATH")); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DIR")); v != "" {
		return filepath.Join(v, defaultDatabaseFileName)
	}
	if v := strings.TrimSpace(os.Getenv("DB_PATH")); v != "" {
		return v
	}
	fallback := filepath.Join(backupPath, "db", defaultDatabaseFileName)
	appendWarningf(warnings, "env DATABASE_PATH is not set; using default %q", fallback)
	return fallback
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero/ nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeFile возвращает валидное строковое значение конфигурации. Если
// переменная не задана, подставляет fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeTimezoneFlexible проверяет, что значение — корректная IANA‑зона или UTC‑смещение.
// При неудаче возвращает значение по умолчанию и добавляет предупреждение.
func sanitizeTimezoneFlexible(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", "<timezone>", fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "timezone %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}

// sanitizeDBType нормализует DB_TYPE. Значения postgres/postgresql эквивалентны;
// всё прочее, кроме sqlite, — ошибка конфигурации.
func sanitizeDBType(value string, warnings *[]string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "":
		appendWarningf(warnings, "env DB_TYPE is not set; using default %q", defaultDBType)
		return defaultDBType, nil
	case DBTypeSQLite:
		return DBTypeSQLite, nil
	case DBTypePostgres, "postgresql":
		return DBTypePostgres, nil
	default:
		return "", fmt.Errorf("env DB_TYPE value %q is invalid (expected sqlite or postgres)", value)
	}
}

// sanitizePushMode нормализует PUSH_NOTIFICATIONS до {off, basic, full}.
func sanitizePushMode(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "":
		appendWarningf(warnings, "env PUSH_NOTIFICATIONS is not set; using default %q", PushOff)
		return PushOff
	case PushOff, PushBasic, PushFull:
		return v
	default:
		appendWarningf(warnings, "env PUSH_NOTIFICATIONS value %q is invalid; using default %q", value, PushOff)
		return PushOff
	}
}

// sanitizeChatTypes парсит CSV-список типов чатов и проверяет допустимость
// значений. Пустой итог или неизвестный тип — ошибка конфигурации: выбор
// «что бэкапить» не должен решаться молча.
func sanitizeChatTypes(value string, warnings *[]string) ([]string, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		appendWarningf(warnings, "env CHAT_TYPES is not set; using default %q", defaultChatTypes)
		raw = defaultChatTypes
	}

	seen := make(map[string]struct{})
	result := make([]string, 0, 3)
	for _, part := range strings.Split(raw, ",") {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			continue
		}
		switch token {
		case "private", "groups", "channels":
		default:
			return nil, fmt.Errorf("env CHAT_TYPES entry %q is invalid (expected private, groups or channels)", token)
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}

	if len(result) == 0 {
		return nil, errors.New("env CHAT_TYPES must contain at least one chat type")
	}
	return result, nil
}

// parseIDList парсит CSV-список идентификаторов чатов. Некорректные записи
// пропускаются с предупреждением; порядок сохраняется (важно для PRIORITY_CHAT_IDS).
func parseIDList(name, value string, warnings *[]string) []int64 {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil
	}

	result := make([]int64, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			appendWarningf(warnings, "env %s entry %q is not a valid chat id; skipped", name, token)
			continue
		}
		result = append(result, id)
	}
	return result
}

// firstNonEmpty возвращает первое непустое значение; используется для
// обратной совместимости старых имён переменных (INCLUDE_CHAT_IDS и т. п.).
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
