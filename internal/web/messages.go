package web

import (
	"io/fs"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/timeutil"

	jsoniter "github.com/json-iterator/go"
)

// handleMessages — страница сообщений чата: limit/offset, поиск и курсорная
// пагинация before_date/before_id.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.requireChat(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	search := query.Get("search")

	var beforeDate *time.Time
	if raw := query.Get("before_date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before_date must be RFC3339")
			return
		}
		utc := parsed.UTC()
		beforeDate = &utc
	}
	var beforeID *int64
	if raw := query.Get("before_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before_id must be an integer")
			return
		}
		beforeID = &id
	}

	messages, err := s.db.GetMessagesPaginated(r.Context(), chatID, limit, offset, search, beforeDate, beforeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// handleMessagesByDate находит точку перехода «к дате»: первое сообщение от
// локальной полуночи в запрошенном часовом поясе, иначе ближайшее раньше,
// иначе первое в чате. Ответ несёт смещение сообщения в ленте.
func (s *Server) handleMessagesByDate(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.requireChat(w, r)
	if !ok {
		return
	}

	rawDate := r.URL.Query().Get("date")
	if !datePattern.MatchString(rawDate) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	tzName := r.URL.Query().Get("timezone")
	if tzName == "" {
		tzName = s.env.ViewerTimezone
	}
	// Помимо IANA-имён принимаются UTC-смещения, как в конфигурации.
	location, err := timeutil.ParseLocation(tzName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown timezone")
		return
	}

	day, err := time.ParseInLocation("2006-01-02", rawDate, location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	view, err := s.db.FindMessageByDateWithJoins(r.Context(), chatID, day.UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to locate message")
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "chat has no messages")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleExport отдаёт весь чат потоковым JSON-массивом: по одному объекту на
// строку курсора, без буферизации всей истории в памяти.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.requireChat(w, r)
	if !ok {
		return
	}

	chat, err := s.db.GetChatByID(r.Context(), chatID)
	if err != nil || chat == nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	iterator, err := s.db.GetMessagesForExport(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open export")
		return
	}
	defer iterator.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFileName(chat.DisplayName())+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err = w.Write([]byte("[")); err != nil {
		return
	}
	first := true
	for {
		view, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Errorf("web: export chat %d: %v", chatID, iterErr)
			break
		}
		if view == nil {
			break
		}
		data, marshalErr := jsoniter.Marshal(view)
		if marshalErr != nil {
			logger.Errorf("web: export chat %d: marshal message %d: %v", chatID, view.ID, marshalErr)
			break
		}
		if !first {
			if _, err = w.Write([]byte(",\n")); err != nil {
				return
			}
		}
		first = false
		if _, err = w.Write(data); err != nil {
			return
		}
	}
	_, _ = w.Write([]byte("]"))
}

var unsafeNameChars = regexp.MustCompile(`[^0-9A-Za-zА-Яа-яЁё_-]+`)

// exportFileName строит безопасное имя файла выгрузки из названия чата.
func exportFileName(displayName string) string {
	safe := unsafeNameChars.ReplaceAllString(displayName, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		safe = "chat"
	}
	return safe + "_export.json"
}

// handleStats — сводная статистика архива (кэш 5 минут).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStatistics(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleStatsRefresh пересчитывает статистику, минуя кэш.
func (s *Server) handleStatsRefresh(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStatistics(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to refresh statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// mediaHandler — файловый сервер медиахранилища без листинга каталогов.
func (s *Server) mediaHandler() http.Handler {
	files := http.FileServer(noDirListing{http.Dir(s.media.Root())})
	return http.StripPrefix("/media/", files)
}

type noDirListing struct {
	fs http.FileSystem
}

func (d noDirListing) Open(name string) (http.File, error) {
	f, err := d.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
