package web

import (
	"crypto/subtle"
	"io"
	"net"
	"net/http"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/notify"

	jsoniter "github.com/json-iterator/go"
)

const internalPushPath = notify.InternalPushPath

func decodeEvent(payload []byte) (notify.Event, error) {
	var event notify.Event
	err := jsoniter.Unmarshal(payload, &event)
	return event, err
}

// handleInternalPush принимает события от процесса бэкапа (SQLite-транспорт).
// Запросы допускаются только с loopback-адресов; при заданном
// INTERNAL_PUSH_TOKEN дополнительно сверяется заголовок X-Internal-Token.
func (s *Server) handleInternalPush(w http.ResponseWriter, r *http.Request) {
	if !s.internalPushAllowed(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	s.Dispatch(r.Context(), payload)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) internalPushAllowed(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	loopback := ip != nil && ip.IsLoopback()

	if token := s.env.InternalPushToken; token != "" {
		provided := r.Header.Get("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1 {
			return true
		}
		// неверный токен отклоняется даже с loopback
		logger.Warnf("web: internal push with bad token from %s", r.RemoteAddr)
		return false
	}
	return loopback
}
