package web

import (
	"io"
	"net/http"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"

	jsoniter "github.com/json-iterator/go"
)

// maxBodySize — лимит тела запроса API (login, push-подписки).
const maxBodySize = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := jsoniter.Marshal(payload)
	if err != nil {
		logger.Errorf("web: marshal response: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err = w.Write(data); err != nil {
		logger.Debugf("web: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSONBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(body, dst)
}
