package web

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
)

const (
	sessionCookieName = "telegram_archive_session"
	sessionMaxAge     = 30 * 24 * 3600 // 30 дней в секундах
)

// authManager — cookie-аутентификация viewer'а. Пара логин/пароль одна,
// значение cookie детерминировано: hex(SHA-256("username:password")).
// Выключенная аутентификация (пустые креды) пропускает всех.
type authManager struct {
	enabled bool
	token   string
}

func newAuthManager(username, password string) *authManager {
	m := &authManager{enabled: username != "" && password != ""}
	if m.enabled {
		m.token = sessionToken(username, password)
	}
	return m
}

func sessionToken(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return hex.EncodeToString(sum[:])
}

func (m *authManager) authorized(r *http.Request) bool {
	if !m.enabled {
		return true
	}
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(m.token)) == 1
}

// middleware закрывает защищённые маршруты: без валидной cookie — 401.
func (m *authManager) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(r) {
			logger.Debugf("web: unauthorized %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin сверяет креды и ставит сессионную cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.auth.enabled {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "auth_required": false})
		return
	}

	var req loginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username != s.env.ViewerUsername || req.Password != s.env.ViewerPassword {
		logger.Warnf("web: failed login attempt from %s", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.auth.token,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleLogout сбрасывает cookie.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAuthCheck сообщает фронтенду, нужна ли аутентификация и активна ли она.
func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": s.auth.authorized(r),
		"auth_required": s.auth.enabled,
	})
}
