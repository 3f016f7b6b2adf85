package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"

	jsoniter "github.com/json-iterator/go"
)

// captureLog перенаправляет вывод логгера в буфер на время теста.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	logger.SetWriters(buf, buf)
	t.Cleanup(func() { logger.SetWriters(nil, nil) })
	return buf
}

func TestHTTPPublisherRoundTrip(t *testing.T) {
	var (
		gotBody  []byte
		gotToken string
	)
	// Вебхук viewer'а отвечает 204 No Content.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotToken = r.Header.Get("X-Internal-Token")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	buf := captureLog(t)
	p := &httpPublisher{url: srv.URL, token: "tok", client: srv.Client()}
	p.Publish(context.Background(), Event{
		Type:   EventNewMessage,
		ChatID: -100,
		Data:   map[string]any{"message": map[string]any{"id": 1, "text": "hi"}},
	})

	var event Event
	if err := jsoniter.Unmarshal(gotBody, &event); err != nil {
		t.Fatalf("unmarshal delivered payload: %v", err)
	}
	if event.Type != EventNewMessage || event.ChatID != -100 {
		t.Errorf("delivered event = %+v", event)
	}
	if gotToken != "tok" {
		t.Errorf("token header = %q, want tok", gotToken)
	}
	if strings.Contains(buf.String(), "viewer returned") {
		t.Errorf("successful delivery must not warn, log: %s", buf.String())
	}
}

func TestHTTPPublisherWarnsOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	buf := captureLog(t)
	p := &httpPublisher{url: srv.URL, client: srv.Client()}
	p.Publish(context.Background(), Event{Type: EventEdit, ChatID: 5})

	if !strings.Contains(buf.String(), "viewer returned 500") {
		t.Errorf("5xx must be logged, log: %s", buf.String())
	}
}
