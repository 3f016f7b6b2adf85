package notify

import (
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
)

func TestEncodeTruncatesLongText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("я", 700)
	event := Event{
		Type:   EventNewMessage,
		ChatID: -100500,
		Data: map[string]any{
			"message": map[string]any{"id": 1, "text": long},
		},
	}

	raw, err := event.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded Event
	if err = jsoniter.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	msg, ok := decoded.Data["message"].(map[string]any)
	if !ok {
		t.Fatal("message payload lost")
	}
	text, _ := msg["text"].(string)
	runes := []rune(text)
	if len(runes) != 501 {
		t.Errorf("text length = %d runes, want 501", len(runes))
	}
	if runes[len(runes)-1] != '…' {
		t.Error("truncated text must end with ellipsis")
	}
}

func TestEncodeKeepsShortText(t *testing.T) {
	t.Parallel()

	event := Event{
		Type:   EventEdit,
		ChatID: 42,
		Data: map[string]any{
			"message": map[string]any{"text": "short"},
		},
	}
	raw, err := event.Encode()
	if err != nil {
		t.Fatal(err)
	}
	var decoded Event
	if err = jsoniter.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Data["message"].(map[string]any)["text"] != "short" {
		t.Error("short text must pass through untouched")
	}
	if decoded.Type != EventEdit || decoded.ChatID != 42 {
		t.Error("envelope fields mismatch")
	}
}

func TestEncodeWithoutMessage(t *testing.T) {
	t.Parallel()

	event := Event{Type: EventDelete, ChatID: -1, Data: map[string]any{"message_id": 7}}
	if _, err := event.Encode(); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := (Event{Type: EventChatUpdate, ChatID: -1}).Encode(); err != nil {
		t.Fatalf("Encode without data: %v", err)
	}
}
