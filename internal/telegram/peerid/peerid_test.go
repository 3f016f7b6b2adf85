package peerid_test

import (
	"testing"

	"github.com/calvinturbo/Telegram-Archive/internal/telegram/peerid"

	"github.com/gotd/td/tg"
)

func TestFromPeer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		peer tg.PeerClass
		want int64
	}{
		{name: "user", peer: &tg.PeerUser{UserID: 123456}, want: 123456},
		{name: "basicGroup", peer: &tg.PeerChat{ChatID: 98765}, want: -98765},
		{name: "channel", peer: &tg.PeerChannel{ChannelID: 1234567890}, want: -1001234567890},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := peerid.FromPeer(tc.peer); got != tc.want {
				t.Fatalf("FromPeer() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	if got := peerid.ToUser(peerid.FromUser(42)); got != 42 {
		t.Fatalf("user round trip = %d", got)
	}
	if got := peerid.ToChat(peerid.FromChat(42)); got != 42 {
		t.Fatalf("chat round trip = %d", got)
	}
	if got := peerid.ToChannel(peerid.FromChannel(42)); got != 42 {
		t.Fatalf("channel round trip = %d", got)
	}
}

func TestKindPredicates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		marked    int64
		isUser    bool
		isChat    bool
		isChannel bool
	}{
		{name: "user", marked: 777, isUser: true},
		{name: "chat", marked: -777, isChat: true},
		{name: "channel", marked: -1000000000777, isChannel: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := peerid.IsUser(tc.marked); got != tc.isUser {
				t.Errorf("IsUser(%d) = %v", tc.marked, got)
			}
			if got := peerid.IsChat(tc.marked); got != tc.isChat {
				t.Errorf("IsChat(%d) = %v", tc.marked, got)
			}
			if got := peerid.IsChannel(tc.marked); got != tc.isChannel {
				t.Errorf("IsChannel(%d) = %v", tc.marked, got)
			}
		})
	}
}

func TestNormalizeChannelCandidate(t *testing.T) {
	t.Parallel()

	if got := peerid.NormalizeChannelCandidate(1234567890); got != -1001234567890 {
		t.Fatalf("positive candidate = %d", got)
	}
	// Уже маркированные значения не трогаем.
	if got := peerid.NormalizeChannelCandidate(-1001234567890); got != -1001234567890 {
		t.Fatalf("marked candidate changed: %d", got)
	}
	if got := peerid.NormalizeChannelCandidate(-98765); got != -98765 {
		t.Fatalf("group candidate changed: %d", got)
	}
}
