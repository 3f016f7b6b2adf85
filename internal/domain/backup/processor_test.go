package backup

import (
	"testing"

	"github.com/calvinturbo/Telegram-Archive/internal/media"

	"github.com/gotd/td/tg"
)

func TestSenderID(t *testing.T) {
	t.Parallel()

	p := &Processor{}

	testCases := []struct {
		name   string
		chatID int64
		msg    *tg.Message
		want   int64
	}{
		{
			name:   "explicit user sender",
			chatID: -300,
			msg:    &tg.Message{FromID: &tg.PeerUser{UserID: 500}},
			want:   500,
		},
		{
			name:   "channel post sender",
			chatID: -1000000000100,
			msg:    &tg.Message{FromID: &tg.PeerChannel{ChannelID: 100}},
			want:   -1000000000100,
		},
		{
			name:   "anonymous group admin",
			chatID: -1000000000100,
			msg:    &tg.Message{FromID: &tg.PeerChat{ChatID: 200}},
			want:   -200,
		},
		{
			name:   "private incoming without from_id falls back to peer",
			chatID: 500,
			msg:    &tg.Message{},
			want:   500,
		},
		{
			name:   "private outgoing without from_id stays unknown",
			chatID: 500,
			msg:    &tg.Message{Out: true},
			want:   0,
		},
		{
			name:   "group message without from_id stays unknown",
			chatID: -300,
			msg:    &tg.Message{},
			want:   0,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := p.senderID(tc.chatID, tc.msg); got != tc.want {
				t.Errorf("senderID = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestExtractReactions(t *testing.T) {
	t.Parallel()

	t.Run("no reactions", func(t *testing.T) {
		t.Parallel()
		if got := extractReactions(&tg.Message{}); got != nil {
			t.Errorf("extractReactions = %v, want nil", got)
		}
	})

	t.Run("full voter attribution", func(t *testing.T) {
		t.Parallel()
		msg := &tg.Message{}
		msg.SetReactions(tg.MessageReactions{
			Results: []tg.ReactionCount{
				{Reaction: &tg.ReactionEmoji{Emoticon: "👍"}, Count: 2},
			},
			RecentReactions: []tg.MessagePeerReaction{
				{PeerID: &tg.PeerUser{UserID: 1}, Reaction: &tg.ReactionEmoji{Emoticon: "👍"}},
				{PeerID: &tg.PeerUser{UserID: 2}, Reaction: &tg.ReactionEmoji{Emoticon: "👍"}},
			},
		})

		got := extractReactions(msg)
		if len(got) != 1 {
			t.Fatalf("got %d reactions, want 1", len(got))
		}
		if got[0].Emoji != "👍" || got[0].Count != 2 {
			t.Errorf("reaction = %+v", got[0])
		}
		if len(got[0].UserIDs) != 2 || got[0].UserIDs[0] != 1 || got[0].UserIDs[1] != 2 {
			t.Errorf("user ids = %v, want [1 2]", got[0].UserIDs)
		}
	})

	t.Run("partial voter list kept aggregate", func(t *testing.T) {
		t.Parallel()
		msg := &tg.Message{}
		msg.SetReactions(tg.MessageReactions{
			Results: []tg.ReactionCount{
				{Reaction: &tg.ReactionEmoji{Emoticon: "🔥"}, Count: 5},
			},
			RecentReactions: []tg.MessagePeerReaction{
				{PeerID: &tg.PeerUser{UserID: 9}, Reaction: &tg.ReactionEmoji{Emoticon: "🔥"}},
			},
		})

		got := extractReactions(msg)
		if len(got) != 1 {
			t.Fatalf("got %d reactions, want 1", len(got))
		}
		if got[0].Count != 5 || got[0].UserIDs != nil {
			t.Errorf("reaction = %+v, want aggregate without user ids", got[0])
		}
	})

	t.Run("custom emoji key", func(t *testing.T) {
		t.Parallel()
		msg := &tg.Message{}
		msg.SetReactions(tg.MessageReactions{
			Results: []tg.ReactionCount{
				{Reaction: &tg.ReactionCustomEmoji{DocumentID: 123456}, Count: 1},
			},
		})

		got := extractReactions(msg)
		if len(got) != 1 || got[0].Emoji != "custom:123456" {
			t.Errorf("extractReactions = %+v, want custom:123456", got)
		}
	})
}

func TestClassifyDocument(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		attributes []tg.DocumentAttributeClass
		wantType   string
		wantName   string
	}{
		{
			name:     "plain document",
			wantType: media.TypeDocument,
		},
		{
			name: "named document",
			attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: "report.pdf"},
			},
			wantType: media.TypeDocument,
			wantName: "report.pdf",
		},
		{
			name: "video",
			attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeVideo{W: 1280, H: 720, Duration: 12.5},
			},
			wantType: media.TypeVideo,
		},
		{
			name: "gif is animated video",
			attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeVideo{W: 320, H: 240, Duration: 3},
				&tg.DocumentAttributeAnimated{},
			},
			wantType: media.TypeAnimation,
		},
		{
			name: "voice note",
			attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{Voice: true, Duration: 7},
			},
			wantType: media.TypeVoice,
		},
		{
			name: "music track",
			attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{Duration: 240},
			},
			wantType: media.TypeAudio,
		},
		{
			name: "sticker",
			attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeSticker{},
			},
			wantType: media.TypeSticker,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			info := &mediaInfo{}
			classifyDocument(info, tc.attributes)
			if info.mediaType != tc.wantType {
				t.Errorf("mediaType = %q, want %q", info.mediaType, tc.wantType)
			}
			if info.fileName != tc.wantName {
				t.Errorf("fileName = %q, want %q", info.fileName, tc.wantName)
			}
		})
	}
}

func TestLargestPhotoSize(t *testing.T) {
	t.Parallel()

	sizes := []tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "s", Size: 1000, W: 90, H: 60},
		&tg.PhotoSize{Type: "x", Size: 50000, W: 800, H: 600},
		&tg.PhotoSizeProgressive{Type: "y", Sizes: []int{1000, 120000}, W: 1280, H: 960},
	}

	thumb, size, w, h := largestPhotoSize(sizes)
	if thumb != "y" || size != 120000 || w != 1280 || h != 960 {
		t.Errorf("largestPhotoSize = (%q, %d, %d, %d), want (y, 120000, 1280, 960)", thumb, size, w, h)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	if got := truncateRunes("короткий", 100); got != "короткий" {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("привет мир", 6); got != "привет" {
		t.Errorf("truncateRunes = %q, want %q", got, "привет")
	}
}
