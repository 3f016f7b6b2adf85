package backup

import (
	"testing"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/peersmgr"
)

func TestAdmit(t *testing.T) {
	t.Parallel()

	env := config.EnvConfig{
		ChatTypes:          []string{"private", "channels"},
		GlobalIncludeIDs:   []int64{-100200},
		GlobalExcludeIDs:   []int64{42, -100200300},
		PrivateIncludeIDs:  []int64{77},
		PrivateExcludeIDs:  []int64{88},
		GroupsIncludeIDs:   []int64{-555},
		ChannelsExcludeIDs: []int64{-1000000000999},
	}

	user := func(id int64) peersmgr.DialogRef {
		return peersmgr.DialogRef{MarkedID: id, Kind: peersmgr.DialogKindUser}
	}
	group := func(id int64) peersmgr.DialogRef {
		return peersmgr.DialogRef{MarkedID: id, Kind: peersmgr.DialogKindChat}
	}
	channel := func(id int64, megagroup bool) peersmgr.DialogRef {
		return peersmgr.DialogRef{MarkedID: id, Kind: peersmgr.DialogKindChannel, Megagroup: megagroup}
	}

	testCases := []struct {
		name string
		ref  peersmgr.DialogRef
		want verdict
	}{
		{"private allowed by chat types", user(101), verdictKeep},
		{"global exclude wins over private include", user(42), verdictDelete},
		{"private exclude deletes", user(88), verdictDelete},
		{"private include redundant but kept", user(77), verdictKeep},
		{"basic group dropped silently", group(-9000), verdictDrop},
		{"group include overrides disabled type", group(-555), verdictKeep},
		{"global include overrides disabled type", group(-100200), verdictKeep},
		{"channel allowed by chat types", channel(-1000000000111, false), verdictKeep},
		{"channel exclude deletes", channel(-1000000000999, false), verdictDelete},
		{"megagroup counts as group, dropped", channel(-1000000000222, true), verdictDrop},
		{"global exclude on group deletes", group(-100200300), verdictDelete},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := admit(env, tc.ref); got != tc.want {
				t.Errorf("admit(%d) = %v, want %v", tc.ref.MarkedID, got, tc.want)
			}
		})
	}
}

func TestAdmitExcludeBeatsInclude(t *testing.T) {
	t.Parallel()

	env := config.EnvConfig{
		ChatTypes:         []string{"private"},
		GlobalIncludeIDs:  []int64{10},
		PrivateExcludeIDs: []int64{10},
	}
	ref := peersmgr.DialogRef{MarkedID: 10, Kind: peersmgr.DialogKindUser}
	if got := admit(env, ref); got != verdictDelete {
		t.Errorf("admit = %v, want verdictDelete: type exclude is checked before global include", got)
	}
}

func TestIncludeListed(t *testing.T) {
	t.Parallel()

	env := config.EnvConfig{
		GlobalIncludeIDs:   []int64{1, 2},
		PrivateIncludeIDs:  []int64{2, 3},
		GroupsIncludeIDs:   []int64{-4},
		ChannelsIncludeIDs: []int64{-1000000000005, 1},
	}
	got := includeListed(env)
	want := []int64{1, 2, 3, -4, -1000000000005}
	if len(got) != len(want) {
		t.Fatalf("includeListed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("includeListed[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
