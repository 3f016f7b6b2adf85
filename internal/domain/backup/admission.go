// Package backup — движок инкрементального резервного копирования: отбор
// диалогов, выгрузка истории, медиапайплайн, сверка правок/удалений и
// проверка целостности медиа.
package backup

import (
	"slices"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/peersmgr"
)

// verdict — результат отбора диалога.
type verdict int

const (
	// verdictKeep — диалог архивируется.
	verdictKeep verdict = iota
	// verdictDrop — диалог пропускается без последствий.
	verdictDrop
	// verdictDelete — диалог исключён явно: локальные данные подлежат удалению.
	verdictDelete
)

// admit применяет правила отбора к диалогу. Порядок фиксирован, выигрывает
// первое совпадение:
//  1. глобальный exclude → удалить локальные данные;
//  2. exclude по типу чата → удалить локальные данные;
//  3. глобальный include → архивировать;
//  4. include по типу чата → архивировать;
//  5. тип чата разрешён CHAT_TYPES → архивировать; иначе тихий пропуск.
func admit(env config.EnvConfig, ref peersmgr.DialogRef) verdict {
	id := ref.MarkedID
	chatType := ref.ChatType()
	typeInclude, typeExclude := typeLists(env, chatType)

	switch {
	case slices.Contains(env.GlobalExcludeIDs, id):
		return verdictDelete
	case slices.Contains(typeExclude, id):
		return verdictDelete
	case slices.Contains(env.GlobalIncludeIDs, id):
		return verdictKeep
	case slices.Contains(typeInclude, id):
		return verdictKeep
	case slices.Contains(env.ChatTypes, chatTypeToken(chatType)):
		return verdictKeep
	default:
		return verdictDrop
	}
}

// Admissible сообщает, архивируется ли диалог по текущим правилам отбора.
// Используется слушателем реального времени для допуска новых чатов.
func Admissible(env config.EnvConfig, ref peersmgr.DialogRef) bool {
	return admit(env, ref) == verdictKeep
}

func typeLists(env config.EnvConfig, chatType string) (include, exclude []int64) {
	switch chatType {
	case "private":
		return env.PrivateIncludeIDs, env.PrivateExcludeIDs
	case "group":
		return env.GroupsIncludeIDs, env.GroupsExcludeIDs
	case "channel":
		return env.ChannelsIncludeIDs, env.ChannelsExcludeIDs
	default:
		return nil, nil
	}
}

// chatTypeToken переводит тип чата в токен переменной CHAT_TYPES.
func chatTypeToken(chatType string) string {
	switch chatType {
	case "group":
		return "groups"
	case "channel":
		return "channels"
	default:
		return chatType
	}
}

// includeListed собирает все include-списки: id из них архивируются даже при
// отсутствии в перечислении диалогов.
func includeListed(env config.EnvConfig) []int64 {
	var ids []int64
	for _, list := range [][]int64{
		env.GlobalIncludeIDs, env.PrivateIncludeIDs, env.GroupsIncludeIDs, env.ChannelsIncludeIDs,
	} {
		for _, id := range list {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
