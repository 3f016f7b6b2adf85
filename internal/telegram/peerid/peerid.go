// Package peerid — кодирование идентификаторов чатов в «маркированную» форму.
// Во всём приложении (БД, фильтры, конфиг, viewer) чат адресуется одним int64:
// пользователи — положительные id, обычные группы — отрицательные, каналы и
// супергруппы — со сдвигом -1000000000000. Граница преобразования единственная:
// id маркируется в момент выхода из типов gotd и размаркируется при обратном
// обращении к Telegram API.
package peerid

import "github.com/gotd/td/tg"

// channelMarkOffset — сдвиг для каналов/супергрупп (формат -100XXXXXXXXXX).
const channelMarkOffset int64 = -1000000000000

// FromUser возвращает маркированный id пользователя (совпадает с исходным).
func FromUser(id int64) int64 { return id }

// FromChat возвращает маркированный id обычной группы.
func FromChat(id int64) int64 { return -id }

// FromChannel возвращает маркированный id канала/супергруппы.
func FromChannel(id int64) int64 { return channelMarkOffset - id }

// FromPeer нормализует tg.PeerClass до маркированного id. Неизвестный тип — 0.
func FromPeer(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return FromUser(p.UserID)
	case *tg.PeerChat:
		return FromChat(p.ChatID)
	case *tg.PeerChannel:
		return FromChannel(p.ChannelID)
	default:
		return 0
	}
}

// IsUser сообщает, что маркированный id принадлежит пользователю.
func IsUser(marked int64) bool { return marked > 0 }

// IsChat сообщает, что маркированный id принадлежит обычной группе.
func IsChat(marked int64) bool { return marked < 0 && marked > channelMarkOffset }

// IsChannel сообщает, что маркированный id принадлежит каналу/супергруппе.
func IsChannel(marked int64) bool { return marked <= channelMarkOffset }

// ToUser возвращает исходный id пользователя.
func ToUser(marked int64) int64 { return marked }

// ToChat возвращает исходный id группы.
func ToChat(marked int64) int64 { return -marked }

// ToChannel возвращает исходный id канала.
func ToChannel(marked int64) int64 { return channelMarkOffset - marked }

// ToPeer восстанавливает tg.PeerClass из маркированного id (без access hash).
func ToPeer(marked int64) tg.PeerClass {
	switch {
	case IsUser(marked):
		return &tg.PeerUser{UserID: ToUser(marked)}
	case IsChat(marked):
		return &tg.PeerChat{ChatID: ToChat(marked)}
	default:
		return &tg.PeerChannel{ChannelID: ToChannel(marked)}
	}
}

// NormalizeChannelCandidate переводит «сырой» положительный id канала в маркированную
// форму. Используется viewer'ом для автокоррекции DISPLAY_CHAT_IDS, когда пользователь
// забыл префикс -100. Для уже маркированных значений возвращает аргумент как есть.
func NormalizeChannelCandidate(raw int64) int64 {
	if raw > 0 {
		return channelMarkOffset - raw
	}
	return raw
}
