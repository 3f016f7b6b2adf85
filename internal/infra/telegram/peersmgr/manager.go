// Package peersmgr — обёртка над gotd peers.Manager с персистентным кэшем на bbolt.
// Сервис отвечает за:
//   - открытие/закрытие bbolt-базы кэша пиров;
//   - подготовку менеджера пиров и доступ к нему;
//   - загрузку сохранённых peers из файла при старте;
//   - снимок диалогов с маркированными id для движка бэкапа.
package peersmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/storage"
	"github.com/calvinturbo/Telegram-Archive/internal/telegram/peerid"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

const (
	peersBucketName       = "peers"
	dialogsSnapshotBucket = "dialogs_snapshot"
	dialogsSnapshotKey    = "v1"
	dbOpenTimeout         = time.Second
)

var (
	peersBucketBytes        = []byte(peersBucketName)
	dialogsSnapshotBuckets  = []byte(dialogsSnapshotBucket)
	dialogsSnapshotKeyBytes = []byte(dialogsSnapshotKey)
)

// DialogKind — тип сущности диалога.
type DialogKind string

const (
	DialogKindUser    DialogKind = "user"
	DialogKindChat    DialogKind = "chat"
	DialogKindChannel DialogKind = "channel"
)

// DialogRef — строка снимка диалогов. MarkedID — маркированный идентификатор
// (пользователи положительные, группы и каналы отрицательные), единый ключ
// чата во всём архиве. Поля сущности дублируются из ответа перечисления,
// чтобы движку бэкапа не требовались повторные резолвы.
type DialogRef struct {
	MarkedID          int64      `json:"marked_id"`
	Kind              DialogKind `json:"kind"`
	Title             string     `json:"title,omitempty"`
	Username          string     `json:"username,omitempty"`
	FirstName         string     `json:"first_name,omitempty"`
	LastName          string     `json:"last_name,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	IsBot             bool       `json:"is_bot,omitempty"`
	Megagroup         bool       `json:"megagroup,omitempty"`
	ParticipantsCount int64      `json:"participants_count,omitempty"`
	PhotoID           int64      `json:"photo_id,omitempty"`
	TopMessage        int        `json:"top_message,omitempty"`
	LastActivity      time.Time  `json:"last_activity,omitempty"`
	Pinned            bool       `json:"pinned,omitempty"`
}

// ChatType классифицирует диалог для отбора и таблицы chats:
// private | group | channel. Мегагруппы считаются группами.
func (r DialogRef) ChatType() string {
	switch r.Kind {
	case DialogKindUser:
		return "private"
	case DialogKindChat:
		return "group"
	default:
		if r.Megagroup {
			return "group"
		}
		return "channel"
	}
}

// Service инкапсулирует менеджер пиров и bbolt-хранилище.
type Service struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	Mgr   *peers.Manager

	mu      sync.RWMutex
	dialogs []DialogRef
}

// New создаёт сервис поверх bbolt и gotd peers.Manager. После открытия файла
// загружается сохранённый снимок диалогов; сетевых запросов здесь нет.
func New(api *tg.Client, dbPath string) (*Service, error) {
	if api == nil {
		return nil, errors.New("peersmgr: api client is nil")
	}
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return nil, errors.New("peersmgr: db path is empty")
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("peersmgr: %w", err)
	}

	db, err := bbolt.Open(path, storage.DefaultFilePerm, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("peersmgr: open db: %w", err)
	}

	service := &Service{
		db:    db,
		store: bboltdb.NewPeerStorage(db, peersBucketBytes),
		Mgr:   (peers.Options{}).Build(api),
	}
	if loadErr := service.loadDialogsSnapshot(); loadErr != nil {
		_ = db.Close()
		return nil, loadErr
	}
	return service, nil
}

// Close закрывает файл базы данных.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store возвращает персистентное хранилище пиров (для UpdateHook).
func (s *Service) Store() contribstorage.PeerStorage { return s.store }

// Dialogs возвращает копию текущего снимка диалогов.
func (s *Service) Dialogs() []DialogRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.dialogs) == 0 {
		return nil
	}
	result := make([]DialogRef, len(s.dialogs))
	copy(result, s.dialogs)
	return result
}

// LoadFromStorage прогружает сохранённые peers из bbolt в оперативный менеджер.
// Повреждённый кэш (несовместимый формат после обновления) сбрасывается.
func (s *Service) LoadFromStorage(ctx context.Context) error {
	iter, exists, err := s.iterateStoredPeers(ctx)
	if err != nil {
		if isJSONUnmarshalError(err) {
			_ = s.resetPeersBucket()
			return nil
		}
		return fmt.Errorf("peersmgr: iterate stored peers: %w", err)
	}
	if !exists {
		return nil
	}
	defer func() { _ = iter.Close() }()

	var users []tg.UserClass
	var chats []tg.ChatClass
	for iter.Next(ctx) {
		value := iter.Value()
		switch value.Key.Kind {
		case dialogs.User:
			user := value.User
			if user == nil {
				user = &tg.User{ID: value.Key.ID, AccessHash: value.Key.AccessHash}
			}
			users = append(users, user)
		case dialogs.Chat:
			chat := value.Chat
			if chat == nil {
				chat = &tg.Chat{ID: value.Key.ID}
			}
			chats = append(chats, chat)
		case dialogs.Channel:
			channel := value.Channel
			if channel == nil {
				channel = &tg.Channel{ID: value.Key.ID, AccessHash: value.Key.AccessHash}
			}
			chats = append(chats, channel)
		}
	}
	if err = iter.Err(); err != nil {
		return fmt.Errorf("peersmgr: iterate stored peers: %w", err)
	}
	if len(users) == 0 && len(chats) == 0 {
		return nil
	}
	return s.Mgr.Apply(ctx, users, chats)
}

// ApplyEntities прогружает сущности из апдейта в менеджер пиров.
func (s *Service) ApplyEntities(ctx context.Context, entities tg.Entities) error {
	if len(entities.Users) == 0 && len(entities.Chats) == 0 {
		return nil
	}

	users := make([]tg.UserClass, 0, len(entities.Users))
	for _, u := range entities.Users {
		if u != nil {
			users = append(users, u)
		}
	}
	chats := make([]tg.ChatClass, 0, len(entities.Chats))
	for _, ch := range entities.Chats {
		if ch != nil {
			chats = append(chats, ch)
		}
	}
	if len(users) == 0 && len(chats) == 0 {
		return nil
	}
	return s.Mgr.Apply(ctx, users, chats)
}

// ResolveMarkedPeer возвращает tg.InputPeerClass по маркированному id.
// Граница конверсии идентификаторов: всё выше этого вызова оперирует только
// маркированной формой.
func (s *Service) ResolveMarkedPeer(ctx context.Context, markedID int64) (tg.InputPeerClass, error) {
	switch {
	case peerid.IsUser(markedID):
		user, err := s.Mgr.ResolveUserID(ctx, peerid.ToUser(markedID))
		if err != nil {
			return nil, fmt.Errorf("resolve user %d: %w", markedID, err)
		}
		return user.InputPeer(), nil
	case peerid.IsChannel(markedID):
		channel, err := s.Mgr.ResolveChannelID(ctx, peerid.ToChannel(markedID))
		if err != nil {
			return nil, fmt.Errorf("resolve channel %d: %w", markedID, err)
		}
		return channel.InputPeer(), nil
	default:
		chat, err := s.Mgr.ResolveChatID(ctx, peerid.ToChat(markedID))
		if err != nil {
			return nil, fmt.Errorf("resolve chat %d: %w", markedID, err)
		}
		return chat.InputPeer(), nil
	}
}

// ResolveDialogRef строит DialogRef для чата, отсутствующего в перечислении
// (include-списки могут называть архивные или скрытые диалоги).
func (s *Service) ResolveDialogRef(ctx context.Context, markedID int64) (DialogRef, error) {
	ref := DialogRef{MarkedID: markedID}
	switch {
	case peerid.IsUser(markedID):
		user, err := s.Mgr.ResolveUserID(ctx, peerid.ToUser(markedID))
		if err != nil {
			return ref, fmt.Errorf("resolve user %d: %w", markedID, err)
		}
		raw := user.Raw()
		ref.Kind = DialogKindUser
		ref.Title = strings.TrimSpace(raw.FirstName + " " + raw.LastName)
		ref.Username = raw.Username
		ref.FirstName = raw.FirstName
		ref.LastName = raw.LastName
		ref.Phone = raw.Phone
		ref.IsBot = raw.Bot
		if photo, ok := raw.Photo.(*tg.UserProfilePhoto); ok {
			ref.PhotoID = photo.PhotoID
		}
	case peerid.IsChannel(markedID):
		channel, err := s.Mgr.ResolveChannelID(ctx, peerid.ToChannel(markedID))
		if err != nil {
			return ref, fmt.Errorf("resolve channel %d: %w", markedID, err)
		}
		raw := channel.Raw()
		ref.Kind = DialogKindChannel
		ref.Title = raw.Title
		ref.Username = raw.Username
		ref.Megagroup = raw.Megagroup
		ref.ParticipantsCount = int64(raw.ParticipantsCount)
		if photo, ok := raw.Photo.(*tg.ChatPhoto); ok {
			ref.PhotoID = photo.PhotoID
		}
	default:
		chat, err := s.Mgr.ResolveChatID(ctx, peerid.ToChat(markedID))
		if err != nil {
			return ref, fmt.Errorf("resolve chat %d: %w", markedID, err)
		}
		raw := chat.Raw()
		ref.Kind = DialogKindChat
		ref.Title = raw.Title
		ref.ParticipantsCount = int64(raw.ParticipantsCount)
		if photo, ok := raw.Photo.(*tg.ChatPhoto); ok {
			ref.PhotoID = photo.PhotoID
		}
	}
	return ref, nil
}

// RefreshDialogs выгружает полный список диалогов, обновляет менеджер пиров
// и перезаписывает снимок.
func (s *Service) RefreshDialogs(ctx context.Context, api *tg.Client) error {
	client := s.selectAPI(api)
	if client == nil {
		return errors.New("peersmgr: telegram client is nil")
	}

	fetched, err := fetchDialogs(ctx, client)
	if err != nil {
		return fmt.Errorf("peersmgr: fetch dialogs: %w", err)
	}
	if err = s.Mgr.Apply(ctx, fetched.Users, fetched.Chats); err != nil {
		return fmt.Errorf("peersmgr: apply entities: %w", err)
	}
	if err = s.saveDialogsSnapshot(buildDialogRefs(fetched)); err != nil {
		return fmt.Errorf("peersmgr: persist dialogs snapshot: %w", err)
	}
	return nil
}

func (s *Service) selectAPI(explicit *tg.Client) *tg.Client {
	if explicit != nil {
		return explicit
	}
	if s.Mgr != nil {
		return s.Mgr.API()
	}
	return nil
}

// buildDialogRefs собирает снимок с маркированными id и данными сущностей из
// ответа. Папки пропускаются: бэкапу интересны только чаты.
func buildDialogRefs(fetched *tg.MessagesDialogs) []DialogRef {
	users := make(map[int64]*tg.User)
	for _, entity := range fetched.Users {
		if user, ok := entity.(*tg.User); ok {
			users[user.ID] = user
		}
	}
	chats := make(map[int64]*tg.Chat)
	channels := make(map[int64]*tg.Channel)
	for _, entity := range fetched.Chats {
		switch item := entity.(type) {
		case *tg.Chat:
			chats[item.ID] = item
		case *tg.Channel:
			channels[item.ID] = item
		}
	}

	refs := make([]DialogRef, 0, len(fetched.Dialogs))
	for _, dialog := range fetched.Dialogs {
		dlg, ok := dialog.(*tg.Dialog)
		if !ok {
			continue
		}

		ref := DialogRef{
			MarkedID:   peerid.FromPeer(dlg.Peer),
			TopMessage: dlg.TopMessage,
			Pinned:     dlg.Pinned,
		}
		if date := messageDate(fetched.Messages, dlg.TopMessage); date > 0 {
			ref.LastActivity = time.Unix(int64(date), 0).UTC()
		}

		switch peer := dlg.Peer.(type) {
		case *tg.PeerUser:
			ref.Kind = DialogKindUser
			user := users[peer.UserID]
			if user == nil {
				continue
			}
			ref.Title = strings.TrimSpace(user.FirstName + " " + user.LastName)
			ref.Username = user.Username
			ref.FirstName = user.FirstName
			ref.LastName = user.LastName
			ref.Phone = user.Phone
			ref.IsBot = user.Bot
			if photo, okPhoto := user.Photo.(*tg.UserProfilePhoto); okPhoto {
				ref.PhotoID = photo.PhotoID
			}
		case *tg.PeerChat:
			ref.Kind = DialogKindChat
			chat := chats[peer.ChatID]
			if chat == nil {
				continue
			}
			ref.Title = chat.Title
			ref.ParticipantsCount = int64(chat.ParticipantsCount)
			if photo, okPhoto := chat.Photo.(*tg.ChatPhoto); okPhoto {
				ref.PhotoID = photo.PhotoID
			}
		case *tg.PeerChannel:
			ref.Kind = DialogKindChannel
			channel := channels[peer.ChannelID]
			if channel == nil {
				continue
			}
			ref.Title = channel.Title
			ref.Username = channel.Username
			ref.Megagroup = channel.Megagroup
			ref.ParticipantsCount = int64(channel.ParticipantsCount)
			if photo, okPhoto := channel.Photo.(*tg.ChatPhoto); okPhoto {
				ref.PhotoID = photo.PhotoID
			}
		default:
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func (s *Service) iterateStoredPeers(ctx context.Context) (contribstorage.PeerIterator, bool, error) {
	exists := false
	if err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(peersBucketBytes) != nil
		return nil
	}); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	iter, err := s.store.Iterate(ctx)
	if err != nil {
		return nil, false, err
	}
	return iter, true, nil
}

func isJSONUnmarshalError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	return strings.Contains(err.Error(), "json:")
}

func (s *Service) resetPeersBucket() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(peersBucketBytes); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peersBucketBytes)
		return err
	})
}

func (s *Service) loadDialogsSnapshot() error {
	var data []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(dialogsSnapshotBuckets)
		if bucket == nil {
			return nil
		}
		value := bucket.Get(dialogsSnapshotKeyBytes)
		if len(value) == 0 {
			return nil
		}
		data = append(data, value...)
		return nil
	}); err != nil {
		return fmt.Errorf("peersmgr: load snapshot: %w", err)
	}

	if len(data) == 0 {
		s.setDialogs(nil)
		return nil
	}
	var refs []DialogRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return fmt.Errorf("peersmgr: decode snapshot: %w", err)
	}
	s.setDialogs(refs)
	return nil
}

func (s *Service) saveDialogsSnapshot(refs []DialogRef) error {
	payload, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("peersmgr: marshal snapshot: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, bucketErr := tx.CreateBucketIfNotExists(dialogsSnapshotBuckets)
		if bucketErr != nil {
			return bucketErr
		}
		return bucket.Put(dialogsSnapshotKeyBytes, payload)
	})
	if err != nil {
		return fmt.Errorf("peersmgr: save snapshot: %w", err)
	}
	s.setDialogs(refs)
	return nil
}

func (s *Service) setDialogs(refs []DialogRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(refs) == 0 {
		s.dialogs = nil
		return
	}
	s.dialogs = make([]DialogRef, len(refs))
	copy(s.dialogs, refs)
}
