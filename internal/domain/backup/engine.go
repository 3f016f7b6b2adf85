package backup

import (
	"context"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/peersmgr"
	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/store"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// reconcileBatchSize — размер пачки id при сверке правок/удалений.
const reconcileBatchSize = 100

// Engine выполняет один полный проход резервного копирования.
type Engine struct {
	env   config.EnvConfig
	api   *tg.Client
	db    *store.Database
	media *media.Store
	peers *peersmgr.Service
	proc  *Processor

	ownerID atomic.Int64
}

// NewEngine собирает движок бэкапа.
func NewEngine(env config.EnvConfig, api *tg.Client, db *store.Database, mediaStore *media.Store, peersSvc *peersmgr.Service) *Engine {
	return &Engine{
		env:   env,
		api:   api,
		db:    db,
		media: mediaStore,
		peers: peersSvc,
		proc:  NewProcessor(db, mediaStore, api, env.DownloadMedia),
	}
}

// Processor возвращает процессор сообщений (общий со слушателем).
func (e *Engine) Processor() *Processor { return e.proc }

// SetOwner фиксирует id владельца аккаунта после авторизации.
func (e *Engine) SetOwner(id int64) { e.ownerID.Store(id) }

// Run выполняет проход: отметка старта, перечисление и отбор диалогов,
// удаление исключённых, синхронизация каждого чата, проверка медиа.
// Ошибки отдельных чатов логируются и не прерывают проход.
func (e *Engine) Run(ctx context.Context) error {
	started := time.Now().UTC()
	logger.Info("backup: run started")

	if err := e.persistOwner(ctx); err != nil {
		return err
	}
	// Отметка ставится в начале прохода: даже прерванный проход сдвигает
	// точку «последней попытки» для статистики и диагностики.
	if err := e.db.SetMetadata(ctx, store.MetaLastBackupTime, started.Format(time.RFC3339)); err != nil {
		return errors.Wrap(err, "persist last backup time")
	}

	if err := e.peers.RefreshDialogs(ctx, e.api); err != nil {
		return errors.Wrap(err, "refresh dialogs")
	}
	keep, toDelete := e.selectDialogs(ctx, e.peers.Dialogs())

	for _, id := range toDelete {
		logger.Infof("backup: removing excluded chat %d", id)
		if err := e.db.DeleteChatAndRelatedData(ctx, id, e.media.Root()); err != nil {
			logger.Errorf("backup: delete chat %d: %v", id, err)
		}
	}

	synced := 0
	for _, ref := range keep {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.syncDialog(ctx, ref); err != nil {
			if wait, flood := tgerr.AsFloodWait(err); flood {
				logger.Warnf("backup: chat %d rate limited (%s), skipping for this run", ref.MarkedID, wait)
				continue
			}
			logger.Errorf("backup: sync chat %d: %v", ref.MarkedID, err)
			continue
		}
		synced++
	}

	if e.env.VerifyMedia {
		if err := e.verifyMedia(ctx); err != nil {
			logger.Errorf("backup: media verification: %v", err)
		}
	}

	logger.Infof("backup: run finished, %d/%d chats synced in %s", synced, len(keep), time.Since(started).Round(time.Second))
	return nil
}

// persistOwner записывает owner_id и дозаполняет is_outgoing у исторических
// сообщений владельца (записанных до того, как флаг стал известен).
func (e *Engine) persistOwner(ctx context.Context) error {
	owner := e.ownerID.Load()
	if owner == 0 {
		return errors.New("owner id is not set")
	}
	if err := e.db.SetMetadata(ctx, store.MetaOwnerID, strconv.FormatInt(owner, 10)); err != nil {
		return errors.Wrap(err, "persist owner id")
	}
	affected, err := e.db.BackfillIsOutgoing(ctx, owner)
	if err != nil {
		return errors.Wrap(err, "backfill is_outgoing")
	}
	if affected > 0 {
		logger.Infof("backup: marked %d historical messages as outgoing", affected)
	}
	return nil
}

// selectDialogs применяет правила отбора и дополняет список include-чатами,
// отсутствующими в перечислении. Порядок: приоритетные в порядке задания,
// остальные по убыванию последней активности.
func (e *Engine) selectDialogs(ctx context.Context, refs []peersmgr.DialogRef) (keep []peersmgr.DialogRef, toDelete []int64) {
	seen := make(map[int64]bool, len(refs))
	for _, ref := range refs {
		seen[ref.MarkedID] = true
		switch admit(e.env, ref) {
		case verdictKeep:
			keep = append(keep, ref)
		case verdictDelete:
			toDelete = append(toDelete, ref.MarkedID)
		}
	}

	for _, id := range includeListed(e.env) {
		if seen[id] {
			continue
		}
		ref, err := e.peers.ResolveDialogRef(ctx, id)
		if err != nil {
			logger.Warnf("backup: include-listed chat %d not resolvable: %v", id, err)
			continue
		}
		keep = append(keep, ref)
	}

	slices.SortStableFunc(keep, func(a, b peersmgr.DialogRef) int {
		pa, pb := slices.Index(e.env.PriorityChatIDs, a.MarkedID), slices.Index(e.env.PriorityChatIDs, b.MarkedID)
		switch {
		case pa >= 0 && pb >= 0:
			return pa - pb
		case pa >= 0:
			return -1
		case pb >= 0:
			return 1
		case a.LastActivity.After(b.LastActivity):
			return -1
		case b.LastActivity.After(a.LastActivity):
			return 1
		default:
			return 0
		}
	})
	return keep, toDelete
}

// syncDialog архивирует один чат: карточка и аватар, инкрементальная
// выгрузка истории, продвижение курсора, сверка правок/удалений.
func (e *Engine) syncDialog(ctx context.Context, ref peersmgr.DialogRef) error {
	chatID := ref.MarkedID
	if err := e.db.UpsertChat(ctx, ChatRecord(ref)); err != nil {
		return errors.Wrap(err, "upsert chat")
	}

	peer, err := e.peers.ResolveMarkedPeer(ctx, chatID)
	if err != nil {
		return errors.Wrap(err, "resolve peer")
	}
	e.ensureAvatar(ctx, ref, peer)

	cursor, err := e.db.GetLastMessageID(ctx, chatID)
	if err != nil {
		return err
	}

	batchSize := e.env.BatchSize
	var newCount int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page, fetchErr := fetchHistoryAscending(ctx, e.api, peer, cursor, batchSize)
		if fetchErr != nil {
			return fetchErr
		}
		if len(page.messages) == 0 {
			break
		}

		e.proc.UpsertUsers(ctx, page.users)

		batch := make([]*store.Message, 0, len(page.messages))
		reactionsByID := make(map[int64][]store.Reaction)
		for _, msg := range page.messages {
			record, reactions, procErr := e.proc.Process(ctx, chatID, msg, true)
			if procErr != nil {
				return errors.Wrapf(procErr, "process message %d", msg.ID)
			}
			batch = append(batch, record)
			if len(reactions) > 0 {
				reactionsByID[record.ID] = reactions
			}
			if record.ID > cursor {
				cursor = record.ID
			}
		}

		if err = e.db.InsertMessagesBatch(ctx, batch); err != nil {
			return errors.Wrap(err, "insert batch")
		}
		for msgID, reactions := range reactionsByID {
			if err = e.db.ReplaceReactions(ctx, chatID, msgID, reactions); err != nil {
				return errors.Wrapf(err, "replace reactions for %d", msgID)
			}
		}
		newCount += int64(len(batch))

		if len(page.messages) < batchSize {
			break
		}
	}

	if newCount > 0 {
		logger.Infof("backup: chat %d: %d new messages", chatID, newCount)
	}
	if err = e.db.UpdateSyncStatus(ctx, chatID, cursor, newCount); err != nil {
		return errors.Wrap(err, "update sync status")
	}

	if e.env.SyncDeletionsEdits {
		if err = e.reconcile(ctx, chatID, peer); err != nil {
			return errors.Wrap(err, "reconcile")
		}
	}
	return nil
}

// ensureAvatar скачивает текущий аватар, если файла для актуального photo_id
// ещё нет. Ошибки не фатальны.
func (e *Engine) ensureAvatar(ctx context.Context, ref peersmgr.DialogRef, peer tg.InputPeerClass) {
	if ref.PhotoID == 0 {
		return
	}
	kind := media.AvatarChats
	if ref.Kind == peersmgr.DialogKindUser {
		kind = media.AvatarUsers
	}
	if e.media.HasAvatar(kind, ref.MarkedID, ref.PhotoID) {
		return
	}

	dest, err := e.media.AvatarDownloadPath(kind, ref.MarkedID, ref.PhotoID)
	if err != nil {
		logger.Warnf("backup: avatar path for %d: %v", ref.MarkedID, err)
		return
	}
	location := &tg.InputPeerPhotoFileLocation{Peer: peer, PhotoID: ref.PhotoID, Big: true}
	if err = e.proc.downloadTo(ctx, location, dest); err != nil {
		logger.Warnf("backup: download avatar for %d: %v", ref.MarkedID, err)
	}
}

// reconcile сверяет локальные сообщения с Telegram: исчезнувшие удаляются,
// правки применяются по отличающемуся edit_date.
func (e *Engine) reconcile(ctx context.Context, chatID int64, peer tg.InputPeerClass) error {
	local, err := e.db.GetMessagesSyncData(ctx, chatID)
	if err != nil {
		return err
	}
	if len(local) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(local))
	for id := range local {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var deleted, edited int
	for start := 0; start < len(ids); start += reconcileBatchSize {
		end := min(start+reconcileBatchSize, len(ids))
		batch := ids[start:end]

		upstream, fetchErr := fetchMessagesByIDs(ctx, e.api, peer, batch)
		if fetchErr != nil {
			return fetchErr
		}
		current := make(map[int64]*tg.Message, len(upstream))
		for _, msg := range upstream {
			current[int64(msg.ID)] = msg
		}

		for _, id := range batch {
			msg, exists := current[id]
			if !exists {
				if delErr := e.db.DeleteMessage(ctx, chatID, id); delErr != nil {
					return delErr
				}
				deleted++
				continue
			}
			if msg.EditDate == 0 {
				continue
			}
			editDate := time.Unix(int64(msg.EditDate), 0).UTC()
			if !editDate.Equal(local[id]) {
				if editErr := e.db.UpdateMessageText(ctx, chatID, id, msg.Message, editDate); editErr != nil {
					return editErr
				}
				edited++
			}
		}
	}

	if deleted > 0 || edited > 0 {
		logger.Infof("backup: chat %d reconciled: %d deleted, %d edited", chatID, deleted, edited)
	}
	return nil
}

func ChatRecord(ref peersmgr.DialogRef) *store.Chat {
	chat := &store.Chat{
		ID:   ref.MarkedID,
		Type: ref.ChatType(),
	}
	if ref.Title != "" {
		title := ref.Title
		chat.Title = &title
	}
	if ref.Username != "" {
		username := ref.Username
		chat.Username = &username
	}
	if ref.FirstName != "" {
		firstName := ref.FirstName
		chat.FirstName = &firstName
	}
	if ref.LastName != "" {
		lastName := ref.LastName
		chat.LastName = &lastName
	}
	if ref.Phone != "" {
		phone := ref.Phone
		chat.Phone = &phone
	}
	if ref.ParticipantsCount > 0 {
		count := ref.ParticipantsCount
		chat.ParticipantsCount = &count
	}
	return chat
}
