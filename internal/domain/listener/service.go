package listener

import (
	"context"
	"sync"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/domain/backup"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/config"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/infra/telegram/peersmgr"
	"github.com/calvinturbo/Telegram-Archive/internal/notify"
	"github.com/calvinturbo/Telegram-Archive/internal/store"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// albumFlushDelay — пауза ожидания остальных элементов альбома перед записью.
const albumFlushDelay = time.Second

// Service принимает апдейты Telegram и применяет их к архиву. Живёт на общей
// MTProto-сессии и никогда не разрывает её сам: соединением владеет раннер.
type Service struct {
	env       config.EnvConfig
	db        *store.Database
	peers     *peersmgr.Service
	proc      *backup.Processor
	pub       notify.Publisher
	protector *Protector
	albums    *albumBuffer
	stats     *stats

	mu      sync.Mutex
	tracked map[int64]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService собирает слушатель. Процессор сообщений общий с движком бэкапа:
// оба пути записи дают одинаковые строки.
func NewService(env config.EnvConfig, db *store.Database, peers *peersmgr.Service,
	proc *backup.Processor, pub notify.Publisher) *Service {
	s := &Service{
		env:       env,
		db:        db,
		peers:     peers,
		proc:      proc,
		pub:       pub,
		protector: NewProtector(env.MassOperationThreshold, time.Duration(env.MassOperationWindowSec)*time.Second),
		stats:     newStats(),
		tracked:   make(map[int64]struct{}),
	}
	s.albums = newAlbumBuffer(albumFlushDelay, s.flushAlbum)
	return s
}

// Attach регистрирует обработчики в диспетчере апдейтов gotd. Вызывается до
// подключения клиента.
func (s *Service) Attach(dispatcher tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		s.guard(func() { s.onNewMessage(ctx, e, u.Message) })
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		s.guard(func() { s.onNewMessage(ctx, e, u.Message) })
		return nil
	})
	dispatcher.OnEditMessage(func(ctx context.Context, _ tg.Entities, u *tg.UpdateEditMessage) error {
		s.guard(func() { s.onEditMessage(ctx, u.Message) })
		return nil
	})
	dispatcher.OnEditChannelMessage(func(ctx context.Context, _ tg.Entities, u *tg.UpdateEditChannelMessage) error {
		s.guard(func() { s.onEditMessage(ctx, u.Message) })
		return nil
	})
	dispatcher.OnDeleteMessages(func(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteMessages) error {
		s.guard(func() { s.onDeleteMessages(ctx, u.Messages) })
		return nil
	})
	dispatcher.OnDeleteChannelMessages(func(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
		s.guard(func() { s.onDeleteChannelMessages(ctx, u.ChannelID, u.Messages) })
		return nil
	})
}

// guard не даёт панике обработчика уронить цикл апдейтов: один сбойный
// апдейт не должен останавливать слушатель.
func (s *Service) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.add(func(sn *statsSnapshot) { sn.errors++ })
			logger.Error("listener: handler panic",
				zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Start загружает множество отслеживаемых чатов и отмечает слушатель активным.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	ids, err := s.db.GetChatIDs(s.ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, id := range ids {
		s.tracked[id] = struct{}{}
	}
	total := len(s.tracked)
	s.mu.Unlock()

	s.stats.markStart(time.Now().UTC())
	if err = s.db.SetMetadata(s.ctx, store.MetaListenerActiveSince,
		s.stats.startTime().Format(time.RFC3339)); err != nil {
		return err
	}
	logger.Infof("listener: started, tracking %d chats", total)
	return nil
}

// Stop сбрасывает буферы альбомов, снимает отметку активности и логирует
// накопленную статистику.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.albums.flushAll()

	// отметка снимается пустым значением: viewer показывает слушатель офлайн
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.SetMetadata(ctx, store.MetaListenerActiveSince, ""); err != nil {
		logger.Warnf("listener: clear active flag: %v", err)
	}

	s.logStats()
	logger.Info("listener: stopped")
}

// IsTracked сообщает, отслеживается ли чат.
func (s *Service) IsTracked(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[chatID]
	return ok
}

func (s *Service) track(chatID int64) {
	s.mu.Lock()
	s.tracked[chatID] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) logStats() {
	snap := s.stats.snapshot()
	logger.Infof("listener: stats since %s: new %d/%d, edits %d/%d, deletions %d/%d (skipped %d), albums %d, chat actions %d, errors %d",
		snap.start.Format(time.RFC3339),
		snap.newMessagesSaved, snap.newMessagesReceived,
		snap.editsApplied, snap.editsReceived,
		snap.deletionsApplied, snap.deletionsReceived, snap.deletionsSkipped,
		snap.albumsReceived, snap.chatActions, snap.errors)
	logger.Infof("listener: protector: %d applied, %d blocked, %d limits triggered, %d chats ever limited",
		snap.operationsApplied, snap.operationsBlocked, s.protector.Triggered(), len(s.protector.EverLimited()))
}

// publish отправляет событие viewer'у. Доставка best-effort, после записи.
func (s *Service) publish(ctx context.Context, event notify.Event) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ctx, event)
}
