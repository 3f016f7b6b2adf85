package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
)

// Runner — запускаемая планировщиком работа (полный проход бэкапа).
type Runner func(ctx context.Context)

// Service поминутно сверяет cron-выражение с локальным временем и запускает
// бэкап. Политика единственного экземпляра: если предыдущий проход ещё идёт,
// срабатывание пропускается с записью в лог.
type Service struct {
	expr     *Expression
	location *time.Location
	run      Runner

	running atomic.Bool
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService собирает планировщик. expr должен быть получен из Parse,
// location — таймзона оценки расписания (APP_TIMEZONE).
func NewService(expr *Expression, location *time.Location, run Runner) *Service {
	return &Service{
		expr:     expr,
		location: location,
		run:      run,
		now:      time.Now,
	}
}

// Start запускает цикл планировщика и немедленно выполняет первый проход:
// демон после рестарта не должен ждать ближайшего слота, чтобы догнать архив.
func (s *Service) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.trigger("startup")

	s.wg.Add(1)
	go s.loop()
	logger.Info("schedule: service started")
}

// Stop останавливает цикл и дожидается завершения активного прохода.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logger.Info("schedule: service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	for {
		now := s.now().In(s.location)
		// Спим до начала следующей минуты, чтобы каждая минута
		// проверялась ровно один раз.
		next := now.Truncate(time.Minute).Add(time.Minute)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}

		tick := s.now().In(s.location)
		if s.expr.Matches(tick) {
			s.trigger(tick.Format("2006-01-02 15:04"))
		}
	}
}

// trigger запускает проход в отдельной горутине, если предыдущий завершился.
func (s *Service) trigger(reason string) {
	if !s.running.CompareAndSwap(false, true) {
		logger.Warnf("schedule: skipping tick %s, previous run still active", reason)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		logger.Infof("schedule: backup run triggered (%s)", reason)
		s.run(s.ctx)
	}()
}

// IsRunning сообщает, выполняется ли проход в данный момент.
func (s *Service) IsRunning() bool { return s.running.Load() }
