// Супервизор задач наблюдения: пересканирует директорию, держит по одной
// живой задаче на наблюдаемый аккаунт, пожинает завершившиеся и
// останавливает всё при shutdown с ограниченным grace-периодом.

package watchdog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"telegram-sessionguard/internal/domain/accounts"
	"telegram-sessionguard/internal/domain/alerts"
	"telegram-sessionguard/internal/domain/rules"
	"telegram-sessionguard/internal/infra/logger"
)

// taskHandle — ручка живой задачи: отмена и сигнал завершения.
type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor управляет множеством задач наблюдения. Один супервизор на
// процесс; Run вызывается ровно один раз.
type Supervisor struct {
	dir        accounts.Directory
	pool       ConnectionPool
	rules      *rules.Engine
	dispatcher *alerts.Dispatcher
	cfg        Config

	mu    sync.Mutex
	tasks map[string]*taskHandle

	// refresh будит цикл ресинка раньше таймера (ёмкость 1: слившиеся
	// запросы эквивалентны одному).
	refresh chan struct{}
}

// NewSupervisor собирает супервизор поверх общих зависимостей задач.
func NewSupervisor(dir accounts.Directory, pool ConnectionPool, eng *rules.Engine, d *alerts.Dispatcher, cfg Config) *Supervisor {
	return &Supervisor{
		dir:        dir,
		pool:       pool,
		rules:      eng,
		dispatcher: d,
		cfg:        cfg,
		tasks:      make(map[string]*taskHandle),
		refresh:    make(chan struct{}, 1),
	}
}

// Run держит флот задач в соответствии с директорией до отмены контекста.
// Возвращается после остановки всех задач (с учётом grace-периода).
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Rescan)
	defer ticker.Stop()

	s.resync(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.resync(ctx)
		case <-s.refresh:
			s.resync(ctx)
		}
	}
}

// Refresh просит супервизор пересканировать директорию немедленно
// (используется CLI после включения мониторинга, чтобы не ждать таймер).
func (s *Supervisor) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Stop останавливает задачу одного аккаунта и ждёт её завершения не дольше
// grace-периода. Отсутствие задачи — не ошибка.
func (s *Supervisor) Stop(accountID string) {
	s.mu.Lock()
	h, ok := s.tasks[accountID]
	if ok {
		delete(s.tasks, accountID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()
	s.await(accountID, h)
}

// resync приводит множество задач к списку наблюдаемых аккаунтов.
// Задачи аккаунтов, выпавших из списка, не убиваются отсюда: они сами
// замечают выключенный мониторинг при перечитывании записи.
func (s *Supervisor) resync(ctx context.Context) {
	monitored, err := s.dir.Monitored(ctx)
	if err != nil {
		logger.Error("directory rescan failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Пожинаем завершившиеся.
	for id, h := range s.tasks {
		select {
		case <-h.done:
			delete(s.tasks, id)
		default:
		}
	}

	for _, acc := range monitored {
		if _, running := s.tasks[acc.ID]; running {
			continue
		}
		s.spawnLocked(ctx, acc.ID)
	}
}

// spawnLocked запускает задачу аккаунта. Вызывается под mu.
func (s *Supervisor) spawnLocked(ctx context.Context, accountID string) {
	taskCtx, cancel := context.WithCancel(ctx)
	h := &taskHandle{cancel: cancel, done: make(chan struct{})}
	s.tasks[accountID] = h

	task := NewTask(accountID, s.dir, s.pool, s.rules, s.dispatcher, s.cfg)
	go func() {
		defer close(h.done)
		task.Run(taskCtx)
	}()
	logger.Info("watch task spawned", zap.String("account_id", accountID))
}

// stopAll отменяет все задачи и ждёт каждую в пределах grace-периода.
func (s *Supervisor) stopAll() {
	s.mu.Lock()
	handles := make(map[string]*taskHandle, len(s.tasks))
	for id, h := range s.tasks {
		handles[id] = h
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for id, h := range handles {
		s.await(id, h)
	}
}

// await ждёт завершения задачи, но не дольше StopGrace.
func (s *Supervisor) await(accountID string, h *taskHandle) {
	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		logger.Warn("watch task did not stop within grace period",
			zap.String("account_id", accountID),
			zap.Duration("grace", s.cfg.StopGrace))
	}
}
