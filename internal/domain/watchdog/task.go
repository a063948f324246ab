// Задача наблюдения за одним аккаунтом: fetch → diff → act → persist.
// Состояние ретраев принадлежит задаче и умирает вместе с ней; между
// задачами ничего не разделяется, кроме инжектированных зависимостей.

package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-sessionguard/internal/domain/accounts"
	"telegram-sessionguard/internal/domain/alerts"
	"telegram-sessionguard/internal/domain/rules"
	"telegram-sessionguard/internal/infra/logger"
)

// Config — тайминги цикла сверки и лимит последовательных отказов.
type Config struct {
	// PollInterval — пауза между успешными тиками.
	PollInterval time.Duration
	// RetryBase — база линейной задержки: после n-го подряд отказа
	// задача спит RetryBase * n.
	RetryBase time.Duration
	// MaxRetries — число подряд идущих отказов, после которого задача
	// выключает мониторинг и завершается.
	MaxRetries int
	// Rescan — период пересканирования директории супервизором.
	Rescan time.Duration
	// StopGrace — сколько ждать кооперативной остановки задачи.
	StopGrace time.Duration
}

// Task — наблюдатель одного аккаунта. Создаётся супервизором; живёт, пока
// аккаунт существует, наблюдается и не исчерпал ретраи.
type Task struct {
	accountID  string
	dir        accounts.Directory
	pool       ConnectionPool
	rules      *rules.Engine
	dispatcher *alerts.Dispatcher
	cfg        Config

	// retries — счётчик подряд идущих отказов текущей задачи.
	retries int
}

// NewTask собирает задачу для аккаунта.
func NewTask(accountID string, dir accounts.Directory, pool ConnectionPool, eng *rules.Engine, d *alerts.Dispatcher, cfg Config) *Task {
	return &Task{
		accountID:  accountID,
		dir:        dir,
		pool:       pool,
		rules:      eng,
		dispatcher: d,
		cfg:        cfg,
	}
}

// Run крутит цикл сверки до остановки: отключённый мониторинг, удалённая
// запись, исчерпанные ретраи, потеря учётных данных или отмена контекста.
// По выходу отмечает соединение как свободное (без принудительного разрыва:
// выселение — дело пула).
func (t *Task) Run(ctx context.Context) {
	logger.Debug("watch task started", zap.String("account_id", t.accountID))
	defer logger.Debug("watch task finished", zap.String("account_id", t.accountID))
	defer t.pool.Release(t.accountID, false)

	for {
		if stop := t.tick(ctx); stop || ctx.Err() != nil {
			return
		}
		delay := t.cfg.PollInterval
		if t.retries > 0 {
			delay = t.cfg.RetryBase * time.Duration(t.retries)
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// tick — один проход сверки. Возвращает true, когда задача должна
// завершиться. Запись аккаунта перечитывается в начале каждого тика:
// команды оператора (выключение мониторинга, удаление) вступают в силу
// не позже следующего прохода.
func (t *Task) tick(ctx context.Context) (stop bool) {
	acc, err := t.dir.ByID(ctx, t.accountID)
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		// Запись удалена: разорвать соединение и уйти.
		t.pool.Release(t.accountID, true)
		return true
	case err != nil:
		return t.fail(ctx, nil, "read account", err)
	}

	if !acc.MonitoringEnabled {
		return true
	}

	if !acc.HasCredential() {
		// Наблюдать нечем: самовосстановление вместо вечного падения.
		if err := t.dir.SetMonitoring(ctx, t.accountID, false); err != nil {
			logger.Error("disable monitoring failed", zap.String("account_id", t.accountID), zap.Error(err))
		}
		t.alert(ctx, acc, alerts.SeverityWarning,
			"monitoring disabled: no stored credential for this account")
		return true
	}

	conn, err := t.pool.Acquire(ctx, t.accountID, acc.EncryptedSession)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			return t.credentialLost(ctx, acc)
		}
		return t.fail(ctx, acc, "acquire connection", err)
	}

	live, err := conn.Authorizations(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			return t.credentialLost(ctx, acc)
		}
		return t.fail(ctx, acc, "list authorizations", err)
	}

	working := acc.TrustedSet()
	var added []int64

	for _, s := range live {
		if s.Current {
			continue
		}
		if _, ok := working[s.Hash]; ok {
			continue
		}

		verdict := t.rules.Classify(observation(s), len(working))
		if verdict.Terminate {
			if err := conn.ResetAuthorization(ctx, s.Hash); err != nil {
				// Отпечаток остаётся недоверенным: следующий тик увидит
				// сессию снова и повторит попытку.
				logger.Error("authorization reset failed",
					zap.String("account_id", t.accountID),
					zap.Int64("session_hash", s.Hash),
					zap.Error(err))
				t.sessionAlert(ctx, acc, alerts.SeverityCritical, verdict.Rule, s,
					fmt.Sprintf("failed to revoke session flagged by rules: %v", err))
				continue
			}
			logger.Info("session revoked",
				zap.String("account_id", t.accountID),
				zap.Int64("session_hash", s.Hash),
				zap.String("rule", verdict.Rule))
			t.sessionAlert(ctx, acc, alerts.SeveritySecurity, verdict.Rule, s,
				"session revoked: "+verdict.Reason)
			continue
		}

		working[s.Hash] = struct{}{}
		added = append(added, s.Hash)
		t.sessionAlert(ctx, acc, alerts.SeverityInfo, "", s,
			"new session accepted as trusted")
	}

	// Батч-персист только при изменении рабочего множества. Старые
	// доверенные отпечатки не вычищаются: доверие снимает оператор,
	// а не транзиентное отсутствие сессии в живом списке.
	if len(added) > 0 {
		merged := append(append([]int64(nil), acc.TrustedHashes...), added...)
		if err := t.dir.ReplaceTrusted(ctx, t.accountID, merged); err != nil {
			return t.fail(ctx, acc, "persist trusted set", err)
		}
	}

	t.retries = 0
	return false
}

// credentialLost — провайдер отверг сохранённую сессию: стереть учётные
// данные (это же выключает мониторинг), разорвать соединение, уведомить.
func (t *Task) credentialLost(ctx context.Context, acc *accounts.Account) bool {
	if err := t.dir.ClearCredential(ctx, t.accountID); err != nil {
		logger.Error("clear credential failed", zap.String("account_id", t.accountID), zap.Error(err))
	}
	t.pool.Release(t.accountID, true)
	t.alert(ctx, acc, alerts.SeverityWarning,
		"stored credential rejected by provider; credential cleared, monitoring disabled")
	return true
}

// fail учитывает отказ тика. До исчерпания лимита задача продолжает жить
// и спит RetryBase*retries; на MaxRetries подряд — ровно один critical,
// мониторинг выключается, задача завершается.
func (t *Task) fail(ctx context.Context, acc *accounts.Account, op string, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	t.retries++
	logger.Warn("tick failed",
		zap.String("account_id", t.accountID),
		zap.String("op", op),
		zap.Int("retries", t.retries),
		zap.Error(err))
	if t.retries < t.cfg.MaxRetries {
		return false
	}
	if errSet := t.dir.SetMonitoring(ctx, t.accountID, false); errSet != nil {
		logger.Error("disable monitoring failed", zap.String("account_id", t.accountID), zap.Error(errSet))
	}
	t.alert(ctx, acc, alerts.SeverityCritical,
		fmt.Sprintf("monitoring disabled after %d consecutive failures (last: %s: %v)", t.retries, op, err))
	return true
}

func (t *Task) alert(ctx context.Context, acc *accounts.Account, sev alerts.Severity, msg string) {
	var phone string
	var owner int64
	if acc != nil {
		phone, owner = acc.Phone, acc.OwnerID
	}
	t.dispatcher.Dispatch(ctx, alerts.New(t.accountID, phone, owner, sev, msg))
}

func (t *Task) sessionAlert(ctx context.Context, acc *accounts.Account, sev alerts.Severity, rule string, s SessionInfo, msg string) {
	a := alerts.New(t.accountID, acc.Phone, acc.OwnerID, sev, msg)
	a.Rule = rule
	a.SessionHash = s.Hash
	a.Details = sessionDetails(s)
	t.dispatcher.Dispatch(ctx, a)
}

// sessionDetails — наблюдаемые атрибуты авторизации для журнала и доставки.
func sessionDetails(s SessionInfo) map[string]string {
	return map[string]string{
		"device":     s.DeviceModel,
		"platform":   s.Platform,
		"country":    s.Country,
		"ip":         s.IP,
		"created_at": s.CreatedAt.Format("2006-01-02 15:04:05 MST"),
	}
}

func observation(s SessionInfo) rules.Observation {
	return rules.Observation{
		Hash:        s.Hash,
		DeviceModel: s.DeviceModel,
		Platform:    s.Platform,
		Country:     s.Country,
		IP:          s.IP,
		CreatedAt:   s.CreatedAt,
		Current:     s.Current,
	}
}

// sleepCtx спит d с учётом отмены. Возвращает false при отмене контекста.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
