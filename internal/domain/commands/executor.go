// Package commands — операции операторской консоли. Executor связывает
// директорию аккаунтов, vault, интерактивный вход, супервизор, пул и журнал
// алертов; авторизацию не выполняет — границей доступа служит терминал
// оператора.
package commands

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	tgadapter "telegram-sessionguard/internal/adapters/telegram"
	"telegram-sessionguard/internal/domain/accounts"
	"telegram-sessionguard/internal/domain/alerts"
	"telegram-sessionguard/internal/domain/rules"
	"telegram-sessionguard/internal/domain/watchdog"
	"telegram-sessionguard/internal/infra/logger"
	"telegram-sessionguard/internal/infra/vault"
)

// Executor выполняет команды оператора.
type Executor struct {
	dir     accounts.Directory
	vault   *vault.Vault
	factory *tgadapter.Factory
	sup     *watchdog.Supervisor
	pool    watchdog.ConnectionPool
	rules   *rules.Engine
	journal *alerts.Journal
	// ownerUID — чат, которому доставляются алерты добавленных отсюда
	// аккаунтов (оператор сервиса).
	ownerUID int64
}

// NewExecutor собирает Executor.
func NewExecutor(
	dir accounts.Directory,
	v *vault.Vault,
	factory *tgadapter.Factory,
	sup *watchdog.Supervisor,
	pool watchdog.ConnectionPool,
	eng *rules.Engine,
	journal *alerts.Journal,
	ownerUID int64,
) *Executor {
	return &Executor{
		dir:      dir,
		vault:    v,
		factory:  factory,
		sup:      sup,
		pool:     pool,
		rules:    eng,
		journal:  journal,
		ownerUID: ownerUID,
	}
}

// AddAccount проводит интерактивный вход по номеру, шифрует сессию и
// регистрирует аккаунт с включённым мониторингом. Открытая сессия живёт
// только в локальных переменных этого вызова.
func (e *Executor) AddAccount(ctx context.Context, phone string) (*accounts.Account, error) {
	sessionPlain, profile, err := e.factory.Login(ctx, phone)
	if err != nil {
		return nil, errors.Wrap(err, "login")
	}

	encrypted, err := e.vault.Encrypt(sessionPlain)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt session")
	}

	acc := &accounts.Account{
		ID:                uuid.NewString(),
		OwnerID:           e.ownerUID,
		Phone:             profile.Phone,
		FirstName:         profile.FirstName,
		EncryptedSession:  encrypted,
		MonitoringEnabled: true,
		TrustedHashes:     []int64{},
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.dir.Insert(ctx, acc); err != nil {
		return nil, err
	}

	logger.Info("account registered",
		zap.String("account_id", acc.ID),
		zap.String("phone", acc.Phone))
	e.sup.Refresh()
	return acc, nil
}

// ListAccounts возвращает аккаунты оператора.
func (e *Executor) ListAccounts(ctx context.Context) ([]*accounts.Account, error) {
	return e.dir.ByOwner(ctx, e.ownerUID)
}

// Inspect возвращает полную запись аккаунта для отладочного дампа.
func (e *Executor) Inspect(ctx context.Context, id string) (*accounts.Account, error) {
	return e.dir.ByID(ctx, id)
}

// SetMonitoring переключает мониторинг. Включение будит супервизор, чтобы
// задача стартовала без ожидания таймера; выключение останавливает задачу
// синхронно (с grace-периодом).
func (e *Executor) SetMonitoring(ctx context.Context, id string, enabled bool) error {
	if err := e.dir.SetMonitoring(ctx, id, enabled); err != nil {
		return err
	}
	if enabled {
		e.sup.Refresh()
	} else {
		e.sup.Stop(id)
	}
	return nil
}

// DeleteAccount останавливает задачу, разрывает пулированное соединение и
// удаляет запись.
func (e *Executor) DeleteAccount(ctx context.Context, id string) error {
	e.sup.Stop(id)
	e.pool.Release(id, true)
	if err := e.dir.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info("account deleted", zap.String("account_id", id))
	return nil
}

// Rules возвращает движок правил для чтения и настройки из CLI.
func (e *Executor) Rules() *rules.Engine {
	return e.rules
}

// RecentAlerts возвращает последние n алертов из журнала.
func (e *Executor) RecentAlerts(n int) ([]alerts.Alert, error) {
	return e.journal.Recent(n)
}

// ExportAlerts выгружает весь журнал алертов в JSON-файл.
func (e *Executor) ExportAlerts(path string) error {
	return e.journal.ExportJSON(path)
}
