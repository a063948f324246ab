// Package watchdog — цикл сверки авторизованных сессий наблюдаемых
// аккаунтов: чтение живого списка у провайдера, дифф с доверенным
// множеством, отзыв по правилам, батч-персист в конце тика.
// Контракты провайдера и пула объявлены здесь, чтобы инфраструктурные
// реализации зависели от домена, а не наоборот.
package watchdog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Ошибки получения соединения. Пул обязан приводить отказы провайдера
// к этим sentinel-значениям: от них зависит, чинится ли задача ретраем.
var (
	// ErrNotAuthorized — провайдер отверг сохранённые учётные данные
	// (сессия отозвана или протухла). Ретраем не лечится: учётные данные
	// сбрасываются, мониторинг выключается.
	ErrNotAuthorized = errors.New("watchdog: credential not authorized")
	// ErrUnavailable — транзиентный отказ (сеть, dial, flood-wait).
	// Лечится ретраем с линейной задержкой.
	ErrUnavailable = errors.New("watchdog: provider unavailable")
)

// SessionInfo — одна авторизация аккаунта, как её сообщает провайдер.
// Current помечает авторизацию самого наблюдающего клиента: она никогда
// не классифицируется и не отзывается.
type SessionInfo struct {
	Hash        int64
	DeviceModel string
	Platform    string
	Country     string
	IP          string
	CreatedAt   time.Time
	Current     bool
}

// Connection — живое соединение с аккаунтом у провайдера.
type Connection interface {
	// Authorizations возвращает полный список активных авторизаций.
	Authorizations(ctx context.Context) ([]SessionInfo, error)
	// ResetAuthorization отзывает авторизацию по отпечатку.
	ResetAuthorization(ctx context.Context, hash int64) error
}

// ConnectionPool выдаёт соединения задачам. Acquire обязана возвращать
// ErrNotAuthorized / ErrUnavailable согласно таксономии выше.
type ConnectionPool interface {
	Acquire(ctx context.Context, accountID, encryptedSession string) (Connection, error)
	// Release — рекомендательная отметка: disconnect=true выселяет и
	// закрывает соединение, false лишь обновляет признак свежести.
	Release(accountID string, disconnect bool)
}
