// Package accounts — модель наблюдаемого аккаунта и контракт директории.
// Аккаунт — чужая Telegram-учётка, чьи авторизованные сессии мы сверяем:
// зашифрованная сессия, флаг мониторинга и список доверенных отпечатков.
// Реализация хранилища живёт в internal/adapters/mongodb.
package accounts

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Ошибки директории. Конкретные реализации обязаны приводить ошибки
// хранилища к этим sentinel-значениям, чтобы вызывающие проверяли errors.Is.
var (
	// ErrNotFound — аккаунт с указанным идентификатором отсутствует.
	ErrNotFound = errors.New("accounts: not found")
	// ErrDuplicatePhone — аккаунт с таким номером телефона уже зарегистрирован.
	ErrDuplicatePhone = errors.New("accounts: duplicate phone")
)

// Account — запись директории. EncryptedSession хранится только в
// зашифрованном виде (vault); пустая строка означает отсутствие учётных
// данных. TrustedHashes — отпечатки авторизаций, признанные легитимными;
// список растёт монотонно и очищается только явной командой оператора.
type Account struct {
	ID                string    `bson:"_id"`
	OwnerID           int64     `bson:"owner_id"`
	Phone             string    `bson:"phone_number"`
	FirstName         string    `bson:"first_name"`
	EncryptedSession  string    `bson:"session_data"`
	MonitoringEnabled bool      `bson:"monitoring_enabled"`
	TrustedHashes     []int64   `bson:"trusted_session_hashes"`
	CreatedAt         time.Time `bson:"created_at"`
}

// HasCredential сообщает, есть ли у аккаунта сохранённая сессия.
func (a *Account) HasCredential() bool {
	return a.EncryptedSession != ""
}

// TrustedSet возвращает доверенные отпечатки как множество для диффа.
func (a *Account) TrustedSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(a.TrustedHashes))
	for _, h := range a.TrustedHashes {
		set[h] = struct{}{}
	}
	return set
}

// Directory — контракт хранилища аккаунтов. Все операции ctx-ограничены;
// частичные обновления меняют только названные поля, не перезаписывая
// запись целиком.
type Directory interface {
	// Insert добавляет новый аккаунт. Конфликт по номеру телефона —
	// ErrDuplicatePhone.
	Insert(ctx context.Context, acc *Account) error
	// ByID возвращает аккаунт или ErrNotFound.
	ByID(ctx context.Context, id string) (*Account, error)
	// ByOwner возвращает все аккаунты владельца (для списков CLI).
	ByOwner(ctx context.Context, ownerID int64) ([]*Account, error)
	// Monitored возвращает аккаунты с monitoring_enabled=true.
	Monitored(ctx context.Context) ([]*Account, error)
	// SetMonitoring включает или выключает мониторинг.
	SetMonitoring(ctx context.Context, id string, enabled bool) error
	// ReplaceTrusted заменяет список доверенных отпечатков целиком
	// (батч-персист в конце тика).
	ReplaceTrusted(ctx context.Context, id string, hashes []int64) error
	// ClearCredential стирает сессию и одновременно выключает мониторинг:
	// запись без учётных данных не должна оставаться «наблюдаемой».
	ClearCredential(ctx context.Context, id string) error
	// Delete удаляет запись. Отсутствующая запись — не ошибка.
	Delete(ctx context.Context, id string) error
}
