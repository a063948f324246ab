// Package alerts — события безопасности и их доставка.
// Алерт сначала фиксируется в локальном журнале (durability), затем
// best-effort доставляется владельцу аккаунта и — для серьёзных событий —
// оператору. Журнал — единственный авторитетный лог алертов.
package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Severity — серьёзность события. Влияет на fan-out доставки.
type Severity string

const (
	// SeverityInfo — новая сессия признана доверенной.
	SeverityInfo Severity = "info"
	// SeverityWarning — самовосстановление: сброшенные учётные данные,
	// мониторинг без сессии.
	SeverityWarning Severity = "warning"
	// SeverityCritical — отказ отзыва сессии или исчерпание ретраев.
	SeverityCritical Severity = "critical"
	// SeveritySecurity — сессия отозвана по правилу безопасности.
	SeveritySecurity Severity = "security"
)

// Alert — одно событие. SessionHash, Rule и Details заполняются только
// для событий, привязанных к конкретной авторизации.
type Alert struct {
	ID          string   `json:"id"`
	AccountID   string   `json:"account_id"`
	Phone       string   `json:"phone,omitempty"`
	OwnerID     int64    `json:"owner_id"`
	Severity    Severity `json:"severity"`
	Rule        string   `json:"rule,omitempty"`
	SessionHash int64    `json:"session_hash,omitempty"`
	// Details — наблюдаемые атрибуты события (устройство, страна, IP и т.п.).
	Details   map[string]string `json:"details,omitempty"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}

// New собирает алерт с новым идентификатором и текущим временем.
func New(accountID, phone string, ownerID int64, severity Severity, message string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Phone:     phone,
		OwnerID:   ownerID,
		Severity:  severity,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}
