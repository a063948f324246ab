// Диспетчер алертов: журнал — прежде всего, доставка — best-effort.
// Ни отказ журнала, ни отказ доставки не распространяются к вызывающему:
// наблюдение за сессиями не должно останавливаться из-за уведомлений.

package alerts

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"telegram-sessionguard/internal/infra/logger"
)

// Sender доставляет текстовое сообщение в чат. Реализация — Bot API.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Dispatcher рассылает алерты. Владелец аккаунта получает все события;
// оператор дополнительно получает security и critical.
type Dispatcher struct {
	journal     *Journal
	sender      Sender
	operatorUID int64
}

// NewDispatcher собирает диспетчер. operatorUID — чат оператора сервиса.
func NewDispatcher(journal *Journal, sender Sender, operatorUID int64) *Dispatcher {
	return &Dispatcher{journal: journal, sender: sender, operatorUID: operatorUID}
}

// Dispatch фиксирует алерт в журнале и доставляет его получателям.
// Никогда не возвращает ошибку наверх — все отказы только логируются.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) {
	if err := d.journal.Append(a); err != nil {
		logger.Error("alert journal append failed",
			zap.String("alert_id", a.ID),
			zap.String("account_id", a.AccountID),
			zap.Error(err))
	}

	text := renderText(a)
	d.deliver(ctx, a, a.OwnerID, text)
	if d.operatorUID != 0 && d.operatorUID != a.OwnerID &&
		(a.Severity == SeveritySecurity || a.Severity == SeverityCritical) {
		d.deliver(ctx, a, d.operatorUID, text)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert, chatID int64, text string) {
	if chatID == 0 {
		return
	}
	if err := d.sender.SendText(ctx, chatID, text); err != nil {
		logger.Warn("alert delivery failed",
			zap.String("alert_id", a.ID),
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

// renderText — плоское текстовое представление для Bot API.
func renderText(a Alert) string {
	head := map[Severity]string{
		SeverityInfo:     "ℹ️ Info",
		SeverityWarning:  "⚠️ Warning",
		SeverityCritical: "🚨 Critical",
		SeveritySecurity: "🛡 Security",
	}[a.Severity]
	if head == "" {
		head = string(a.Severity)
	}
	text := fmt.Sprintf("%s\nAccount: %s", head, a.Phone)
	if a.Rule != "" {
		text += "\nRule: " + a.Rule
	}
	if a.SessionHash != 0 {
		text += fmt.Sprintf("\nSession: %d", a.SessionHash)
	}
	for _, k := range sortedKeys(a.Details) {
		if v := a.Details[k]; v != "" {
			text += fmt.Sprintf("\n%s: %s", k, v)
		}
	}
	return text + "\n" + a.Message
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
