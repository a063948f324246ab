package alerts_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"

	"telegram-sessionguard/internal/domain/alerts"
)

// fakeSender записывает доставленные сообщения по chatID.
type fakeSender struct {
	mu    sync.Mutex
	sent  map[int64][]string
	fail  bool
	calls int
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[int64][]string)}
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("bot api down")
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeSender) deliveredTo(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[chatID])
}

const (
	ownerChat    = int64(100)
	operatorChat = int64(777)
)

func newTestDispatcher(t *testing.T, sender alerts.Sender) (*alerts.Dispatcher, *alerts.Journal) {
	t.Helper()
	j, err := alerts.OpenJournal(filepath.Join(t.TempDir(), "alerts.bbolt"))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return alerts.NewDispatcher(j, sender, operatorChat), j
}

func TestDispatch_FanOutBySeverity(t *testing.T) {
	tests := []struct {
		name         string
		severity     alerts.Severity
		wantOperator bool
	}{
		{"info только владельцу", alerts.SeverityInfo, false},
		{"warning только владельцу", alerts.SeverityWarning, false},
		{"security владельцу и оператору", alerts.SeveritySecurity, true},
		{"critical владельцу и оператору", alerts.SeverityCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := newFakeSender()
			d, _ := newTestDispatcher(t, sender)

			d.Dispatch(context.Background(), alerts.New("acc", "+7", ownerChat, tt.severity, "msg"))

			if got := sender.deliveredTo(ownerChat); got != 1 {
				t.Fatalf("владелец получил %d сообщений, want 1", got)
			}
			wantOp := 0
			if tt.wantOperator {
				wantOp = 1
			}
			if got := sender.deliveredTo(operatorChat); got != wantOp {
				t.Fatalf("оператор получил %d сообщений, want %d", got, wantOp)
			}
		})
	}
}

func TestDispatch_JournalFirstEvenWhenDeliveryFails(t *testing.T) {
	sender := newFakeSender()
	sender.fail = true
	d, j := newTestDispatcher(t, sender)

	// Не должно паниковать и не должно возвращать ошибку (сигнатура без error).
	d.Dispatch(context.Background(), alerts.New("acc", "+7", ownerChat, alerts.SeveritySecurity, "msg"))

	got, err := j.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Message != "msg" {
		t.Fatalf("алерт не зафиксирован в журнале: %+v", got)
	}
}

func TestDispatch_DeliveredTextIncludesDetails(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(t, sender)

	a := alerts.New("acc", "+7", ownerChat, alerts.SeveritySecurity, "session revoked")
	a.Rule = "country_allowlist"
	a.SessionHash = 42
	a.Details = map[string]string{"device": "iPhone 15", "country": "DE"}
	d.Dispatch(context.Background(), a)

	sender.mu.Lock()
	text := sender.sent[ownerChat][0]
	sender.mu.Unlock()
	for _, want := range []string{"Rule: country_allowlist", "Session: 42", "device: iPhone 15", "country: DE", "session revoked"} {
		if !strings.Contains(text, want) {
			t.Fatalf("в доставленном тексте нет %q:\n%s", want, text)
		}
	}
}

func TestDispatch_OperatorIsOwnerDeliveredOnce(t *testing.T) {
	sender := newFakeSender()
	j, err := alerts.OpenJournal(filepath.Join(t.TempDir(), "alerts.bbolt"))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer func() { _ = j.Close() }()
	d := alerts.NewDispatcher(j, sender, ownerChat)

	d.Dispatch(context.Background(), alerts.New("acc", "+7", ownerChat, alerts.SeverityCritical, "msg"))

	if got := sender.deliveredTo(ownerChat); got != 1 {
		t.Fatalf("владелец-оператор получил %d сообщений, want 1", got)
	}
}
