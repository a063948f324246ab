package alerts_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"telegram-sessionguard/internal/domain/alerts"
)

func openTestJournal(t *testing.T) *alerts.Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.bbolt")
	j, err := alerts.OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_AppendAndRecent(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 5; i++ {
		a := alerts.New("acc-1", "+79990001122", 100, alerts.SeverityInfo, fmt.Sprintf("event %d", i))
		if err := j.Append(a); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	tests := []struct {
		name      string
		n         int
		wantLen   int
		wantFirst string // самое свежее сообщение
	}{
		{"последние два", 2, 2, "event 4"},
		{"больше, чем записано", 10, 5, "event 4"},
		{"ноль", 0, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.Recent(tt.n)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].Message != tt.wantFirst {
				t.Fatalf("первый элемент %q, want %q", got[0].Message, tt.wantFirst)
			}
		})
	}
}

func TestJournal_RecentOrderNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	for i := 0; i < 3; i++ {
		if err := j.Append(alerts.New("acc", "+7", 1, alerts.SeverityWarning, fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := j.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := []string{"2", "1", "0"}
	for i, a := range got {
		if a.Message != want[i] {
			t.Fatalf("позиция %d: %q, want %q", i, a.Message, want[i])
		}
	}
}

func TestJournal_DetailsSurviveRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	a := alerts.New("acc", "+7", 1, alerts.SeveritySecurity, "revoked")
	a.Rule = "device_denylist"
	a.SessionHash = 42
	a.Details = map[string]string{
		"device":  "Android Emulator",
		"country": "DE",
		"ip":      "10.0.0.1",
	}
	if err := j.Append(a); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := j.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Rule != a.Rule || got[0].SessionHash != a.SessionHash {
		t.Fatalf("атрибуты сессии потеряны: %+v", got[0])
	}
	if len(got[0].Details) != len(a.Details) {
		t.Fatalf("details = %v, want %v", got[0].Details, a.Details)
	}
	for k, v := range a.Details {
		if got[0].Details[k] != v {
			t.Fatalf("details[%q] = %q, want %q", k, got[0].Details[k], v)
		}
	}
}

func TestJournal_ExportJSON(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Append(alerts.New("acc", "+7", 1, alerts.SeveritySecurity, "revoked")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	out := filepath.Join(t.TempDir(), "export", "alerts.json")
	if err := j.ExportJSON(out); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("пустой экспорт")
	}
}
