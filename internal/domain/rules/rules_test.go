package rules_test

import (
	"testing"
	"time"

	"telegram-sessionguard/internal/domain/rules"
)

// fixedClock возвращает часы, всегда показывающие указанный час дня.
func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 3, 14, hour, 30, 0, 0, time.UTC)
	}
}

func TestClassify_CountryAllowList(t *testing.T) {
	eng := rules.New(rules.Config{CountryAllow: []string{"ru", " DE "}}, fixedClock(12))

	tests := []struct {
		name          string
		country       string
		wantTerminate bool
	}{
		{"страна из списка", "RU", false},
		{"страна из списка в нижнем регистре", "de", false},
		{"страна вне списка", "US", true},
		{"пустая страна при непустом списке", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := eng.Classify(rules.Observation{Country: tt.country}, 0)
			if v.Terminate != tt.wantTerminate {
				t.Fatalf("Terminate = %v, want %v (reason: %s)", v.Terminate, tt.wantTerminate, v.Reason)
			}
			if tt.wantTerminate && v.Rule != rules.RuleCountryAllow {
				t.Fatalf("Rule = %q, want %q", v.Rule, rules.RuleCountryAllow)
			}
		})
	}
}

func TestClassify_CountryRuleDisabledWhenEmpty(t *testing.T) {
	eng := rules.New(rules.Config{}, fixedClock(12))
	if v := eng.Classify(rules.Observation{Country: "ZZ"}, 0); v.Terminate {
		t.Fatalf("пустой allow-список не должен отзывать: %+v", v)
	}
}

func TestClassify_DeviceDenyList(t *testing.T) {
	eng := rules.New(rules.Config{DeviceDeny: []string{"BlueStacks", "emulator"}}, fixedClock(12))

	tests := []struct {
		name          string
		device        string
		wantTerminate bool
	}{
		{"точное совпадение в другом регистре", "BLUESTACKS", true},
		{"подстрока внутри модели", "Android Emulator x86", true},
		{"обычное устройство", "iPhone 15 Pro", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := eng.Classify(rules.Observation{DeviceModel: tt.device}, 0)
			if v.Terminate != tt.wantTerminate {
				t.Fatalf("Terminate = %v, want %v", v.Terminate, tt.wantTerminate)
			}
			if tt.wantTerminate && v.Rule != rules.RuleDeviceDeny {
				t.Fatalf("Rule = %q, want %q", v.Rule, rules.RuleDeviceDeny)
			}
		})
	}
}

func TestClassify_TimeWindow(t *testing.T) {
	tests := []struct {
		name          string
		hour          int
		start, end    int
		wantTerminate bool
	}{
		{"внутри обычного окна", 12, 9, 18, false},
		{"ровно на старте окна", 9, 9, 18, false},
		{"ровно на конце окна (исключён)", 18, 9, 18, true},
		{"до окна", 6, 9, 18, true},
		{"ночное окно с переходом через полночь, ночью", 23, 22, 6, false},
		{"ночное окно с переходом через полночь, утром", 3, 22, 6, false},
		{"ночное окно с переходом через полночь, днём", 12, 22, 6, true},
		{"start == end — окно на все сутки", 12, 7, 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := rules.New(rules.Config{
				WindowEnabled: true,
				WindowStart:   tt.start,
				WindowEnd:     tt.end,
			}, fixedClock(tt.hour))
			v := eng.Classify(rules.Observation{}, 0)
			if v.Terminate != tt.wantTerminate {
				t.Fatalf("Terminate = %v, want %v", v.Terminate, tt.wantTerminate)
			}
			if tt.wantTerminate && v.Rule != rules.RuleTimeWindow {
				t.Fatalf("Rule = %q, want %q", v.Rule, rules.RuleTimeWindow)
			}
		})
	}
}

func TestClassify_MaxTrusted(t *testing.T) {
	eng := rules.New(rules.Config{MaxTrusted: 2}, fixedClock(12))

	if v := eng.Classify(rules.Observation{}, 1); v.Terminate {
		t.Fatalf("лимит не достигнут, отзыв не ожидался: %+v", v)
	}
	v := eng.Classify(rules.Observation{}, 2)
	if !v.Terminate || v.Rule != rules.RuleMaxTrusted {
		t.Fatalf("ожидался отзыв по лимиту, получено %+v", v)
	}

	// MaxTrusted <= 0 выключает правило.
	eng.SetMaxTrusted(0)
	if v := eng.Classify(rules.Observation{}, 100); v.Terminate {
		t.Fatalf("выключенный лимит не должен отзывать: %+v", v)
	}
}

func TestClassify_OrderShortCircuit(t *testing.T) {
	// Наблюдение нарушает все четыре правила; вердикт — по первому.
	eng := rules.New(rules.Config{
		CountryAllow:  []string{"RU"},
		DeviceDeny:    []string{"emulator"},
		WindowEnabled: true,
		WindowStart:   9,
		WindowEnd:     18,
		MaxTrusted:    1,
	}, fixedClock(3))

	v := eng.Classify(rules.Observation{Country: "US", DeviceModel: "Emulator"}, 5)
	if !v.Terminate || v.Rule != rules.RuleCountryAllow {
		t.Fatalf("ожидалось срабатывание первого правила, получено %+v", v)
	}
}

func TestRuntimeUpdates(t *testing.T) {
	eng := rules.New(rules.Config{}, fixedClock(12))

	// До настройки правило стран выключено.
	if v := eng.Classify(rules.Observation{Country: "US"}, 0); v.Terminate {
		t.Fatalf("правило стран ещё не настроено: %+v", v)
	}

	eng.SetCountryAllow([]string{"ru"})
	if v := eng.Classify(rules.Observation{Country: "US"}, 0); !v.Terminate {
		t.Fatal("обновлённый allow-список не применился")
	}

	if err := eng.SetWindow(true, 25, 0); err == nil {
		t.Fatal("ожидалась ошибка валидации часов окна")
	}

	snap := eng.Snapshot()
	if len(snap.CountryAllow) != 1 || snap.CountryAllow[0] != "RU" {
		t.Fatalf("Snapshot() = %+v, ожидался нормализованный список [RU]", snap.CountryAllow)
	}

	// Мутация копии не должна влиять на движок.
	snap.CountryAllow[0] = "XX"
	if v := eng.Classify(rules.Observation{Country: "RU"}, 0); v.Terminate {
		t.Fatal("мутация снапшота повлияла на движок")
	}
}
