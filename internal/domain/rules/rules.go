// Package rules — классификация новых авторизаций наблюдаемого аккаунта.
// Правила проверяются строго по порядку с коротким замыканием: первое
// сработавшее правило определяет вердикт. Параметры хранятся под RWMutex
// и изменяются оператором на лету; движок не кэширует ничего между вызовами.
package rules

import (
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// Имена правил в вердиктах и алертах.
const (
	RuleCountryAllow = "country_allowlist"
	RuleDeviceDeny   = "device_denylist"
	RuleTimeWindow   = "time_window"
	RuleMaxTrusted   = "max_trusted"
)

// ErrInvalidWindow возвращается сеттером при часах вне диапазона.
var ErrInvalidWindow = errors.New("rules: window hours must satisfy 0 <= h <= 24")

// Config — параметры движка. Пустой allow-список стран и пустой deny-список
// устройств выключают соответствующие правила; MaxTrusted <= 0 выключает
// лимит; WindowEnabled управляет временным окном.
type Config struct {
	CountryAllow  []string
	DeviceDeny    []string
	WindowEnabled bool
	// WindowStart/WindowEnd — часы [0..24]; окно [start, end) — время,
	// когда новые сессии допустимы. start > end означает переход через
	// полночь; start == end — окно на все сутки.
	WindowStart int
	WindowEnd   int
	MaxTrusted  int
}

// Observation — наблюдаемая авторизация, как её сообщает провайдер.
type Observation struct {
	Hash        int64
	DeviceModel string
	Platform    string
	Country     string
	IP          string
	CreatedAt   time.Time
	Current     bool
}

// Verdict — результат классификации. Terminate=true означает, что сессия
// подлежит отзыву; Rule и Reason заполняются только при срабатывании.
type Verdict struct {
	Terminate bool
	Rule      string
	Reason    string
}

// Engine — потокобезопасный движок правил. Часы инжектируются для тестов.
type Engine struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time
}

// New создаёт движок с начальными параметрами. now == nil означает time.Now;
// часы определяют таймзону, в которой трактуется временное окно.
func New(cfg Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: normalize(cfg), now: now}
}

// normalize приводит списки к канонической форме один раз при записи:
// страны — верхний регистр, устройства — нижний, пустые элементы отброшены.
func normalize(cfg Config) Config {
	cfg.CountryAllow = cleanList(cfg.CountryAllow, strings.ToUpper)
	cfg.DeviceDeny = cleanList(cfg.DeviceDeny, strings.ToLower)
	return cfg
}

func cleanList(in []string, canon func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = canon(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot возвращает копию текущих параметров (для CLI-команды rules).
func (e *Engine) Snapshot() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg := e.cfg
	cfg.CountryAllow = append([]string(nil), e.cfg.CountryAllow...)
	cfg.DeviceDeny = append([]string(nil), e.cfg.DeviceDeny...)
	return cfg
}

// SetCountryAllow заменяет allow-список стран. Пустой список выключает правило.
func (e *Engine) SetCountryAllow(countries []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.CountryAllow = cleanList(countries, strings.ToUpper)
}

// SetDeviceDeny заменяет deny-список моделей устройств.
func (e *Engine) SetDeviceDeny(models []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.DeviceDeny = cleanList(models, strings.ToLower)
}

// SetWindow настраивает временное окно допустимых новых сессий.
func (e *Engine) SetWindow(enabled bool, start, end int) error {
	if start < 0 || start > 24 || end < 0 || end > 24 {
		return ErrInvalidWindow
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.WindowEnabled = enabled
	e.cfg.WindowStart = start
	e.cfg.WindowEnd = end
	return nil
}

// SetMaxTrusted задаёт лимит доверенных сессий; значения <= 0 выключают правило.
func (e *Engine) SetMaxTrusted(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MaxTrusted = n
}

// Classify пропускает наблюдение через цепочку правил. trustedCount —
// текущий размер доверенного множества аккаунта (до учёта этого наблюдения).
func (e *Engine) Classify(obs Observation, trustedCount int) Verdict {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	// 1. Страна: при непустом allow-списке неизвестная или не входящая
	// в список страна означает отзыв (fail-closed).
	if len(cfg.CountryAllow) > 0 {
		country := strings.ToUpper(strings.TrimSpace(obs.Country))
		if !contains(cfg.CountryAllow, country) {
			return Verdict{
				Terminate: true,
				Rule:      RuleCountryAllow,
				Reason:    "country " + displayOrUnknown(country) + " is not in the allow list",
			}
		}
	}

	// 2. Устройство: без учёта регистра, по подстроке.
	if len(cfg.DeviceDeny) > 0 {
		device := strings.ToLower(obs.DeviceModel)
		for _, deny := range cfg.DeviceDeny {
			if strings.Contains(device, deny) {
				return Verdict{
					Terminate: true,
					Rule:      RuleDeviceDeny,
					Reason:    "device model matches denied pattern " + deny,
				}
			}
		}
	}

	// 3. Временное окно: новые сессии вне [start, end) отзываются.
	if cfg.WindowEnabled && !hourInWindow(e.now().Hour(), cfg.WindowStart, cfg.WindowEnd) {
		return Verdict{
			Terminate: true,
			Rule:      RuleTimeWindow,
			Reason:    "new session outside the allowed time window",
		}
	}

	// 4. Лимит доверенных сессий.
	if cfg.MaxTrusted > 0 && trustedCount >= cfg.MaxTrusted {
		return Verdict{
			Terminate: true,
			Rule:      RuleMaxTrusted,
			Reason:    "trusted session limit reached",
		}
	}

	return Verdict{}
}

// hourInWindow проверяет попадание часа в окно [start, end) с переходом
// через полночь. start == end трактуется как окно на все сутки.
func hourInWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func displayOrUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
