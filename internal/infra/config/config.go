// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (сторожевой сервис сессий Telegram). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. накапливает предупреждения о подставленных дефолтах,
//  4. фиксирует результат в singleton и отдаёт его через Env().
//
// Бизнес-контекст: конфиг задаёт учётные данные MTProto и Bot API, параметры
// цикла реконсиляции (период опроса, ретраи), ёмкость пула соединений,
// стартовые параметры правил безопасности и подключение к хранилищу аккаунтов.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegram-sessionguard/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это «операционные»
// настройки запуска: учётные данные API, ключ шифрования, хранилище, тайминги
// наблюдателя и стартовые параметры правил.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID         int
	APIHash       string
	BotToken      string
	OperatorUID   int64
	EncryptionKey string
	MongoURI      string
	MongoDB       string
	LogLevel      string
	AppTimezone   string
	ThrottleRPS   int
	TestDC        bool
	// Цикл реконсиляции
	PollIntervalSec int
	RetryBaseSec    int
	MaxRetries      int
	RescanSec       int
	StopGraceSec    int
	// Пул соединений
	PoolCapacity int
	PoolIdleSec  int
	// Журнал алертов
	AlertsFile string
	// Стартовые параметры правил безопасности
	RuleCountryAllow []string
	RuleDeviceDeny   []string
	RuleWindowEnable bool
	RuleWindowStart  int
	RuleWindowEnd    int
	RuleMaxTrusted   int
}

// Config хранит конфигурацию среды. Публичный доступ — через Env() и Warnings().
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения.
const (
	defaultLogLevel        = "info"
	defaultMongoURI        = "mongodb://localhost:27017"
	defaultMongoDB         = "sessionguard"
	defaultAppTimezone     = "UTC"
	defaultThrottleRPS     = 1
	defaultPollIntervalSec = 20
	defaultRetryBaseSec    = 5
	defaultMaxRetries      = 3
	defaultRescanSec       = 30
	defaultStopGraceSec    = 5
	defaultPoolCapacity    = 20
	defaultPoolIdleSec     = 600
	defaultAlertsFile      = "data/alerts.bbolt"
	defaultRuleWindowStart = 0
	defaultRuleWindowEnd   = 24
	defaultRuleMaxTrusted  = 10
)

// defaultRuleDeviceDeny — маркеры эмуляторов/виртуальных устройств, с которых
// по умолчанию запрещены новые сессии. Сравнение подстрочное, без учёта регистра.
var defaultRuleDeviceDeny = []string{"bluestacks", "nox", "memu", "ldplayer", "droid4x", "emulator", "virtual"}

var (
	cfgInstance *Config
	cfgDone     bool
)

// AppLocation — часовая зона приложения; применяется к правилу «временного окна»
// и к отметкам времени в алертах. Заполняется при загрузке конфигурации.
var AppLocation *time.Location

// Load — точка входа для инициализации глобальной конфигурации приложения.
// Повторный вызов запрещён (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	// Ключ шифрования обязателен: без него vault не сможет расшифровать ни одну
	// сессию. Значение никогда не пишется в лог.
	encryptionKey := strings.TrimSpace(os.Getenv("ENCRYPTION_KEY"))
	if encryptionKey == "" {
		return nil, errors.New("env ENCRYPTION_KEY must be set")
	}

	operatorUID, err := parseRequiredInt("OPERATOR_UID")
	if err != nil {
		return nil, err
	}

	var warnings []string

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	mongoURI := sanitizeValue("MONGO_URI", os.Getenv("MONGO_URI"), defaultMongoURI, &warnings)
	mongoDB := sanitizeValue("MONGO_DB", os.Getenv("MONGO_DB"), defaultMongoDB, &warnings)
	appTimezone := sanitizeTimezoneFlexible("APP_TIMEZONE", os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")

	pollInterval := parseIntDefault("POLL_INTERVAL_SEC", defaultPollIntervalSec, greaterThanZero, &warnings)
	retryBase := parseIntDefault("RETRY_BASE_SEC", defaultRetryBaseSec, greaterThanZero, &warnings)
	maxRetries := parseIntDefault("MAX_RETRIES", defaultMaxRetries, greaterThanZero, &warnings)
	rescan := parseIntDefault("RESCAN_SEC", defaultRescanSec, greaterThanZero, &warnings)
	stopGrace := parseIntDefault("STOP_GRACE_SEC", defaultStopGraceSec, greaterThanZero, &warnings)
	poolCapacity := parseIntDefault("POOL_CAPACITY", defaultPoolCapacity, greaterThanZero, &warnings)
	poolIdle := parseIntDefault("POOL_IDLE_SEC", defaultPoolIdleSec, greaterThanZero, &warnings)
	alertsFile := sanitizeValue("ALERTS_FILE", os.Getenv("ALERTS_FILE"), defaultAlertsFile, &warnings)

	countryAllow := sanitizeCSV(os.Getenv("RULE_COUNTRY_ALLOW"))
	deviceDeny := sanitizeCSV(os.Getenv("RULE_DEVICE_DENY"))
	if len(deviceDeny) == 0 {
		appendWarningf(&warnings, "env RULE_DEVICE_DENY is not set; using default %v", defaultRuleDeviceDeny)
		deviceDeny = cloneStrings(defaultRuleDeviceDeny)
	}
	windowEnable := parseBoolDefault("RULE_WINDOW_ENABLE", false, &warnings)
	windowStart := parseIntDefault("RULE_WINDOW_START", defaultRuleWindowStart, validHour, &warnings)
	windowEnd := parseIntDefault("RULE_WINDOW_END", defaultRuleWindowEnd, validHourEnd, &warnings)
	maxTrusted := parseIntDefault("RULE_MAX_TRUSTED", defaultRuleMaxTrusted, nonNegative, &warnings)

	AppLocation, err = timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}

	env := EnvConfig{
		APIID:            apiID,
		APIHash:          apiHash,
		BotToken:         botToken,
		OperatorUID:      int64(operatorUID),
		EncryptionKey:    encryptionKey,
		MongoURI:         mongoURI,
		MongoDB:          mongoDB,
		LogLevel:         logLevel,
		AppTimezone:      appTimezone,
		ThrottleRPS:      throttleRPS,
		TestDC:           testDC,
		PollIntervalSec:  pollInterval,
		RetryBaseSec:     retryBase,
		MaxRetries:       maxRetries,
		RescanSec:        rescan,
		StopGraceSec:     stopGrace,
		PoolCapacity:     poolCapacity,
		PoolIdleSec:      poolIdle,
		AlertsFile:       alertsFile,
		RuleCountryAllow: countryAllow,
		RuleDeviceDeny:   deviceDeny,
		RuleWindowEnable: windowEnable,
		RuleWindowStart:  windowStart,
		RuleWindowEnd:    windowEnd,
		RuleMaxTrusted:   maxTrusted,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// Простые валидаторы чисел для parseIntDefault.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
func validHour(v int) bool       { return v >= 0 && v <= 23 }
func validHourEnd(v int) bool    { return v >= 0 && v <= 24 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeValue возвращает непустое значение переменной name либо fallback
// с записью предупреждения.
func sanitizeValue(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeTimezoneFlexible проверяет, что значение — корректная IANA-зона или UTC-смещение.
// При неудаче возвращает значение по умолчанию и добавляет предупреждение.
func sanitizeTimezoneFlexible(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, v, fallback)
		return fallback
	}
	return v
}

// sanitizeCSV разбирает CSV-строку, обрезает пробелы, отбрасывает пустые
// элементы и дубликаты (без учёта регистра). Пустой вход — пустой список.
func sanitizeCSV(value string) []string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		key := strings.ToLower(token)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, token)
	}
	return result
}

// cloneStrings создаёт копию среза строк, чтобы не делиться внутренними массивами.
func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
