// Package cli — интерактивная консоль оператора. Сервис стартует фоном,
// читает команды из readline и выполняет их через commands.Executor:
// регистрация и удаление аккаунтов, переключение мониторинга, настройка
// правил, просмотр и экспорт алертов. Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegram-sessionguard/internal/domain/commands"
	"telegram-sessionguard/internal/infra/logger"
	"telegram-sessionguard/internal/infra/pr"
)

// commandDescriptor описывает одну CLI-команду: имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "accounts", description: "List registered accounts"},
	{name: "add <phone>", description: "Log into an account interactively and start monitoring it"},
	{name: "monitor <id> on|off", description: "Enable or disable session monitoring for an account"},
	{name: "inspect <id>", description: "Dump the full account record (credential redacted)"},
	{name: "delete <id>", description: "Stop monitoring, disconnect and remove an account"},
	{name: "rules", description: "Show current security rule parameters"},
	{name: "rules countries <CC,..>|off", description: "Set or disable the country allow list"},
	{name: "rules deny <substr,..>|off", description: "Set or disable the device model deny list"},
	{name: "rules window <start> <end>|off", description: "Set or disable the allowed time-of-day window"},
	{name: "rules maxtrusted <n>", description: "Limit concurrent trusted sessions (0 disables)"},
	{name: "alerts [n]", description: "Show the n most recent alerts (default 10)"},
	{name: "alerts export <file>", description: "Export the full alert journal to a JSON file"},
	{name: "exit", description: "Stop CLI and terminate the service"},
}

// defaultAlertsShown — сколько алертов печатает "alerts" без аргумента.
const defaultAlertsShown = 10

// Service инкапсулирует CLI. Имеет собственный cancel, запускает цикл чтения
// команд в отдельной горутине и синхронно закрывается через Stop().
type Service struct {
	exec      *commands.Executor
	stopApp   context.CancelFunc
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт CLI-сервис. stopApp используется как «глобальная»
// остановка приложения (команда exit, Ctrl-C на пустой строке).
func NewService(exec *commands.Executor, stopApp context.CancelFunc) *Service {
	return &Service{exec: exec, stopApp: stopApp}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: инициирует остановку приложения, прерывает readline,
// отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл CLI: промпт, обработчики клавиш, построчное чтение.
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}
		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}
		if s.handleCommand(ctx, strings.TrimSpace(line)) {
			return
		}
	}
}

// installKeyHandlers подключает спецклавиши readline: '?' — help без вставки
// символа; Ctrl-C на пустой строке — мягкая остановка, на непустой — очистка.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}
	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { // Ctrl-C (ETX)
			if strings.TrimSpace(string(line)) == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

func printCommandHelp() {
	pr.Println("Available commands:")
	for _, d := range commandDescriptors {
		pr.Printf("  %-30s - %s\n", d.name, d.description)
	}
}

// handleCommand разбирает введённую строку и выполняет действие.
// Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "help":
		printCommandHelp()
	case "accounts":
		s.handleAccounts(ctx)
	case "add":
		if len(args) != 2 {
			pr.ErrPrintln("usage: add <phone>")
			break
		}
		s.handleAdd(ctx, args[1])
	case "monitor":
		if len(args) != 3 || (args[2] != "on" && args[2] != "off") {
			pr.ErrPrintln("usage: monitor <id> on|off")
			break
		}
		if err := s.exec.SetMonitoring(ctx, args[1], args[2] == "on"); err != nil {
			pr.ErrPrintln("monitor error:", err)
		} else {
			pr.Printf("monitoring %s for %s\n", args[2], args[1])
		}
	case "inspect":
		if len(args) != 2 {
			pr.ErrPrintln("usage: inspect <id>")
			break
		}
		s.handleInspect(ctx, args[1])
	case "delete":
		if len(args) != 2 {
			pr.ErrPrintln("usage: delete <id>")
			break
		}
		if err := s.exec.DeleteAccount(ctx, args[1]); err != nil {
			pr.ErrPrintln("delete error:", err)
		} else {
			pr.Println("account deleted:", args[1])
		}
	case "rules":
		s.handleRules(args[1:])
	case "alerts":
		s.handleAlerts(args[1:])
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", args[0])
	}
	return false
}

func (s *Service) handleAccounts(ctx context.Context) {
	list, err := s.exec.ListAccounts(ctx)
	if err != nil {
		pr.ErrPrintln("accounts error:", err)
		return
	}
	if len(list) == 0 {
		pr.Println("No accounts registered yet.")
		return
	}
	for _, acc := range list {
		state := "off"
		if acc.MonitoringEnabled {
			state = "on"
		}
		cred := "no credential"
		if acc.HasCredential() {
			cred = "credential stored"
		}
		pr.Printf("%s  %-16s %-12s monitoring=%-3s trusted=%d  %s\n",
			acc.ID, acc.Phone, acc.FirstName, state, len(acc.TrustedHashes), cred)
	}
	pr.Printf("Total accounts: %d\n", len(list))
}

func (s *Service) handleAdd(ctx context.Context, phone string) {
	pr.Println("Starting interactive login for", phone)
	acc, err := s.exec.AddAccount(ctx, phone)
	if err != nil {
		pr.ErrPrintln("add error:", err)
		return
	}
	pr.Printf("Account registered: id=%s phone=%s name=%s\n", acc.ID, acc.Phone, acc.FirstName)
}

func (s *Service) handleInspect(ctx context.Context, id string) {
	acc, err := s.exec.Inspect(ctx, id)
	if err != nil {
		pr.ErrPrintln("inspect error:", err)
		return
	}
	// Шифротекст сессии не показываем даже в отладочном дампе.
	redacted := *acc
	if redacted.EncryptedSession != "" {
		redacted.EncryptedSession = fmt.Sprintf("<encrypted, %d bytes>", len(acc.EncryptedSession))
	}
	pr.PP(redacted)
}

func (s *Service) handleRules(args []string) {
	eng := s.exec.Rules()
	if len(args) == 0 {
		cfg := eng.Snapshot()
		pr.Printf("countries:  %s\n", listOrOff(cfg.CountryAllow))
		pr.Printf("deny:       %s\n", listOrOff(cfg.DeviceDeny))
		if cfg.WindowEnabled {
			pr.Printf("window:     %02d:00 - %02d:00\n", cfg.WindowStart, cfg.WindowEnd)
		} else {
			pr.Println("window:     off")
		}
		if cfg.MaxTrusted > 0 {
			pr.Printf("maxtrusted: %d\n", cfg.MaxTrusted)
		} else {
			pr.Println("maxtrusted: off")
		}
		return
	}

	switch args[0] {
	case "countries":
		if len(args) != 2 {
			pr.ErrPrintln("usage: rules countries <CC,..>|off")
			return
		}
		eng.SetCountryAllow(parseListArg(args[1]))
		pr.Println("country allow list updated")
	case "deny":
		if len(args) != 2 {
			pr.ErrPrintln("usage: rules deny <substr,..>|off")
			return
		}
		eng.SetDeviceDeny(parseListArg(args[1]))
		pr.Println("device deny list updated")
	case "window":
		s.handleRulesWindow(args[1:])
	case "maxtrusted":
		if len(args) != 2 {
			pr.ErrPrintln("usage: rules maxtrusted <n>")
			return
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			pr.ErrPrintln("maxtrusted must be a non-negative integer")
			return
		}
		eng.SetMaxTrusted(n)
		pr.Println("trusted session limit updated")
	default:
		pr.Println("unknown rules subcommand:", args[0])
	}
}

func (s *Service) handleRulesWindow(args []string) {
	eng := s.exec.Rules()
	if len(args) == 1 && args[0] == "off" {
		_ = eng.SetWindow(false, 0, 24)
		pr.Println("time window disabled")
		return
	}
	if len(args) != 2 {
		pr.ErrPrintln("usage: rules window <start> <end>|off")
		return
	}
	start, err1 := strconv.Atoi(args[0])
	end, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		pr.ErrPrintln("window hours must be integers in 0..24")
		return
	}
	if err := eng.SetWindow(true, start, end); err != nil {
		pr.ErrPrintln("window error:", err)
		return
	}
	pr.Printf("time window set to %02d:00 - %02d:00\n", start, end)
}

func (s *Service) handleAlerts(args []string) {
	if len(args) == 2 && args[0] == "export" {
		if err := s.exec.ExportAlerts(args[1]); err != nil {
			pr.ErrPrintln("export error:", err)
		} else {
			pr.Println("alerts exported to", args[1])
		}
		return
	}

	n := defaultAlertsShown
	if len(args) == 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			pr.ErrPrintln("usage: alerts [n] | alerts export <file>")
			return
		}
		n = parsed
	} else if len(args) > 1 {
		pr.ErrPrintln("usage: alerts [n] | alerts export <file>")
		return
	}

	list, err := s.exec.RecentAlerts(n)
	if err != nil {
		pr.ErrPrintln("alerts error:", err)
		return
	}
	if len(list) == 0 {
		pr.Println("No alerts recorded yet.")
		return
	}
	for _, a := range list {
		line := fmt.Sprintf("%s  [%-8s] %s", a.CreatedAt.Format(time.RFC3339), a.Severity, a.Phone)
		if a.Rule != "" {
			line += "  rule=" + a.Rule
		}
		pr.Println(line)
		pr.Println("    " + strings.ReplaceAll(a.Message, "\n", "; "))
	}
}

// parseListArg превращает "a,b,c" в срез; литерал "off" выключает правило.
func parseListArg(arg string) []string {
	if strings.EqualFold(arg, "off") {
		return nil
	}
	return strings.Split(arg, ",")
}

func listOrOff(list []string) string {
	if len(list) == 0 {
		return "off"
	}
	return strings.Join(list, ", ")
}

// joinCommandNames собирает короткую подсказку из имён команд (без аргументов).
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		name := d.name
		if i := strings.IndexByte(name, ' '); i > 0 {
			name = name[:i]
		}
		if len(names) == 0 || names[len(names)-1] != name {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}
