// Интерактивный вход в наблюдаемый аккаунт: телефон → код подтверждения →
// опциональный пароль 2FA. Возвращает сериализованную сессию (шифрует её
// уже вызывающий) и профиль владельца для записи в директорию.

package telegram

import (
	"context"
	"strings"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"telegram-sessionguard/internal/infra/pr"
)

// loginTimeout ограничивает весь интерактивный вход: ожидание кода от
// пользователя включительно.
const loginTimeout = 5 * time.Minute

// Profile — данные аккаунта после успешного входа.
type Profile struct {
	UserID    int64
	FirstName string
	Phone     string
}

// Login выполняет полный цикл входа для номера phone и возвращает
// сериализованную сессию и профиль. Код и пароль 2FA запрашиваются из
// терминала. Сессия возвращается открытым текстом и нигде не логируется.
func (f *Factory) Login(ctx context.Context, phone string) (string, *Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	store := &session.StorageMemory{}
	client := telegram.NewClient(f.apiID, f.apiHash, f.options(store))

	var (
		sessionData string
		profile     Profile
	)
	err := client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(terminalAuthenticator{phone: phone}, auth.SendCodeOptions{})
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return errors.Wrap(err, "auth flow")
		}

		self, err := client.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch self")
		}
		profile = Profile{UserID: self.ID, FirstName: self.FirstName, Phone: self.Phone}

		raw, err := store.LoadSession(ctx)
		if err != nil {
			return errors.Wrap(err, "serialize session")
		}
		sessionData = string(raw)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return sessionData, &profile, nil
}

// terminalAuthenticator реализует auth.UserAuthenticator поверх общего
// readline. Регистрация новых номеров не поддерживается: сервис наблюдает
// существующие аккаунты.
type terminalAuthenticator struct {
	phone string
}

func readLine(prompt string) (string, error) {
	pr.SetPrompt(prompt)
	line, err := pr.Rl().Readline()
	return strings.TrimSpace(line), err
}

// Phone возвращает заранее известный номер. Ожидается E.164.
func (t terminalAuthenticator) Phone(_ context.Context) (string, error) {
	return t.phone, nil
}

// Code запрашивает код подтверждения у оператора.
func (t terminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return readLine("Enter the code sent to " + t.phone + ": ")
}

// Password считывает пароль 2FA без эха.
func (t terminalAuthenticator) Password(_ context.Context) (string, error) {
	pr.Print("Enter 2FA password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService показывает текст ToS и требует явного согласия.
func (t terminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	pr.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("terms of service were not accepted")
	}
	return nil
}

// SignUp отклоняется: вход допустим только в уже существующий аккаунт.
func (t terminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up is not supported: the phone must belong to an existing account")
}
