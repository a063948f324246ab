// Package telegram — адаптер провайдера на базе gotd: фабрика соединений
// для пула (dial по сохранённой сессии, список и отзыв авторизаций) и
// интерактивный вход для регистрации нового аккаунта.
package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"telegram-sessionguard/internal/domain/watchdog"
	"telegram-sessionguard/internal/infra/telegram/pool"
)

// Factory строит MTProto-клиентов наблюдаемых аккаунтов. Одна фабрика на
// процесс; состояние после создания неизменяемо.
type Factory struct {
	apiID   int
	apiHash string
	rps     int
	testDC  bool
}

var _ pool.Dialer = (*Factory)(nil)

// NewFactory собирает фабрику. rps ограничивает частоту RPC каждого клиента.
func NewFactory(apiID int, apiHash string, rps int, testDC bool) *Factory {
	return &Factory{apiID: apiID, apiHash: apiHash, rps: rps, testDC: testDC}
}

// options — общий паспорт клиента: flood-wait, rate-limit и устройство.
// Апдейты не потребляются, поэтому UpdateHandler не задаётся.
func (f *Factory) options(store telegram.SessionStorage) telegram.Options {
	opts := telegram.Options{
		SessionStorage: store,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
			ratelimit.New(rate.Limit(f.rps), f.rps*2),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    "1.0.0",
		},
	}
	if f.testDC {
		opts.DCList = dcs.Test()
	}
	return opts
}

// Dial поднимает клиента по расшифрованной сессии и дожидается готовности.
// Возвращённое соединение живёт дольше ctx вызова: временем жизни управляет
// пул через Close.
func (f *Factory) Dial(ctx context.Context, sessionPlaintext string) (pool.Conn, error) {
	store := &session.StorageMemory{}
	if err := store.StoreSession(ctx, []byte(sessionPlaintext)); err != nil {
		return nil, errors.Wrap(err, "load session into storage")
	}

	client := telegram.NewClient(f.apiID, f.apiHash, f.options(store))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		return &Conn{client: client, api: client.API(), cancel: cancel, done: runErr}, nil
	case err := <-runErr:
		cancel()
		return nil, errors.Wrap(err, "client run")
	case <-ctx.Done():
		cancel()
		<-runErr
		return nil, ctx.Err()
	}
}

// Conn — живое соединение одного аккаунта. Реализует pool.Conn.
type Conn struct {
	client *telegram.Client
	api    *tg.Client
	cancel context.CancelFunc
	done   chan error

	closeOnce sync.Once
}

var _ pool.Conn = (*Conn)(nil)

// IsAuthorized сообщает, принимает ли провайдер сессию соединения.
func (c *Conn) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, errors.Wrap(err, "auth status")
	}
	return status.Authorized, nil
}

// Authorizations возвращает полный список активных авторизаций аккаунта.
func (c *Conn) Authorizations(ctx context.Context) ([]watchdog.SessionInfo, error) {
	res, err := c.api.AccountGetAuthorizations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "account.getAuthorizations")
	}
	out := make([]watchdog.SessionInfo, 0, len(res.Authorizations))
	for _, a := range res.Authorizations {
		out = append(out, watchdog.SessionInfo{
			Hash:        a.Hash,
			DeviceModel: a.DeviceModel,
			Platform:    a.Platform,
			Country:     a.Country,
			IP:          a.IP,
			CreatedAt:   time.Unix(int64(a.DateCreated), 0),
			Current:     a.Current,
		})
	}
	return out, nil
}

// ResetAuthorization отзывает авторизацию по отпечатку.
func (c *Conn) ResetAuthorization(ctx context.Context, hash int64) error {
	if _, err := c.api.AccountResetAuthorization(ctx, hash); err != nil {
		return errors.Wrap(err, "account.resetAuthorization")
	}
	return nil
}

// Close останавливает фонового клиента и ждёт завершения Run. Идемпотентен.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}
