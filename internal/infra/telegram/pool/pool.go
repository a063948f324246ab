// Package pool — ограниченный пул живых соединений с наблюдаемыми
// аккаунтами. Ёмкость пул контролирует сам: при переполнении наименее
// свежая запись выселяется и закрывается до возврата из Acquire, поэтому
// живых соединений никогда не больше ёмкости. Кэш с touch-on-hit TTL даёт
// жнеца простаивающих соединений; singleflight схлопывает конкурентные
// дозвоны одного аккаунта, так что на аккаунт существует не более одного
// живого соединения. Блокировки через сетевые вызовы не удерживаются:
// сериализацию дозвона даёт singleflight, Close жертв выполняется вне
// мьютекса.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"telegram-sessionguard/internal/domain/watchdog"
	"telegram-sessionguard/internal/infra/logger"
)

// Conn — пулируемое соединение: операции наблюдения плюс проверка
// авторизации и закрытие.
type Conn interface {
	watchdog.Connection
	// IsAuthorized проверяет, что провайдер принимает учётные данные.
	IsAuthorized(ctx context.Context) (bool, error)
	// Close разрывает соединение. Идемпотентен.
	Close() error
}

// Dialer устанавливает соединение по расшифрованным учётным данным.
type Dialer interface {
	Dial(ctx context.Context, sessionPlaintext string) (Conn, error)
}

// Decrypter — расшифровка учётных данных (vault).
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Pool — реализация watchdog.ConnectionPool.
type Pool struct {
	cache    *ttlcache.Cache[string, Conn]
	dialer   Dialer
	vault    Decrypter
	flight   singleflight.Group
	capacity int

	// mu сериализует выбор жертвы и вставку при переполнении, чтобы два
	// конкурентных дозвона разных аккаунтов не превысили ёмкость.
	mu sync.Mutex
}

var _ watchdog.ConnectionPool = (*Pool)(nil)

// New создаёт пул с ёмкостью capacity и TTL простоя idleTTL. Жнец TTL
// останавливается через Close.
func New(dialer Dialer, vault Decrypter, capacity int, idleTTL time.Duration) *Pool {
	cache := ttlcache.New[string, Conn](
		ttlcache.WithTTL[string, Conn](idleTTL),
	)
	// Колбэк ttlcache выполняется в отдельной горутине, поэтому пригоден
	// только для жнеца простоя, где асинхронное закрытие безвредно.
	// Выселения по ёмкости, Release(disconnect) и Close закрывают
	// соединения синхронно на месте вызова.
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, Conn]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		logger.Debug("idle connection reaped", zap.String("account_id", item.Key()))
		closeConn(item.Key(), item.Value())
	})
	go cache.Start()

	return &Pool{cache: cache, dialer: dialer, vault: vault, capacity: capacity}
}

// Acquire возвращает живое соединение аккаунта, дозваниваясь при промахе.
// Попадание обновляет свежесть записи. Отказ авторизации —
// watchdog.ErrNotAuthorized; всё остальное, включая ошибку расшифровки
// учётных данных, — watchdog.ErrUnavailable (ретраи исчерпает вызывающий).
func (p *Pool) Acquire(ctx context.Context, accountID, encryptedSession string) (watchdog.Connection, error) {
	if item := p.cache.Get(accountID); item != nil {
		return item.Value(), nil
	}

	v, err, _ := p.flight.Do(accountID, func() (any, error) {
		// Проигравшие гонку могли дождаться уже положенного соединения.
		if item := p.cache.Get(accountID); item != nil {
			return item.Value(), nil
		}
		return p.dial(ctx, accountID, encryptedSession)
	})
	if err != nil {
		return nil, err
	}
	return v.(Conn), nil
}

func (p *Pool) dial(ctx context.Context, accountID, encryptedSession string) (Conn, error) {
	plaintext, err := p.vault.Decrypt(encryptedSession)
	if err != nil {
		return nil, errors.Wrapf(watchdog.ErrUnavailable, "decrypt credential: %v", err)
	}

	conn, err := p.dialer.Dial(ctx, plaintext)
	if err != nil {
		return nil, errors.Wrapf(watchdog.ErrUnavailable, "dial: %v", err)
	}

	ok, err := conn.IsAuthorized(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(watchdog.ErrUnavailable, "authorization status: %v", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, watchdog.ErrNotAuthorized
	}

	p.put(accountID, conn)
	logger.Debug("connection pooled", zap.String("account_id", accountID))
	return conn, nil
}

// put кладёт соединение в кэш. При переполнении наименее свежие записи
// выселяются и закрываются здесь же: к возврату из Acquire живых
// соединений не больше ёмкости.
func (p *Pool) put(accountID string, conn Conn) {
	var victims []*ttlcache.Item[string, Conn]

	p.mu.Lock()
	for p.capacity > 0 && p.cache.Len() >= p.capacity {
		lru := p.leastRecent()
		if lru == nil {
			break
		}
		p.cache.Delete(lru.Key())
		victims = append(victims, lru)
	}
	p.cache.Set(accountID, conn, ttlcache.DefaultTTL)
	p.mu.Unlock()

	for _, item := range victims {
		closeConn(item.Key(), item.Value())
	}
}

// leastRecent возвращает запись с ближайшим истечением TTL. При
// touch-on-hit TTL порядок истечения совпадает с порядком давности
// использования.
func (p *Pool) leastRecent() *ttlcache.Item[string, Conn] {
	var lru *ttlcache.Item[string, Conn]
	for _, item := range p.cache.Items() {
		if lru == nil || item.ExpiresAt().Before(lru.ExpiresAt()) {
			lru = item
		}
	}
	return lru
}

// Release — рекомендательная отметка задачи: disconnect выселяет запись и
// синхронно закрывает соединение, иначе лишь продлевается TTL. После
// возврата Release(id, true) старого соединения не существует — повторный
// Acquire дозвонится заново.
func (p *Pool) Release(accountID string, disconnect bool) {
	if !disconnect {
		p.cache.Touch(accountID)
		return
	}
	item := p.cache.Get(accountID, ttlcache.WithDisableTouchOnHit[string, Conn]())
	p.cache.Delete(accountID)
	if item != nil {
		closeConn(accountID, item.Value())
	}
}

// Close останавливает жнец и синхронно разрывает все соединения.
func (p *Pool) Close() {
	p.cache.Stop()
	items := p.cache.Items()
	p.cache.DeleteAll()
	for _, item := range items {
		closeConn(item.Key(), item.Value())
	}
}

func closeConn(accountID string, conn Conn) {
	logger.Debug("pooled connection closed", zap.String("account_id", accountID))
	if err := conn.Close(); err != nil {
		logger.Warn("pooled connection close failed",
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}
