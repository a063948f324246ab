package pool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"

	"telegram-sessionguard/internal/domain/watchdog"
	"telegram-sessionguard/internal/infra/telegram/pool"
)

// plainVault отдаёт «ciphertext» как есть: криптография тестируется в vault.
type plainVault struct{}

func (plainVault) Decrypt(s string) (string, error) { return s, nil }

// failVault имитирует повреждённые учётные данные.
type failVault struct{ err error }

func (v failVault) Decrypt(string) (string, error) { return "", v.err }

type fakeConn struct {
	session    string
	authorized bool
	closed     atomic.Bool
}

func (c *fakeConn) Authorizations(context.Context) ([]watchdog.SessionInfo, error) {
	return nil, nil
}
func (c *fakeConn) ResetAuthorization(context.Context, int64) error { return nil }
func (c *fakeConn) IsAuthorized(context.Context) (bool, error)      { return c.authorized, nil }
func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeDialer считает дозвоны и хранит созданные соединения по сессии.
type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	delay      time.Duration
	dialErr    error
	authorized bool
	conns      map[string]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{authorized: true, conns: make(map[string]*fakeConn)}
}

func (d *fakeDialer) Dial(_ context.Context, session string) (pool.Conn, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &fakeConn{session: session, authorized: d.authorized}
	d.conns[session] = c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(session string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[session]
}

func newTestPool(t *testing.T, d pool.Dialer, capacity int) *pool.Pool {
	t.Helper()
	p := pool.New(d, plainVault{}, capacity, time.Minute)
	t.Cleanup(p.Close)
	return p
}

func TestAcquire_HitReturnsSameConnection(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, 4)
	ctx := context.Background()

	first, err := p.Acquire(ctx, "acc-1", "sess-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := p.Acquire(ctx, "acc-1", "sess-1")
	if err != nil {
		t.Fatalf("Acquire (hit): %v", err)
	}
	if first != second {
		t.Fatal("попадание в кэш вернуло другое соединение")
	}
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("дозвонов %d, want 1", got)
	}
}

func TestAcquire_ConcurrentDialsCollapse(t *testing.T) {
	dialer := newFakeDialer()
	dialer.delay = 20 * time.Millisecond
	p := newTestPool(t, dialer, 4)

	const workers = 16
	conns := make([]watchdog.Connection, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Acquire(context.Background(), "acc-1", "sess-1")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			conns[i] = c
		}(i)
	}
	wg.Wait()

	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("дозвонов %d, want 1 (singleflight)", got)
	}
	for i := 1; i < workers; i++ {
		if conns[i] != conns[0] {
			t.Fatal("конкурентные Acquire вернули разные соединения")
		}
	}
}

func TestAcquire_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, 2)
	ctx := context.Background()

	if _, err := p.Acquire(ctx, "acc-a", "sess-a"); err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	if _, err := p.Acquire(ctx, "acc-b", "sess-b"); err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	// Обновляем свежесть a: теперь наименее свежий — b.
	if _, err := p.Acquire(ctx, "acc-a", "sess-a"); err != nil {
		t.Fatalf("Acquire a (hit): %v", err)
	}
	if _, err := p.Acquire(ctx, "acc-c", "sess-c"); err != nil {
		t.Fatalf("Acquire c: %v", err)
	}

	if !dialer.conn("sess-b").closed.Load() {
		t.Fatal("наименее свежее соединение b не закрыто при выселении")
	}
	if dialer.conn("sess-a").closed.Load() {
		t.Fatal("свежайшее соединение a выселено")
	}
}

func TestAcquire_EvictionClosesBeforeReturn(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, 1)
	ctx := context.Background()

	if _, err := p.Acquire(ctx, "acc-a", "sess-a"); err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	if _, err := p.Acquire(ctx, "acc-b", "sess-b"); err != nil {
		t.Fatalf("Acquire b: %v", err)
	}

	// Выселение по ёмкости синхронно: к возврату Acquire живых соединений
	// не больше ёмкости.
	if !dialer.conn("sess-a").closed.Load() {
		t.Fatal("выселенное соединение ещё живо после возврата Acquire")
	}
	if dialer.conn("sess-b").closed.Load() {
		t.Fatal("свежее соединение закрыто вместо выселенного")
	}
}

func TestAcquire_UnauthorizedCredential(t *testing.T) {
	dialer := newFakeDialer()
	dialer.authorized = false
	p := newTestPool(t, dialer, 4)

	_, err := p.Acquire(context.Background(), "acc-1", "sess-1")
	if !errors.Is(err, watchdog.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if !dialer.conn("sess-1").closed.Load() {
		t.Fatal("неавторизованное соединение не закрыто")
	}
	// Частичное состояние не должно кэшироваться.
	dialer.mu.Lock()
	dialer.authorized = true
	dialer.mu.Unlock()
	if _, err := p.Acquire(context.Background(), "acc-1", "sess-1"); err != nil {
		t.Fatalf("повторный Acquire: %v", err)
	}
	if got := dialer.dialCount(); got != 2 {
		t.Fatalf("дозвонов %d, want 2", got)
	}
}

func TestAcquire_DialFailureIsUnavailable(t *testing.T) {
	dialer := newFakeDialer()
	dialer.dialErr = errors.New("connection refused")
	p := newTestPool(t, dialer, 4)

	_, err := p.Acquire(context.Background(), "acc-1", "sess-1")
	if !errors.Is(err, watchdog.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestAcquire_DecryptFailureIsUnavailable(t *testing.T) {
	p := pool.New(newFakeDialer(), failVault{err: errors.New("vault: crypto failure")}, 4, time.Minute)
	defer p.Close()

	_, err := p.Acquire(context.Background(), "acc-1", "garbage")
	if !errors.Is(err, watchdog.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	// Повреждённый шифротекст — не повод стирать учётные данные.
	if errors.Is(err, watchdog.ErrNotAuthorized) {
		t.Fatalf("ошибка расшифровки принята за отзыв авторизации: %v", err)
	}
}

func TestRelease_DisconnectClosesConnection(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, 4)

	if _, err := p.Acquire(context.Background(), "acc-1", "sess-1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release("acc-1", true)

	if !dialer.conn("sess-1").closed.Load() {
		t.Fatal("Release(disconnect) не закрыл соединение")
	}
	if _, err := p.Acquire(context.Background(), "acc-1", "sess-1"); err != nil {
		t.Fatalf("Acquire после выселения: %v", err)
	}
	if got := dialer.dialCount(); got != 2 {
		t.Fatalf("дозвонов %d, want 2", got)
	}
}

func TestClose_DisconnectsEverything(t *testing.T) {
	dialer := newFakeDialer()
	p := pool.New(dialer, plainVault{}, 4, time.Minute)

	if _, err := p.Acquire(context.Background(), "acc-1", "sess-1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := p.Acquire(context.Background(), "acc-2", "sess-2"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Close()

	if !dialer.conn("sess-1").closed.Load() || !dialer.conn("sess-2").closed.Load() {
		t.Fatal("Close не разорвал все соединения")
	}
}
