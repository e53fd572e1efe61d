// Package lock сериализует операции над одним агрегатом (группой, заказом, покупателем).
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker выполняет fn, удерживая блокировку по ключу.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Ключи блокировок агрегатов.
func GroupKey(id string) string { return "group:" + id }
func OrderKey(id string) string { return "order:" + id }
func BuyerKey(id string) string { return "buyer:" + id }

// KeyedMutex блокирует ключи в пределах одного процесса.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*KeyedMutex)(nil)

// NewKeyedMutex создаёт пустой набор блокировок.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// WithLock ждёт освобождения ключа или отмены ctx.
func (m *KeyedMutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	defer m.release(key, e)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.ch }()

	return fn(ctx)
}

func (m *KeyedMutex) release(key string, e *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Options задаёт параметры распределённой блокировки.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions рассчитаны на короткие транзакции сервиса.
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

// RedisLocker реализует RedLock поверх Redis, чтобы несколько экземпляров
// сервиса не обрабатывали один агрегат одновременно.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   Options
	prefix string
	logger *zap.Logger
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker создаёт распределённую блокировку на клиенте client.
func NewRedisLocker(client redis.UniversalClient, opts Options, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		prefix: "groupbuy:lock:",
		logger: logger,
	}
}

// WithLock захватывает блокировку, выполняет fn и освобождает блокировку даже при ошибке fn.
// Ошибка fn возвращается без изменений.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(
		l.prefix+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", key), zap.Bool("ok", ok), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// Nop не блокирует ничего. Используется, когда сериализацию обеспечивает хранилище.
type Nop struct{}

// WithLock сразу выполняет fn.
func (Nop) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
