// Package service реализует бизнес-логику сервиса совместных закупок: жизненный цикл групп,
// заказы, торги поставщиков и кредитную линию покупателей.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/auth"
	"github.com/mmeshcher/groupbuy/internal/lock"
	"github.com/mmeshcher/groupbuy/internal/metrics"
	"github.com/mmeshcher/groupbuy/internal/repository"
)

// Notifier доставляет события подписчикам группы или всем подписчикам.
// Доставка best-effort, ошибки не возвращаются.
type Notifier interface {
	NotifyChannel(ctx context.Context, groupID, event string, payload any)
	Broadcast(ctx context.Context, event string, payload any)
}

// Service содержит бизнес-логику сервиса совместных закупок.
type Service struct {
	store    repository.Store
	notifier Notifier
	locker   lock.Locker
	tokens   *auth.JWTManager
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithNotifier задаёт получателя событий.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLocker задаёт блокировку агрегатов.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithTokens задаёт менеджер токенов для входа.
func WithTokens(m *auth.JWTManager) Option {
	return func(s *Service) { s.tokens = m }
}

// WithMetrics задаёт счётчики Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт журнал.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService создаёт сервис поверх хранилища.
func NewService(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: nopNotifier{},
		locker:   lock.Nop{},
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyChannel(context.Context, string, string, any) {}
func (nopNotifier) Broadcast(context.Context, string, any)             {}

// event описывает уведомление, отправляемое после фиксации транзакции.
type event struct {
	groupID   string
	broadcast bool
	name      string
	payload   any
}

// outbox накапливает события внутри транзакции. При повторе транзакции буфер сбрасывается.
type outbox struct {
	events []event
}

func (o *outbox) group(groupID, name string, payload any) {
	o.events = append(o.events, event{groupID: groupID, name: name, payload: payload})
}

func (o *outbox) broadcast(name string, payload any) {
	o.events = append(o.events, event{broadcast: true, name: name, payload: payload})
}

// txFunc выполняется внутри транзакции.
type txFunc func(ctx context.Context, tx repository.Tx, out *outbox) error

// run выполняет fn в транзакции под блокировками keys (в указанном порядке)
// и после успешной фиксации рассылает накопленные события.
func (s *Service) run(ctx context.Context, keys []string, fn txFunc) error {
	out := &outbox{}

	body := func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			out.events = out.events[:0]
			return fn(ctx, tx, out)
		})
	}

	for i := len(keys) - 1; i >= 0; i-- {
		inner, key := body, keys[i]
		body = func(ctx context.Context) error {
			return s.locker.WithLock(ctx, key, inner)
		}
	}

	if err := body(ctx); err != nil {
		return s.classify(err)
	}

	for _, e := range out.events {
		if e.broadcast {
			s.notifier.Broadcast(ctx, e.name, e.payload)
			continue
		}
		s.notifier.NotifyChannel(ctx, e.groupID, e.name, e.payload)
	}
	return nil
}

// read выполняет fn в транзакции без блокировок агрегатов и событий.
func (s *Service) read(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := s.store.WithTx(ctx, fn); err != nil {
		return s.classify(err)
	}
	return nil
}

// classify оставляет доменные ошибки как есть, остальные сводит к ErrUnavailable.
func (s *Service) classify(err error) error {
	if apperrors.IsDomain(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error("storage operation failed", zap.Error(err))
	return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
}
