// Package notify доставляет события групп подписчикам.
// Доставка best-effort: ошибки публикации логируются и не возвращаются вызывающему.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy/internal/metrics"
)

// Каналы Redis.
const (
	channelPrefix    = "groupbuy:group:"
	BroadcastChannel = "groupbuy:broadcast"
)

// GroupChannel возвращает канал событий группы.
func GroupChannel(groupID string) string {
	return channelPrefix + groupID
}

// Message описывает тело публикуемого сообщения.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`
}

// RedisNotifier публикует события в Redis Pub/Sub через автоматический выключатель,
// чтобы недоступность Redis не замедляла основные операции.
type RedisNotifier struct {
	client  redis.UniversalClient
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRedisNotifier создаёт нотификатор поверх клиента Redis. m может быть nil.
func NewRedisNotifier(client redis.UniversalClient, logger *zap.Logger, m *metrics.Metrics) *RedisNotifier {
	n := &RedisNotifier{
		client:  client,
		timeout: 2 * time.Second,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-notify",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notifier circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return n
}

// NotifyChannel публикует событие в канал группы.
func (n *RedisNotifier) NotifyChannel(ctx context.Context, groupID, event string, payload any) {
	n.publish(ctx, GroupChannel(groupID), event, payload)
}

// Broadcast публикует событие всем подписчикам.
func (n *RedisNotifier) Broadcast(ctx context.Context, event string, payload any) {
	n.publish(ctx, BroadcastChannel, event, payload)
}

func (n *RedisNotifier) publish(ctx context.Context, channel, event string, payload any) {
	body, err := encode(event, payload, n.now())
	if err != nil {
		n.logger.Error("failed to encode notification", zap.String("event", event), zap.Error(err))
		n.metrics.Notification(false)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	_, err = n.breaker.Execute(func() (any, error) {
		return nil, n.client.Publish(ctx, channel, body).Err()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			n.logger.Warn("notification dropped, redis unavailable", zap.String("channel", channel), zap.String("event", event))
		} else {
			n.logger.Error("failed to publish notification",
				zap.String("channel", channel), zap.String("event", event), zap.Error(err))
		}
		n.metrics.Notification(false)
		return
	}

	n.metrics.Notification(true)
}

func encode(event string, payload any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Message{Event: event, Payload: raw, SentAt: now.UTC()})
}

// LogNotifier пишет события в журнал. Используется, когда Redis не настроен.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создаёт нотификатор, пишущий в logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyChannel(_ context.Context, groupID, event string, payload any) {
	n.logger.Info("notification",
		zap.String("channel", GroupChannel(groupID)),
		zap.String("event", event),
		zap.Any("payload", payload),
	)
}

func (n *LogNotifier) Broadcast(_ context.Context, event string, payload any) {
	n.logger.Info("notification",
		zap.String("channel", BroadcastChannel),
		zap.String("event", event),
		zap.Any("payload", payload),
	)
}
