package livestatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"storyteller-server/internal/interfaces"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix     = "live:"
	redisChannelPrefix = "live-events:"
	redisScanCount     = 100
)

// redisEvent - сообщение pub/sub об изменении пути.
type redisEvent struct {
	Value   string `json:"v"`
	Present bool   `json:"ok"`
}

// RedisChannel - StatusChannel поверх Redis: значения в ключах с TTL, изменения через PUBLISH.
type RedisChannel struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ interfaces.StatusChannel = (*RedisChannel)(nil)

// NewRedisChannel создает канал. ttl ограничивает жизнь брошенных задач; 0 - без TTL.
func NewRedisChannel(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisChannel {
	return &RedisChannel{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisLiveStatus"),
	}
}

func redisKey(path string) string     { return redisKeyPrefix + path }
func redisChannel(path string) string { return redisChannelPrefix + path }

func (r *RedisChannel) Set(ctx context.Context, path, value string) error {
	payload, err := json.Marshal(redisEvent{Value: value, Present: true})
	if err != nil {
		return fmt.Errorf("failed to marshal live status event: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisKey(path), value, r.ttl)
	pipe.Publish(ctx, redisChannel(path), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to set live status value", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to set live status %s: %w", path, err)
	}
	return nil
}

func (r *RedisChannel) Get(ctx context.Context, path string) (string, bool, error) {
	v, err := r.client.Get(ctx, redisKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get live status %s: %w", path, err)
	}
	return v, true, nil
}

// SubscribeValue подписывается на канал пути, затем читает текущее значение.
// Подписка живет до вызова отписки или отмены ctx.
func (r *RedisChannel) SubscribeValue(ctx context.Context, path string, cb interfaces.ValueCallback) (func(), error) {
	sub := r.client.Subscribe(ctx, redisChannel(path))
	// Подписка должна реально начаться до чтения текущего значения
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", path, err)
	}

	v, ok, err := r.Get(ctx, path)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				r.logger.Debug("Failed to close live status subscription", zap.String("path", path), zap.Error(err))
			}
		})
	}

	cb(v, ok)

	msgs := sub.Channel()
	go func() {
		for m := range msgs {
			var ev redisEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				r.logger.Warn("Bad live status payload", zap.String("path", path), zap.Error(err))
				continue
			}
			cb(ev.Value, ev.Present)
		}
	}()
	context.AfterFunc(ctx, unsubscribe)

	return unsubscribe, nil
}

// Remove удаляет ключ пути и все вложенные ключи, публикуя удаление каждого.
func (r *RedisChannel) Remove(ctx context.Context, path string) error {
	keys := []string{redisKey(path)}
	iter := r.client.Scan(ctx, 0, redisKey(path)+"/*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan live status %s: %w", path, err)
	}

	gone, err := json.Marshal(redisEvent{})
	if err != nil {
		return fmt.Errorf("failed to marshal live status event: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keys...)
	for _, k := range keys {
		pipe.Publish(ctx, redisChannelPrefix+k[len(redisKeyPrefix):], gone)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to remove live status path", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to remove live status %s: %w", path, err)
	}
	r.logger.Debug("Live status path removed", zap.String("path", path), zap.Int("keys", len(keys)))
	return nil
}
