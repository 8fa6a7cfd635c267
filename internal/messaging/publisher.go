// Package messaging публикует события жизненного цикла задач генерации в RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/model"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const appID = "storyteller-server"

// Compile-time check
var _ interfaces.JobEventPublisher = (*rabbitMQPublisher)(nil)

type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQPublisher объявляет durable очередь событий и возвращает publisher.
// Канал открывается и закрывается вызывающим.
func NewRabbitMQPublisher(ch *amqp.Channel, queueName string, logger *zap.Logger) (interfaces.JobEventPublisher, error) {
	_, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{"x-queue-mode": "lazy"},
	)
	if err != nil {
		return nil, fmt.Errorf("не удалось объявить очередь событий '%s': %w", queueName, err)
	}
	logger.Info("Job events queue declared", zap.String("queue", queueName))

	return &rabbitMQPublisher{
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("JobEventPublisher"),
	}, nil
}

// PublishJobEvent публикует событие как persistent JSON сообщение.
func (p *rabbitMQPublisher) PublishJobEvent(ctx context.Context, event model.JobEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	logFields := []zap.Field{
		zap.String("jobID", event.JobID),
		zap.String("storyID", event.StoryID),
		zap.String("type", string(event.Type)),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal job event", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка сериализации события задачи %s: %w", event.JobID, err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    event.OccurredAt,
			AppId:        appID,
			Type:         string(event.Type),
			MessageId:    event.JobID + "-" + string(event.Type),
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish job event", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка публикации события задачи %s: %w", event.JobID, err)
	}

	p.logger.Debug("Job event published", append(logFields, zap.String("queue", p.queueName))...)
	return nil
}

// NopPublisher используется, когда RabbitMQ не настроен.
type NopPublisher struct{}

func (NopPublisher) PublishJobEvent(context.Context, model.JobEvent) error { return nil }

// Dial подключается к RabbitMQ с несколькими попытками.
func Dial(ctx context.Context, url string, attempts int, delay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", i),
			zap.Int("maxAttempts", attempts),
			zap.Duration("retryIn", delay),
			zap.Error(err),
		)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", attempts, lastErr)
}
