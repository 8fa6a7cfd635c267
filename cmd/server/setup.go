package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyteller-server/internal/authclient"
	"storyteller-server/internal/config"
	"storyteller-server/internal/errorsink"
	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/livestatus"
	"storyteller-server/internal/media"
	"storyteller-server/internal/messaging"
	"storyteller-server/internal/middleware"

	firebase "firebase.google.com/go/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	rabbitDialAttempts = 5
	rabbitDialDelay    = 3 * time.Second
	flushTimeout       = 5 * time.Second
)

// dependencies - внешние клиенты сервиса и то, что нужно закрыть при остановке.
type dependencies struct {
	live     interfaces.StatusChannel
	events   interfaces.JobEventPublisher
	reporter interfaces.ErrorReporter
	media    interfaces.MediaStorage // nil, если MinIO не настроен

	firebaseApp *firebase.App
	firestore   *errorsink.FirestoreReporter

	closers []func() error
	logger  *zap.Logger
}

func needsFirebase(cfg *config.Config) bool {
	return cfg.FirebaseEnabled() ||
		cfg.LiveStatusBackend == config.LiveStatusFirebase ||
		cfg.AuthMode == config.AuthModeFirebase
}

func setupDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *dependencies, err error) {
	d := &dependencies{logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if needsFirebase(cfg) {
		if err := d.setupFirebase(ctx, cfg); err != nil {
			return nil, err
		}
	}

	// Error sink: всегда лог, плюс Firestore, если есть Firebase
	sinks := errorsink.Multi{errorsink.NewLogReporter(logger)}
	if d.firebaseApp != nil {
		fs, err := d.firebaseApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		d.closers = append(d.closers, fs.Close)
		d.firestore = errorsink.NewFirestoreReporter(fs, cfg.ErrorSinkCollection, version, logger)
		sinks = append(sinks, d.firestore)
	}
	d.reporter = sinks

	if err := d.setupLiveStatus(ctx, cfg); err != nil {
		return nil, err
	}
	if err := d.setupEvents(ctx, cfg); err != nil {
		return nil, err
	}

	if cfg.MinIOEndpoint != "" {
		storage, err := media.NewMinioStorage(ctx, media.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		d.media = storage
	} else {
		logger.Info("MINIO_ENDPOINT not set, media uploads are disabled")
	}
	return d, nil
}

func (d *dependencies) setupFirebase(ctx context.Context, cfg *config.Config) error {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.FirebaseProjectID,
		DatabaseURL: cfg.FirebaseDatabaseURL,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	d.firebaseApp = app
	d.logger.Info("Firebase app initialized", zap.String("projectID", cfg.FirebaseProjectID))
	return nil
}

func (d *dependencies) setupLiveStatus(ctx context.Context, cfg *config.Config) error {
	switch cfg.LiveStatusBackend {
	case config.LiveStatusRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		d.closers = append(d.closers, client.Close)
		d.live = livestatus.NewRedisChannel(client, cfg.LiveStatusTTL, d.logger)
	case config.LiveStatusFirebase:
		rtdb, err := d.firebaseApp.Database(ctx)
		if err != nil {
			return fmt.Errorf("failed to create realtime database client: %w", err)
		}
		d.live = livestatus.NewFirebaseChannel(rtdb, cfg.LiveStatusPollInterval, d.logger)
	default:
		d.logger.Warn("Using in-memory live status channel: job status is not shared between instances")
		d.live = livestatus.NewMemoryChannel()
	}
	d.logger.Info("Live status channel ready", zap.String("backend", cfg.LiveStatusBackend))
	return nil
}

func (d *dependencies) setupEvents(ctx context.Context, cfg *config.Config) error {
	if cfg.RabbitMQURL == "" {
		d.logger.Info("RABBITMQ_URL not set, job events are not published")
		d.events = messaging.NopPublisher{}
		return nil
	}
	conn, err := messaging.Dial(ctx, cfg.RabbitMQURL, rabbitDialAttempts, rabbitDialDelay, d.logger)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, conn.Close)

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	// канал закрывается раньше соединения
	d.closers = append(d.closers, ch.Close)
	publisher, err := messaging.NewRabbitMQPublisher(ch, cfg.JobEventsQueue, d.logger)
	if err != nil {
		return err
	}
	d.events = publisher
	go d.watchConnection(conn)
	return nil
}

func (d *dependencies) watchConnection(conn *amqp.Connection) {
	if err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1)); ok && err != nil {
		d.logger.Error("RabbitMQ connection closed unexpectedly, job events will fail", zap.Error(err))
	}
}

// tokenVerifier выбирает проверку токена вызывающего по AUTH_MODE.
func (d *dependencies) tokenVerifier(cfg *config.Config) (middleware.TokenVerifier, error) {
	if cfg.AuthMode != config.AuthModeFirebase {
		return middleware.JWTVerifier([]byte(cfg.JWTSecret)), nil
	}
	if d.firebaseApp == nil {
		return nil, errors.New("firebase auth mode requires firebase configuration")
	}
	client, err := d.firebaseApp.Auth(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase auth client: %w", err)
	}
	return middleware.FirebaseVerifier(client), nil
}

func newGenerationTokenSource(cfg *config.Config, logger *zap.Logger) *authclient.TokenSource {
	return authclient.NewTokenSource(cfg.GenerationAPIToken, cfg.GenerationAuthRefreshURL, nil, logger)
}

// Flush дожидается отправки отчетов об ошибках.
func (d *dependencies) Flush() {
	if d.firestore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := d.firestore.Wait(ctx); err != nil {
		d.logger.Warn("Pending error reports were dropped", zap.Error(err))
	}
}

// Close закрывает клиентов в обратном порядке создания.
func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("Failed to close dependency", zap.Error(err))
		}
	}
	d.closers = nil
}
