package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Бэкенды Live Status Channel.
const (
	LiveStatusRedis    = "redis"
	LiveStatusFirebase = "firebase"
	LiveStatusMemory   = "memory"
)

// Режимы проверки токена вызывающего.
const (
	AuthModeJWT      = "jwt"
	AuthModeFirebase = "firebase"
)

// Config содержит конфигурацию сервиса генерации историй
type Config struct {
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"production"`
	// Пустые LOG_LEVEL и LOG_ENCODING берутся из пресета ENV
	LogLevel string `envconfig:"LOG_LEVEL"`
	// json или console
	LogEncoding string `envconfig:"LOG_ENCODING"`
	SecretsDir  string `envconfig:"SECRETS_DIR" default:"/run/secrets"`

	// PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"storyteller"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	RunMigrations bool          `envconfig:"RUN_MIGRATIONS" default:"true"`
	// Секрет, без envconfig тега
	DBPassword string `ignored:"true"`

	// Redis
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`
	// Необязательный секрет
	RedisPassword string `ignored:"true"`

	// Live Status Channel
	LiveStatusBackend      string        `envconfig:"LIVE_STATUS_BACKEND" default:"redis"`
	LiveStatusTTL          time.Duration `envconfig:"LIVE_STATUS_TTL" default:"24h"`
	LiveStatusPollInterval time.Duration `envconfig:"LIVE_STATUS_POLL_INTERVAL" default:"1s"`

	// Firebase (Realtime Database, Firestore error sink, проверка ID токенов)
	FirebaseCredentialsPath string `envconfig:"FIREBASE_CREDENTIALS_PATH"`
	FirebaseProjectID       string `envconfig:"FIREBASE_PROJECT_ID"`
	FirebaseDatabaseURL     string `envconfig:"FIREBASE_DATABASE_URL"`
	ErrorSinkCollection     string `envconfig:"ERROR_SINK_COLLECTION" default:"errors"`

	// RabbitMQ. Пустой URL отключает публикацию событий.
	RabbitMQURL    string `envconfig:"RABBITMQ_URL"`
	JobEventsQueue string `envconfig:"JOB_EVENTS_QUEUE" default:"story_generation_events"`

	// API генерации
	GenerationAPIBaseURL     string        `envconfig:"GENERATION_API_BASE_URL" required:"true"`
	GenerationTimeout        time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
	GenerationMaxAttempts    int           `envconfig:"GENERATION_MAX_ATTEMPTS" default:"4"`
	GenerationBaseRetryDelay time.Duration `envconfig:"GENERATION_BASE_RETRY_DELAY" default:"1s"`
	GenerationAuthRefreshURL string        `envconfig:"GENERATION_AUTH_REFRESH_URL"`
	// Необязательный секрет: стартовый токен API генерации
	GenerationAPIToken string `ignored:"true"`

	// MinIO. Пустой endpoint отключает загрузку медиа.
	MinIOEndpoint  string        `envconfig:"MINIO_ENDPOINT"`
	MinIOAccessKey string        `envconfig:"MINIO_ACCESS_KEY"`
	MinIOBucket    string        `envconfig:"MINIO_BUCKET" default:"story-media"`
	MinIOUseSSL    bool          `envconfig:"MINIO_USE_SSL" default:"false"`
	MediaURLTTL    time.Duration `envconfig:"MEDIA_URL_TTL" default:"24h"`
	MinIOSecretKey string        `ignored:"true"`

	// Аутентификация вызывающего
	AuthMode  string `envconfig:"AUTH_MODE" default:"jwt"`
	JWTSecret string `ignored:"true"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Сколько ждать фоновые генерации при остановке
	BackgroundShutdownTimeout time.Duration `envconfig:"BACKGROUND_SHUTDOWN_TIMEOUT" default:"2m"`
	MaxBackgroundTasks        int           `envconfig:"MAX_BACKGROUND_TASKS" default:"100"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig загружает конфигурацию из .env (если есть), переменных окружения и секретов
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	if err := cfg.loadSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadSecrets() error {
	var err error
	// Обязательные секреты
	if c.DBPassword, err = ReadSecret(c.SecretsDir, "db_password"); err != nil {
		return err
	}
	if c.AuthMode == AuthModeJWT {
		if c.JWTSecret, err = ReadSecret(c.SecretsDir, "jwt_secret"); err != nil {
			return err
		}
	}

	// Необязательные
	if c.RedisPassword, err = ReadOptionalSecret(c.SecretsDir, "redis_password"); err != nil {
		return err
	}
	if c.GenerationAPIToken, err = ReadOptionalSecret(c.SecretsDir, "generation_api_token"); err != nil {
		return err
	}
	if c.MinIOEndpoint != "" {
		if c.MinIOSecretKey, err = ReadSecret(c.SecretsDir, "minio_secret_key"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.LiveStatusBackend {
	case LiveStatusRedis, LiveStatusMemory:
	case LiveStatusFirebase:
		if c.FirebaseDatabaseURL == "" {
			return errors.New("FIREBASE_DATABASE_URL is required for the firebase live status backend")
		}
	default:
		return fmt.Errorf("unknown LIVE_STATUS_BACKEND %q", c.LiveStatusBackend)
	}
	switch c.AuthMode {
	case AuthModeJWT, AuthModeFirebase:
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.GenerationMaxAttempts < 1 {
		return fmt.Errorf("GENERATION_MAX_ATTEMPTS must be positive, got %d", c.GenerationMaxAttempts)
	}
	return nil
}

// FirebaseEnabled - нужен ли Firebase app (RTDB, Firestore, Auth).
func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseCredentialsPath != "" || c.FirebaseProjectID != ""
}

// LogSummary логирует загруженную конфигурацию без секретов
func (c *Config) LogSummary(logger *zap.Logger) {
	logger.Info("Конфигурация загружена",
		zap.String("port", c.Port),
		zap.String("env", c.Env),
		zap.String("dbDSN", c.getMaskedDSN()),
		zap.Int("dbMaxConns", c.DBMaxConns),
		zap.String("redisAddr", c.RedisAddr),
		zap.String("liveStatusBackend", c.LiveStatusBackend),
		zap.Duration("liveStatusTTL", c.LiveStatusTTL),
		zap.Bool("firebase", c.FirebaseEnabled()),
		zap.Bool("jobEvents", c.RabbitMQURL != ""),
		zap.String("generationAPI", c.GenerationAPIBaseURL),
		zap.Duration("generationTimeout", c.GenerationTimeout),
		zap.Int("generationMaxAttempts", c.GenerationMaxAttempts),
		zap.Duration("generationBaseRetryDelay", c.GenerationBaseRetryDelay),
		zap.Bool("media", c.MinIOEndpoint != ""),
		zap.String("authMode", c.AuthMode),
		zap.Strings("corsOrigins", c.CORSAllowedOrigins),
	)
}

// getMaskedDSN возвращает DSN с замаскированным паролем для логирования
func (c *Config) getMaskedDSN() string {
	dsn := c.GetDSN()
	parts := strings.Split(dsn, "@")
	if len(parts) != 2 {
		return "[invalid dsn format]"
	}
	userInfo := strings.Split(parts[0], ":")
	if len(userInfo) >= 2 {
		userInfo[len(userInfo)-1] = "********"
	}
	return strings.Join(userInfo, ":") + "@" + parts[1]
}
