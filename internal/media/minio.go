package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"storyteller-server/internal/interfaces"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Config - параметры подключения к MinIO.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Compile-time check
var _ interfaces.MediaStorage = (*MinioStorage)(nil)

// MinioStorage - MediaStorage поверх бакета MinIO.
type MinioStorage struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinioStorage подключается к MinIO и создает бакет, если его нет.
func NewMinioStorage(ctx context.Context, cfg Config, logger *zap.Logger) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации MinIO клиента: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки бакета '%s': %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.Bucket, err)
		}
		logger.Info("MinIO bucket created", zap.String("bucket", cfg.Bucket))
	}

	return &MinioStorage{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.Named("MinioStorage"),
	}, nil
}

func (s *MinioStorage) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	info, err := s.client.PutObject(ctx, s.bucket, objectPath, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Error("Failed to upload object", zap.String("object", objectPath), zap.Error(err))
		return fmt.Errorf("ошибка загрузки '%s' в MinIO: %w", objectPath, err)
	}
	s.logger.Info("Object uploaded", zap.String("object", objectPath), zap.Int64("size", info.Size))
	return nil
}

func (s *MinioStorage) PresignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("ошибка генерации подписанного URL для '%s': %w", objectPath, err)
	}
	return u.String(), nil
}

func (s *MinioStorage) Delete(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		s.logger.Warn("Failed to delete object", zap.String("object", objectPath), zap.Error(err))
		return fmt.Errorf("ошибка удаления '%s' из MinIO: %w", objectPath, err)
	}
	return nil
}
