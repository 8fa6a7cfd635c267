package interfaces

import (
	"context"
	"io"
	"time"
)

// MediaStorage - blob-хранилище медиа историй.
type MediaStorage interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, objectPath string) error
}
