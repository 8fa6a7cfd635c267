package livestatus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storyteller-server/internal/interfaces"

	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
)

// rtdbStore - минимальный доступ к Realtime Database.
type rtdbStore interface {
	get(ctx context.Context, path string) (any, error)
	set(ctx context.Context, path string, value any) error
	remove(ctx context.Context, path string) error
}

type dbClientStore struct {
	client *db.Client
}

func (s dbClientStore) get(ctx context.Context, path string) (any, error) {
	var v any
	if err := s.client.NewRef(path).Get(ctx, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s dbClientStore) set(ctx context.Context, path string, value any) error {
	return s.client.NewRef(path).Set(ctx, value)
}

func (s dbClientStore) remove(ctx context.Context, path string) error {
	return s.client.NewRef(path).Delete(ctx)
}

// FirebaseChannel - StatusChannel поверх Firebase Realtime Database.
// Admin SDK не умеет слушать изменения, поэтому подписка опрашивает путь с интервалом.
type FirebaseChannel struct {
	store        rtdbStore
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ interfaces.StatusChannel = (*FirebaseChannel)(nil)

// NewFirebaseChannel создает канал поверх клиента RTDB.
func NewFirebaseChannel(client *db.Client, pollInterval time.Duration, logger *zap.Logger) *FirebaseChannel {
	return newFirebaseChannel(dbClientStore{client: client}, pollInterval, logger)
}

func newFirebaseChannel(store rtdbStore, pollInterval time.Duration, logger *zap.Logger) *FirebaseChannel {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &FirebaseChannel{
		store:        store,
		pollInterval: pollInterval,
		logger:       logger.Named("FirebaseLiveStatus"),
	}
}

func (f *FirebaseChannel) Set(ctx context.Context, path, value string) error {
	if err := f.store.set(ctx, path, value); err != nil {
		f.logger.Error("Failed to set live status value", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to set live status %s: %w", path, err)
	}
	return nil
}

func (f *FirebaseChannel) Get(ctx context.Context, path string) (string, bool, error) {
	v, err := f.store.get(ctx, path)
	if err != nil {
		return "", false, fmt.Errorf("failed to get live status %s: %w", path, err)
	}
	s, ok := stringify(v)
	return s, ok, nil
}

// SubscribeValue вызывает cb с текущим значением и затем при каждом изменении, найденном опросом.
func (f *FirebaseChannel) SubscribeValue(ctx context.Context, path string, cb interfaces.ValueCallback) (func(), error) {
	last, lastOK, err := f.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopOnParent := context.AfterFunc(ctx, cancel)
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			stopOnParent()
			cancel()
		})
	}

	cb(last, lastOK)

	go func() {
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			v, ok, err := f.Get(pollCtx, path)
			if err != nil {
				if pollCtx.Err() == nil {
					f.logger.Warn("Live status poll failed", zap.String("path", path), zap.Error(err))
				}
				continue
			}
			if v == last && ok == lastOK {
				continue
			}
			last, lastOK = v, ok
			if pollCtx.Err() != nil {
				return
			}
			cb(v, ok)
		}
	}()

	return unsubscribe, nil
}

// Remove удаляет узел; RTDB удаляет вложенные пути сам.
func (f *FirebaseChannel) Remove(ctx context.Context, path string) error {
	if err := f.store.remove(ctx, path); err != nil {
		f.logger.Error("Failed to remove live status path", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to remove live status %s: %w", path, err)
	}
	return nil
}

// stringify приводит значение RTDB к строке; nil - отсутствие.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return fmt.Sprintf("%g", t), true
	default:
		return fmt.Sprint(t), true
	}
}
