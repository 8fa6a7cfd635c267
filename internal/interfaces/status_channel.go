package interfaces

import "context"

// ValueCallback вызывается с текущим значением пути; ok=false - значение отсутствует.
type ValueCallback func(value string, ok bool)

// StatusChannel - Live Status Channel: быстрый, слабо-надежный key-path store.
type StatusChannel interface {
	Set(ctx context.Context, path, value string) error
	Get(ctx context.Context, path string) (value string, ok bool, err error)
	// SubscribeValue вызывает cb с текущим значением, затем на каждое изменение.
	// Возвращаемая функция отписки идемпотентна.
	SubscribeValue(ctx context.Context, path string, cb ValueCallback) (func(), error)
	// Remove удаляет путь вместе со всеми вложенными путями.
	Remove(ctx context.Context, path string) error
}
