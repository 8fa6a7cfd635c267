package errorsink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storyteller-server/internal/interfaces"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
)

const (
	DefaultCollection  = "errors"
	defaultSinkTimeout = 5 * time.Second
	platformName       = "storyteller-server"
)

// documentWriter пишет один документ в коллекцию. Абстракция над *firestore.Client для тестов.
type documentWriter interface {
	Add(ctx context.Context, collection string, data map[string]any) error
}

type firestoreWriter struct {
	client *firestore.Client
}

func (w firestoreWriter) Add(ctx context.Context, collection string, data map[string]any) error {
	data["timestamp"] = firestore.ServerTimestamp
	_, _, err := w.client.Collection(collection).Add(ctx, data)
	return err
}

// Compile-time check
var _ interfaces.ErrorReporter = (*FirestoreReporter)(nil)

// FirestoreReporter пишет отчеты об ошибках в коллекцию Firestore асинхронно.
// Сбои записи логируются и не возвращаются вызывающему.
type FirestoreReporter struct {
	writer     documentWriter
	collection string
	timeout    time.Duration
	version    string
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewFirestoreReporter создает reporter поверх клиента Firestore.
func NewFirestoreReporter(client *firestore.Client, collection, version string, logger *zap.Logger) *FirestoreReporter {
	return newFirestoreReporter(firestoreWriter{client: client}, collection, version, logger)
}

func newFirestoreReporter(w documentWriter, collection, version string, logger *zap.Logger) *FirestoreReporter {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreReporter{
		writer:     w,
		collection: collection,
		timeout:    defaultSinkTimeout,
		version:    version,
		logger:     logger.Named("FirestoreErrorSink"),
	}
}

// Report ставит запись в фон и сразу возвращается.
func (r *FirestoreReporter) Report(ctx context.Context, err error, severity interfaces.Severity, ec interfaces.ErrorContext) {
	if err == nil {
		return
	}
	severity = resolveSeverity(err, severity, ec)
	doc := buildDocument(err, severity, ec, r.version)
	reportsTotal.WithLabelValues(string(severity)).Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Panic while writing error report", zap.Any("panic", p))
			}
		}()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if werr := r.writer.Add(writeCtx, r.collection, doc); werr != nil {
			sinkFailuresTotal.Inc()
			r.logger.Warn("Failed to write error report",
				zap.Error(werr),
				zap.String("reportedError", err.Error()),
				zap.String("severity", string(severity)),
			)
		}
	}()
}

// Wait ждет фоновые записи или истечения ctx.
func (r *FirestoreReporter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("error reports still in flight: %w", ctx.Err())
	}
}

func buildDocument(err error, severity interfaces.Severity, ec interfaces.ErrorContext, version string) map[string]any {
	errCtx := map[string]any{}
	if ec.UserID != "" {
		errCtx["userId"] = ec.UserID
	}
	if ec.Action != "" {
		errCtx["action"] = ec.Action
	}
	if len(ec.Metadata) > 0 {
		errCtx["metadata"] = ec.Metadata
	}
	return map[string]any{
		"message":    err.Error(),
		"error":      errorName(err),
		"severity":   string(severity),
		"context":    errCtx,
		"platform":   platformName,
		"appVersion": version,
		"resolved":   false,
	}
}
