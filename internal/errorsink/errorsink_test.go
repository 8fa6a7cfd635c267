package errorsink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/mocks"
	"storyteller-server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	mu    sync.Mutex
	docs  []map[string]any
	colls []string
	err   error
	panic bool
}

func (w *fakeWriter) Add(_ context.Context, collection string, data map[string]any) error {
	if w.panic {
		panic("firestore exploded")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.colls = append(w.colls, collection)
	w.docs = append(w.docs, data)
	return w.err
}

func TestInferSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		ec   interfaces.ErrorContext
		want interfaces.Severity
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), interfaces.ErrorContext{}, interfaces.SeverityMedium},
		{"connection in message", errors.New("dial tcp: connection refused"), interfaces.ErrorContext{}, interfaces.SeverityMedium},
		{"unauthorized sentinel", fmt.Errorf("verify: %w", model.ErrUnauthorized), interfaces.ErrorContext{}, interfaces.SeverityHigh},
		{"permission in message", errors.New("permission denied"), interfaces.ErrorContext{}, interfaces.SeverityHigh},
		{"fatal", errors.New("fatal: disk full"), interfaces.ErrorContext{}, interfaces.SeverityCritical},
		{"auth action", errors.New("boom"), interfaces.ErrorContext{Action: "auth"}, interfaces.SeverityCritical},
		{"payment action", errors.New("boom"), interfaces.ErrorContext{Action: "payment"}, interfaces.SeverityCritical},
		{"plain", errors.New("something odd"), interfaces.ErrorContext{Action: "generate_story"}, interfaces.SeverityLow},
		{"nil", nil, interfaces.ErrorContext{}, interfaces.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferSeverity(tt.err, tt.ec))
		})
	}
}

func TestFirestoreReporterWritesDocument(t *testing.T) {
	w := &fakeWriter{}
	r := newFirestoreReporter(w, "", "1.2.3", zap.NewNop())

	r.Report(context.Background(), &model.GenerationError{Kind: model.GenerationTerminal, Message: "Unexpected status code: 404"},
		interfaces.SeverityMedium,
		interfaces.ErrorContext{Action: "generate_story", UserID: "owner-1", Metadata: map[string]any{"attempt": 1}})
	require.NoError(t, r.Wait(context.Background()))

	require.Len(t, w.docs, 1)
	assert.Equal(t, DefaultCollection, w.colls[0])
	doc := w.docs[0]
	assert.Equal(t, "medium", doc["severity"])
	assert.Equal(t, "*model.GenerationError", doc["error"])
	assert.Equal(t, "1.2.3", doc["appVersion"])
	assert.Equal(t, false, doc["resolved"])
	ctxDoc := doc["context"].(map[string]any)
	assert.Equal(t, "owner-1", ctxDoc["userId"])
	assert.Equal(t, "generate_story", ctxDoc["action"])
	assert.Equal(t, map[string]any{"attempt": 1}, ctxDoc["metadata"])
}

func TestFirestoreReporterInfersSeverity(t *testing.T) {
	w := &fakeWriter{}
	r := newFirestoreReporter(w, "app_errors", "", zap.NewNop())

	r.Report(context.Background(), errors.New("network is unreachable"), "", interfaces.ErrorContext{})
	require.NoError(t, r.Wait(context.Background()))

	require.Len(t, w.docs, 1)
	assert.Equal(t, "app_errors", w.colls[0])
	assert.Equal(t, "medium", w.docs[0]["severity"])
}

func TestFirestoreReporterSwallowsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	failing := newFirestoreReporter(&fakeWriter{err: errors.New("quota exceeded")}, "", "", zap.New(core))
	panicking := newFirestoreReporter(&fakeWriter{panic: true}, "", "", zap.New(core))

	assert.NotPanics(t, func() {
		failing.Report(context.Background(), errors.New("x"), interfaces.SeverityLow, interfaces.ErrorContext{})
		panicking.Report(context.Background(), errors.New("y"), interfaces.SeverityLow, interfaces.ErrorContext{})
	})
	require.NoError(t, failing.Wait(context.Background()))
	require.NoError(t, panicking.Wait(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("Failed to write error report").Len())
	assert.Equal(t, 1, logs.FilterMessage("Panic while writing error report").Len())
}

func TestFirestoreReporterDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	w := &blockingWriter{release: block}
	r := newFirestoreReporter(w, "", "", zap.NewNop())

	start := time.Now()
	r.Report(context.Background(), errors.New("slow sink"), interfaces.SeverityLow, interfaces.ErrorContext{})
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Wait(ctx))

	close(block)
	require.NoError(t, r.Wait(context.Background()))
}

type blockingWriter struct{ release chan struct{} }

func (w *blockingWriter) Add(ctx context.Context, _ string, _ map[string]any) error {
	<-w.release
	return nil
}

func TestLogReporterLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewLogReporter(zap.New(core))

	r.Report(context.Background(), errors.New("a"), interfaces.SeverityLow, interfaces.ErrorContext{})
	r.Report(context.Background(), errors.New("b"), interfaces.SeverityMedium, interfaces.ErrorContext{Action: "generate_story"})
	r.Report(context.Background(), errors.New("c"), interfaces.SeverityCritical, interfaces.ErrorContext{UserID: "u"})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "generate_story", entries[1].ContextMap()["action"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "critical", entries[2].ContextMap()["severity"])
}

type panickingReporter struct{}

func (panickingReporter) Report(context.Context, error, interfaces.Severity, interfaces.ErrorContext) {
	panic("reporter down")
}

func TestMultiFansOutAndResolvesSeverityOnce(t *testing.T) {
	first := mocks.NewMockErrorReporter(t)
	second := mocks.NewMockErrorReporter(t)
	err := errors.New("request timeout")
	ec := interfaces.ErrorContext{Action: "generate_story"}

	first.On("Report", mock.Anything, err, interfaces.SeverityMedium, ec).Once()
	second.On("Report", mock.Anything, err, interfaces.SeverityMedium, ec).Once()

	m := Multi{first, panickingReporter{}, nil, second}
	assert.NotPanics(t, func() {
		m.Report(context.Background(), err, "", ec)
	})
	m.Report(context.Background(), nil, interfaces.SeverityHigh, ec)

	first.AssertExpectations(t)
	second.AssertExpectations(t)
}
