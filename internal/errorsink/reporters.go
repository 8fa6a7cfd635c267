package errorsink

import (
	"context"

	"storyteller-server/internal/interfaces"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyteller_error_reports_total",
		Help: "Error reports sent to the error sink by severity.",
	}, []string{"severity"})
	sinkFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyteller_error_sink_failures_total",
		Help: "Error reports the sink failed to persist.",
	})
)

// LogReporter пишет отчеты в zap. Уровень зависит от severity.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter создает reporter поверх логгера.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger.Named("ErrorSink")}
}

func (r *LogReporter) Report(_ context.Context, err error, severity interfaces.Severity, ec interfaces.ErrorContext) {
	if err == nil {
		return
	}
	severity = resolveSeverity(err, severity, ec)
	fields := []zap.Field{
		zap.Error(err),
		zap.String("severity", string(severity)),
		zap.String("errorType", errorName(err)),
	}
	if ec.Action != "" {
		fields = append(fields, zap.String("action", ec.Action))
	}
	if ec.UserID != "" {
		fields = append(fields, zap.String("userID", ec.UserID))
	}
	if len(ec.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", ec.Metadata))
	}
	if ce := r.logger.Check(levelFor(severity), "Error reported"); ce != nil {
		ce.Write(fields...)
	}
}

func levelFor(s interfaces.Severity) zapcore.Level {
	switch s {
	case interfaces.SeverityCritical, interfaces.SeverityHigh:
		return zapcore.ErrorLevel
	case interfaces.SeverityMedium:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Multi рассылает отчет всем reporters. Паника одного не мешает остальным.
type Multi []interfaces.ErrorReporter

func (m Multi) Report(ctx context.Context, err error, severity interfaces.Severity, ec interfaces.ErrorContext) {
	if err == nil {
		return
	}
	severity = resolveSeverity(err, severity, ec)
	for _, r := range m {
		if r == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			r.Report(ctx, err, severity, ec)
		}()
	}
}

// Nop отбрасывает отчеты.
type Nop struct{}

func (Nop) Report(context.Context, error, interfaces.Severity, interfaces.ErrorContext) {}

var (
	_ interfaces.ErrorReporter = (*LogReporter)(nil)
	_ interfaces.ErrorReporter = Multi(nil)
	_ interfaces.ErrorReporter = Nop{}
)
