package interfaces

import "context"

// Severity - важность ошибки для error sink.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorContext - структурированный контекст отчета об ошибке.
type ErrorContext struct {
	Action   string
	Metadata map[string]any
	UserID   string
}

// ErrorReporter - fire-and-forget приемник ошибок. Report не блокирует и не паникует.
// Пустая severity означает автоматическое определение.
type ErrorReporter interface {
	Report(ctx context.Context, err error, severity Severity, ec ErrorContext)
}
