// Package errorsink отправляет отчеты об ошибках во внешнее хранилище (Firestore) и в лог.
package errorsink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/model"
)

// InferSeverity определяет важность ошибки, если вызывающий ее не указал.
func InferSeverity(err error, ec interfaces.ErrorContext) interfaces.Severity {
	if err == nil {
		return interfaces.SeverityLow
	}
	name := strings.ToLower(errorName(err) + " " + err.Error())

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr),
		containsAny(name, "network", "timeout", "connection"):
		return interfaces.SeverityMedium
	case errors.Is(err, model.ErrUnauthorized), errors.Is(err, model.ErrForbidden),
		containsAny(name, "permission", "unauthorized", "forbidden"):
		return interfaces.SeverityHigh
	case containsAny(name, "critical", "fatal"), ec.Action == "payment", ec.Action == "auth":
		return interfaces.SeverityCritical
	}
	return interfaces.SeverityLow
}

// errorName - имя конкретного типа ошибки, например "*model.GenerationError".
func errorName(err error) string {
	return fmt.Sprintf("%T", err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func resolveSeverity(err error, severity interfaces.Severity, ec interfaces.ErrorContext) interfaces.Severity {
	if severity != "" {
		return severity
	}
	return InferSeverity(err, ec)
}
