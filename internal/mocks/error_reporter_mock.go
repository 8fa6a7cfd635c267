package mocks

import (
	"context"

	"storyteller-server/internal/interfaces"

	"github.com/stretchr/testify/mock"
)

// MockErrorReporter is a mock type for the ErrorReporter type
type MockErrorReporter struct {
	mock.Mock
}

// Report provides a mock function with given fields: ctx, err, severity, ec
func (_m *MockErrorReporter) Report(ctx context.Context, err error, severity interfaces.Severity, ec interfaces.ErrorContext) {
	_m.Called(ctx, err, severity, ec)
}

// NewMockErrorReporter creates a new instance of MockErrorReporter. It also registers a testing interface on the mock.
func NewMockErrorReporter(t interface {
	mock.TestingT
	Helper()
}) *MockErrorReporter {
	m := &MockErrorReporter{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.ErrorReporter = (*MockErrorReporter)(nil)
