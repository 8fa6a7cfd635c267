package mocks

import (
	"context"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/model"

	"github.com/stretchr/testify/mock"
)

// MockJobEventPublisher is a mock type for the JobEventPublisher type
type MockJobEventPublisher struct {
	mock.Mock
}

// PublishJobEvent provides a mock function with given fields: ctx, event
func (_m *MockJobEventPublisher) PublishJobEvent(ctx context.Context, event model.JobEvent) error {
	ret := _m.Called(ctx, event)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, model.JobEvent) error); ok {
		r0 = rf(ctx, event)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockJobEventPublisher creates a new instance of MockJobEventPublisher.
func NewMockJobEventPublisher(t interface {
	mock.TestingT
	Helper()
}) *MockJobEventPublisher {
	m := &MockJobEventPublisher{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.JobEventPublisher = (*MockJobEventPublisher)(nil)
