package mocks

import (
	"context"
	"io"
	"time"

	"storyteller-server/internal/interfaces"

	"github.com/stretchr/testify/mock"
)

// MockMediaStorage is a mock type for the MediaStorage type
type MockMediaStorage struct {
	mock.Mock
}

// Upload provides a mock function with given fields: ctx, objectPath, r, size, contentType
func (_m *MockMediaStorage) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	ret := _m.Called(ctx, objectPath, r, size, contentType)
	return ret.Error(0)
}

// PresignedURL provides a mock function with given fields: ctx, objectPath, ttl
func (_m *MockMediaStorage) PresignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	ret := _m.Called(ctx, objectPath, ttl)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, time.Duration) string); ok {
		r0 = rf(ctx, objectPath, ttl)
	} else {
		r0 = ret.String(0)
	}

	return r0, ret.Error(1)
}

// Delete provides a mock function with given fields: ctx, objectPath
func (_m *MockMediaStorage) Delete(ctx context.Context, objectPath string) error {
	ret := _m.Called(ctx, objectPath)
	return ret.Error(0)
}

// NewMockMediaStorage creates a new instance of MockMediaStorage.
func NewMockMediaStorage(t interface {
	mock.TestingT
	Helper()
}) *MockMediaStorage {
	m := &MockMediaStorage{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.MediaStorage = (*MockMediaStorage)(nil)
