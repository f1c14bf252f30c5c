package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fable-server/internal/models"
	"fable-server/internal/storage"
)

// MockSessionRepository is a mock type for the SessionRepository type
type MockSessionRepository struct {
	mock.Mock
}

// Get provides a mock function with given fields: ctx, sessionID
func (_m *MockSessionRepository) Get(ctx context.Context, sessionID string) (*models.SessionState, error) {
	ret := _m.Called(ctx, sessionID)

	var r0 *models.SessionState
	if rf, ok := ret.Get(0).(func(context.Context, string) *models.SessionState); ok {
		r0 = rf(ctx, sessionID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*models.SessionState)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, sessionID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Set provides a mock function with given fields: ctx, sessionID, state
func (_m *MockSessionRepository) Set(ctx context.Context, sessionID string, state *models.SessionState) error {
	ret := _m.Called(ctx, sessionID, state)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, *models.SessionState) error); ok {
		r0 = rf(ctx, sessionID, state)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Reset provides a mock function with given fields: ctx, sessionID
func (_m *MockSessionRepository) Reset(ctx context.Context, sessionID string) error {
	ret := _m.Called(ctx, sessionID)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string) error); ok {
		r0 = rf(ctx, sessionID)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockSessionRepository creates a new instance of MockSessionRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockSessionRepository(t interface {
	mock.TestingT
	Helper()
}) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ storage.SessionRepository = (*MockSessionRepository)(nil)
