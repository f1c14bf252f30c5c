package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fable-server/internal/ai"
)

// MockStructuredInvoker is a mock type for the StructuredInvoker type
type MockStructuredInvoker struct {
	mock.Mock
}

// GenerateStructured provides a mock function with given fields: ctx, call
func (_m *MockStructuredInvoker) GenerateStructured(ctx context.Context, call ai.Call) error {
	ret := _m.Called(ctx, call)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, ai.Call) error); ok {
		r0 = rf(ctx, call)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockStructuredInvoker creates a new instance of MockStructuredInvoker. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockStructuredInvoker(t interface {
	mock.TestingT
	Helper()
}) *MockStructuredInvoker {
	m := &MockStructuredInvoker{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.StructuredInvoker = (*MockStructuredInvoker)(nil)
