package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fable-server/internal/images"
)

// MockRenderer is a mock type for the Renderer type
type MockRenderer struct {
	mock.Mock
}

// Render provides a mock function with given fields: ctx, prompt, format, pro
func (_m *MockRenderer) Render(ctx context.Context, prompt string, format string, pro bool) (string, string, error) {
	ret := _m.Called(ctx, prompt, format, pro)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, string, bool) string); ok {
		r0 = rf(ctx, prompt, format, pro)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(string)
		}
	}

	var r1 string
	if rf, ok := ret.Get(1).(func(context.Context, string, string, bool) string); ok {
		r1 = rf(ctx, prompt, format, pro)
	} else {
		if ret.Get(1) != nil {
			r1 = ret.Get(1).(string)
		}
	}

	var r2 error
	if rf, ok := ret.Get(2).(func(context.Context, string, string, bool) error); ok {
		r2 = rf(ctx, prompt, format, pro)
	} else {
		r2 = ret.Error(2)
	}

	return r0, r1, r2
}

// NewMockRenderer creates a new instance of MockRenderer. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockRenderer(t interface {
	mock.TestingT
	Helper()
}) *MockRenderer {
	m := &MockRenderer{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ images.Renderer = (*MockRenderer)(nil)
