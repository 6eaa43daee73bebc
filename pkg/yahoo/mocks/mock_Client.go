// Package mocks provides test doubles for the yahoo client.
package mocks

import (
	"context"

	yahoo "github.com/sells-group/equity-research/pkg/yahoo"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Quote provides a mock function with given fields: ctx, ticker
func (_m *MockClient) Quote(ctx context.Context, ticker string) (*yahoo.Quote, error) {
	ret := _m.Called(ctx, ticker)

	if len(ret) == 0 {
		panic("no return value specified for Quote")
	}

	var r0 *yahoo.Quote
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*yahoo.Quote, error)); ok {
		return rf(ctx, ticker)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*yahoo.Quote)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// History provides a mock function with given fields: ctx, ticker, days
func (_m *MockClient) History(ctx context.Context, ticker string, days int) ([]yahoo.Bar, error) {
	ret := _m.Called(ctx, ticker, days)

	if len(ret) == 0 {
		panic("no return value specified for History")
	}

	var r0 []yahoo.Bar
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, int) ([]yahoo.Bar, error)); ok {
		return rf(ctx, ticker, days)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]yahoo.Bar)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
