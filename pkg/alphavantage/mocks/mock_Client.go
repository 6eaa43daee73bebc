// Package mocks provides test doubles for the alphavantage client.
package mocks

import (
	"context"

	alphavantage "github.com/sells-group/equity-research/pkg/alphavantage"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Fetch provides a mock function with given fields: ctx, ticker
func (_m *MockClient) Fetch(ctx context.Context, ticker string) (*alphavantage.Result, error) {
	ret := _m.Called(ctx, ticker)

	if len(ret) == 0 {
		panic("no return value specified for Fetch")
	}

	var r0 *alphavantage.Result
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*alphavantage.Result, error)); ok {
		return rf(ctx, ticker)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*alphavantage.Result)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// News provides a mock function with given fields: ctx, ticker, limit
func (_m *MockClient) News(ctx context.Context, ticker string, limit int) ([]alphavantage.Article, error) {
	ret := _m.Called(ctx, ticker, limit)

	if len(ret) == 0 {
		panic("no return value specified for News")
	}

	var r0 []alphavantage.Article
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, int) ([]alphavantage.Article, error)); ok {
		return rf(ctx, ticker, limit)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]alphavantage.Article)
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
