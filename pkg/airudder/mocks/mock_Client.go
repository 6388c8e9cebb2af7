// Package mocks provides test doubles for the airudder client.
package mocks

import (
	"context"

	airudder "github.com/sells-group/dialer-cli/pkg/airudder"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// CreateTask provides a mock function with given fields: ctx, req
func (_m *MockClient) CreateTask(ctx context.Context, req airudder.CreateTaskRequest) (*airudder.CreateTaskResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for CreateTask")
	}

	var r0 *airudder.CreateTaskResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, airudder.CreateTaskRequest) (*airudder.CreateTaskResponse, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, airudder.CreateTaskRequest) *airudder.CreateTaskResponse); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*airudder.CreateTaskResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, airudder.CreateTaskRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// ListTaskCalls provides a mock function with given fields: ctx, req
func (_m *MockClient) ListTaskCalls(ctx context.Context, req airudder.ListCallsRequest) (*airudder.ListCallsResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for ListTaskCalls")
	}

	var r0 *airudder.ListCallsResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, airudder.ListCallsRequest) (*airudder.ListCallsResponse, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, airudder.ListCallsRequest) *airudder.ListCallsResponse); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*airudder.ListCallsResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, airudder.ListCallsRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
