package xdlock

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"
)

// MockLockHandle 是 LockHandle 的 gomock 实现，用于编排 Extend 的返回序列。
type MockLockHandle struct {
	ctrl     *gomock.Controller
	recorder *MockLockHandleMockRecorder
}

// MockLockHandleMockRecorder 记录 MockLockHandle 的期望调用。
type MockLockHandleMockRecorder struct {
	mock *MockLockHandle
}

// NewMockLockHandle 创建 mock。
func NewMockLockHandle(ctrl *gomock.Controller) *MockLockHandle {
	mock := &MockLockHandle{ctrl: ctrl}
	mock.recorder = &MockLockHandleMockRecorder{mock}
	return mock
}

// EXPECT 返回用于声明期望调用的 recorder。
func (m *MockLockHandle) EXPECT() *MockLockHandleMockRecorder {
	return m.recorder
}

func (m *MockLockHandle) Extend(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Extend", ctx)
	ret0, _ := ret[0].(error)
	return ret0
}

func (mr *MockLockHandleMockRecorder) Extend(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Extend", reflect.TypeOf((*MockLockHandle)(nil).Extend), ctx)
}

func (m *MockLockHandle) Key() string {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Key")
	ret0, _ := ret[0].(string)
	return ret0
}

func (mr *MockLockHandleMockRecorder) Key() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Key", reflect.TypeOf((*MockLockHandle)(nil).Key))
}

func (m *MockLockHandle) Unlock(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Unlock", ctx)
	ret0, _ := ret[0].(error)
	return ret0
}

func (mr *MockLockHandleMockRecorder) Unlock(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Unlock", reflect.TypeOf((*MockLockHandle)(nil).Unlock), ctx)
}

var _ LockHandle = (*MockLockHandle)(nil)
