package ocr

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockEngine 基于testify/mock的识别引擎，用于测试
type MockEngine struct {
	mock.Mock
}

// NewMockEngine 创建模拟引擎，测试结束时检查预期调用
func NewMockEngine(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEngine {
	m := &MockEngine{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Name 返回引擎名称
func (m *MockEngine) Name() string {
	args := m.Called()
	return args.String(0)
}

// Recognize 返回预设的识别结果
func (m *MockEngine) Recognize(ctx context.Context, image []byte) ([]byte, error) {
	args := m.Called(ctx, image)
	var raw []byte
	if v := args.Get(0); v != nil {
		raw = v.([]byte)
	}
	return raw, args.Error(1)
}
