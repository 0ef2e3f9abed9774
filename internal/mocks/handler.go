package mocks

import (
	"context"

	"github.com/brettbedarf/luxfs"
	"github.com/stretchr/testify/mock"
)

// MockFileHandler implements luxfs.FileHandler for testing across packages
type MockFileHandler struct {
	mock.Mock
}

func (m *MockFileHandler) HandleRead(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)

	if fn, ok := args.Get(0).(func(context.Context) []byte); ok {
		return fn(ctx), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

var _ luxfs.FileHandler = (*MockFileHandler)(nil)

// MockLuxReader implements handlers.LuxReader for testing across packages
type MockLuxReader struct {
	mock.Mock
}

func (m *MockLuxReader) ReadLux(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
