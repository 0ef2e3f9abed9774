package mocks

import (
	"context"

	"github.com/brettbedarf/luxfs/device"
	"github.com/stretchr/testify/mock"
)

// MockConn implements device.Conn for testing across packages
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Write(ctx context.Context, tx []byte) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockConn) Read(ctx context.Context, count int) ([]byte, error) {
	args := m.Called(ctx, count)

	// Handle function return types (for sequenced samples)
	if fn, ok := args.Get(0).(func(context.Context, int) []byte); ok {
		return fn(ctx, count), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ device.Conn = (*MockConn)(nil)

// MockOpener implements device.Opener for testing across packages
type MockOpener struct {
	mock.Mock
}

func (m *MockOpener) Open(bus string, addr uint16) (device.Conn, error) {
	args := m.Called(bus, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(device.Conn), args.Error(1)
}

var _ device.Opener = (*MockOpener)(nil)
