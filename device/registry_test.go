package device_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/brettbedarf/luxfs/device"
	"github.com/brettbedarf/luxfs/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	r := device.NewRegistry(nil)
	first := &mocks.MockOpener{}
	second := &mocks.MockOpener{}

	assert.True(t, r.Register("test", first))
	assert.False(t, r.Register("test", second), "duplicate registration keeps the first")

	o, err := r.Lookup("test")
	require.NoError(t, err)
	assert.Same(t, first, o)
}

func TestRegistry_Fallback(t *testing.T) {
	t.Parallel()

	t.Run("WithFallback", func(t *testing.T) {
		t.Parallel()
		fallback := &mocks.MockOpener{}
		r := device.NewRegistry(fallback)
		o, err := r.Lookup("1")
		require.NoError(t, err)
		assert.Same(t, fallback, o)
	})

	t.Run("WithoutFallback", func(t *testing.T) {
		t.Parallel()
		r := device.NewRegistry(nil)
		_, err := r.Lookup("1")
		assert.Error(t, err)
		_, err = r.Open("1", 0x23)
		assert.Error(t, err)
	})
}

func TestRegistry_OpenDelegates(t *testing.T) {
	t.Parallel()

	conn := &mocks.MockConn{}
	opener := &mocks.MockOpener{}
	opener.On("Open", "test", uint16(0x5c)).Return(conn, nil)
	failing := &mocks.MockOpener{}
	failing.On("Open", "bad", uint16(0x23)).Return(nil, errors.New("no bus"))

	r := device.NewRegistry(nil)
	r.Register("test", opener)
	r.Register("bad", failing)

	got, err := r.Open("test", 0x5c)
	require.NoError(t, err)
	assert.Same(t, conn, got)

	_, err = r.Open("bad", 0x23)
	assert.Error(t, err)

	opener.AssertExpectations(t)
	failing.AssertExpectations(t)
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()

	r := device.NewRegistry(nil)
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			bus := fmt.Sprintf("bus%d", i)
			opener := &mocks.MockOpener{}
			r.Register(bus, opener)
			o, err := r.Lookup(bus)
			assert.NoError(t, err)
			assert.Same(t, opener, o)
		})
	}
	wg.Wait()
}

func TestNewBuiltinRegistry(t *testing.T) {
	t.Parallel()

	r := device.NewBuiltinRegistry()

	o, err := r.Lookup(device.SimBus)
	require.NoError(t, err)
	assert.IsType(t, device.SimOpener{}, o)

	o, err = r.Lookup("1")
	require.NoError(t, err)
	assert.IsType(t, device.PeriphOpener{}, o)

	conn, err := r.Open(device.SimBus, 0x23)
	require.NoError(t, err)
	assert.IsType(t, &device.SimConn{}, conn)
}
