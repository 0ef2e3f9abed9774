//go:build linux

package device_test

import (
	"testing"

	"github.com/brettbedarf/luxfs/device"
	"github.com/stretchr/testify/assert"
)

func TestDevNodePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/dev/i2c-1", device.DevNodePath("1"))
	assert.Equal(t, "/dev/i2c-23", device.DevNodePath("23"))
	assert.Empty(t, device.DevNodePath("I2C1"), "named buses are resolved by periph")
	assert.Empty(t, device.DevNodePath(device.SimBus))
}
