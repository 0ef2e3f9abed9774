//go:build linux

package device

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/brettbedarf/luxfs/internal/util"
	"golang.org/x/sys/unix"
)

// DevNodePath returns the character device for a numeric bus name, or ""
// for names periph resolves by itself (e.g. "I2C1").
func DevNodePath(bus string) string {
	if _, err := strconv.Atoi(bus); err != nil {
		return ""
	}
	return "/dev/i2c-" + bus
}

// ensureDevNode loads the i2c-dev driver when the bus node has not been
// created yet. The driver exposes every adapter under /dev.
func ensureDevNode(bus string) error {
	path := DevNodePath(bus)
	if path == "" || unix.Access(path, unix.F_OK) == nil {
		return nil
	}

	logger := util.GetLogger("device.ensureDevNode")
	logger.Info().Str("path", path).Msg("Bus device node missing, loading i2c-dev")
	if out, err := exec.Command("modprobe", "i2c-dev").CombinedOutput(); err != nil {
		return fmt.Errorf("modprobe i2c-dev: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if err := unix.Access(path, unix.F_OK); err != nil {
		return fmt.Errorf("bus device %s: %w", path, err)
	}
	return nil
}
